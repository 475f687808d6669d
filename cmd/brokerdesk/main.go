package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"brokerdesk/internal/cache"
	"brokerdesk/internal/completion"
	"brokerdesk/internal/documents"
	"brokerdesk/internal/forms"
	"brokerdesk/internal/handlers"
	"brokerdesk/internal/httpserver"
	"brokerdesk/internal/metrics"
	"brokerdesk/internal/moderation"
	"brokerdesk/internal/preference"
	"brokerdesk/internal/store"
	"brokerdesk/pkg/logging/logging"
)

type Config struct {
	Port            string
	DBPath          string
	CacheBackend    string // "memory" or "redis"
	CacheTTL        time.Duration
	VersionID       string
	RedisAddr       string
	DefaultProvider completion.Provider
	MaxRetries      int
	GenerateTimeout time.Duration
	Providers       map[completion.Provider]completion.ProviderConfig
}

func LoadConfig() (Config, error) {
	defaultProvider, err := completion.ParseProvider(getenv("DEFAULT_PROVIDER", "openai"))
	if err != nil {
		return Config{}, fmt.Errorf("DEFAULT_PROVIDER: %w", err)
	}

	cfg := Config{
		Port:            getenv("PORT", "8080"),
		DBPath:          getenv("DB_PATH", "data/brokerdesk.db"),
		CacheBackend:    getenv("CACHE_BACKEND", "memory"),
		CacheTTL:        getDuration("CACHE_TTL", 5*time.Minute),
		VersionID:       getenv("COMPLETION_CACHE_VERSION", "v1"),
		RedisAddr:       getenv("REDIS_ADDR", "127.0.0.1:6379"),
		DefaultProvider: defaultProvider,
		MaxRetries:      getInt("COMPLETION_MAX_RETRIES", 3),
		GenerateTimeout: getDuration("GENERATE_TIMEOUT", 5*time.Minute),
		Providers: map[completion.Provider]completion.ProviderConfig{
			completion.ProviderOpenAI:   providerConfig("OPENAI", "https://api.openai.com", "gpt-4o-mini", completion.StyleChat),
			completion.ProviderDeepSeek: providerConfig("DEEPSEEK", "https://api.deepseek.com/beta", "deepseek-chat", completion.StyleCompletions),
		},
	}
	return cfg, nil
}

// providerConfig reads <PREFIX>_BASE_URL, _API_KEY, _MODEL, _STYLE,
// _MAX_TOKENS_SHORT, _MAX_TOKENS_LONG, _TEMPERATURE and _TOP_P. A missing key
// is allowed; calls to that provider then fail validation.
func providerConfig(prefix, baseURL, model string, style completion.Style) completion.ProviderConfig {
	return completion.ProviderConfig{
		BaseURL:        getenv(prefix+"_BASE_URL", baseURL),
		APIKey:         os.Getenv(prefix + "_API_KEY"),
		Model:          getenv(prefix+"_MODEL", model),
		Style:          completion.Style(getenv(prefix+"_STYLE", string(style))),
		MaxTokensShort: getInt(prefix+"_MAX_TOKENS_SHORT", 0),
		MaxTokensLong:  getInt(prefix+"_MAX_TOKENS_LONG", 0),
		Temperature:    getFloat(prefix+"_TEMPERATURE", 0),
		TopP:           getFloat(prefix+"_TOP_P", 0),
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("brokerdesk exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("db_path", cfg.DBPath),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.String("redis_addr", cfg.RedisAddr),
		zap.String("default_provider", string(cfg.DefaultProvider)),
		zap.Int("max_retries", cfg.MaxRetries),
	)

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.CacheBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		defer redisClient.Close()

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.RedisAddr),
		)
	}

	// ----- Cache: completions and provider preferences -----
	cacheStore := cache.NewStore(cache.Config{
		Backend: cfg.CacheBackend,
		TTL:     cfg.CacheTTL,
		Prefix:  "brokerdesk",
	}, redisClient)
	if closer, ok := cacheStore.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	cacheStore = cache.NewLoggingStore(cacheStore)

	prefs := preference.NewStore(cacheStore, cfg.DefaultProvider, preference.DefaultTTL)

	// ----- Database -----
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	// ----- Completion client -----
	client, err := completion.NewClient(completion.Config{Providers: cfg.Providers}, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	for _, p := range completion.Providers {
		if !client.Configured(p) {
			logger.Warn("provider has no API key; calls to it will fail and it cannot serve as fallback",
				zap.String("provider", string(p)),
			)
		}
	}

	completer := cache.NewCachingCompleter(client, cacheStore, cfg.CacheTTL, cfg.VersionID)

	// ----- Services -----
	questionnaire, err := forms.Default()
	if err != nil {
		return err
	}
	docs := documents.NewService(db, completer, questionnaire, cfg.MaxRetries)
	mod := moderation.NewService(db)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, httpserver.Handlers{
		Submissions: handlers.NewSubmissionHandler(db, questionnaire),
		Documents:   handlers.NewDocumentHandler(docs, prefs),
		Moderation:  handlers.NewModerationHandler(mod),
		Preferences: handlers.NewPreferenceHandler(prefs),
		Health:      db.Ping,
	}, httpserver.Options{GenerateTimeout: cfg.GenerateTimeout})

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.GenerateTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting brokerdesk",
			zap.String("addr", srv.Addr),
			zap.String("cache_backend", cfg.CacheBackend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// ----- Graceful shutdown -----
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
			return err
		}
		logger.Info("server shutdown complete")
		return nil
	})

	return g.Wait()
}

// getenv returns the value of the environment variable key or def if not set.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return def
}
