package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"brokerdesk/internal/handlers"
	"brokerdesk/internal/metrics"
	"brokerdesk/internal/middleware"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Submissions *handlers.SubmissionHandler
	Documents   *handlers.DocumentHandler
	Moderation  *handlers.ModerationHandler
	Preferences *handlers.PreferenceHandler
	// Health reports readiness; nil means always healthy.
	Health func(ctx context.Context) error
}

type Options struct {
	RequestTimeout  time.Duration // default: 15s
	GenerateTimeout time.Duration // default: 5m, covers retries and fallback
	MaxBodyBytes    int64         // default: 512 KB
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 15 * time.Second
	}
	if o.GenerateTimeout <= 0 {
		o.GenerateTimeout = 5 * time.Minute
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 512 * 1024
	}
	return o
}

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, h Handlers, opts Options) {
	opts = opts.withDefaults()

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())                    // panic recovery
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes)) // body limit

	r.Route("/v1", func(r chi.Router) {
		// generation waits on upstream retries, so it gets its own budget
		r.With(middleware.Timeout(opts.GenerateTimeout)).
			Post("/submissions/{id}/documents/{kind}", h.Documents.Generate)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(opts.RequestTimeout))

			r.Get("/questionnaire", h.Submissions.GetQuestionnaire)

			r.Post("/submissions", h.Submissions.Create)
			r.Get("/submissions", h.Submissions.List)
			r.Get("/submissions/{id}", h.Submissions.Get)
			r.Put("/submissions/{id}", h.Submissions.Update)
			r.Post("/submissions/{id}/submit", h.Submissions.Submit)
			r.Get("/submissions/{id}/documents", h.Documents.List)
			r.Get("/submissions/{id}/documents/{kind}/latest", h.Documents.Latest)

			r.Get("/documents/{id}", h.Documents.Get)
			r.Get("/documents/{id}/html", h.Documents.HTML)

			r.Get("/moderation/queue", h.Moderation.Queue)
			r.Post("/moderation/{id}/approve", h.Moderation.Approve)
			r.Post("/moderation/{id}/reject", h.Moderation.Reject)
			r.Get("/teasers", h.Moderation.Published)

			r.Get("/preferences/provider", h.Preferences.Get)
			r.Put("/preferences/provider", h.Preferences.Put)
			r.Delete("/preferences/provider", h.Preferences.Delete)
		})
	})

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if h.Health != nil {
			if err := h.Health(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("unavailable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
