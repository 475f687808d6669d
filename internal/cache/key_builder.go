package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"brokerdesk/internal/completion"
)

// BuildCompletionKey hashes the provider, retry budget and the JSON form of
// req into a CompletionKey. versionID lets a deploy invalidate old entries.
func BuildCompletionKey(
	req *completion.Request,
	provider completion.Provider,
	maxRetries int,
	versionID string,
) (CompletionKey, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return CompletionKey{}, err
	}

	normalized := "provider:" + string(provider) +
		"|retries:" + strconv.Itoa(maxRetries) +
		"|body:" + string(body)

	sum := sha256.Sum256([]byte(normalized))

	return CompletionKey{
		Provider:  string(provider),
		VersionID: strings.TrimSpace(versionID),
		Hash:      hex.EncodeToString(sum[:]),
	}, nil
}
