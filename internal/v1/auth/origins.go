// Package auth holds connection-admission checks for the signaling channel.
// The control plane trusts client-supplied identifiers; the only gate at the
// door is the browser origin allowlist.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/telemeet/sfu/internal/v1/logging"
)

// GetAllowedOrigins parses a comma-separated origin allowlist, falling back
// to the given defaults when the value is empty.
func GetAllowedOrigins(value string, defaults []string) []string {
	if value == "" {
		return defaults
	}

	var origins []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			origins = append(origins, part)
		}
	}
	if len(origins) == 0 {
		return defaults
	}
	return origins
}

// ValidateOrigin checks if the request origin is in the allowed list.
// Requests without an Origin header (non-browser clients) are allowed.
func ValidateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.GetLogger().Debug("No origin header - allowing non-browser client")
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		logging.Warn(context.Background(), "Invalid origin URL", zap.String("origin", origin), zap.Error(err))
		return fmt.Errorf("invalid origin URL: %w", err)
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	logging.Warn(context.Background(), "Origin not in allowed list",
		zap.String("origin", origin), zap.Strings("allowedOrigins", allowedOrigins))
	return fmt.Errorf("origin not allowed: %s", origin)
}
