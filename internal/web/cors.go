package web

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errWildcardOrigin      = errors.New("cors: wildcard origin not allowed when credentials are enabled")
	errEmptyAllowedOrigins = errors.New("cors: no explicit origins provided")
	errInvalidOrigin       = errors.New("cors: invalid origin format")
)

// ConfigureCORS lets a separately hosted frontend read /session and /playlists with the session cookie.
func ConfigureCORS(logger *zap.Logger, allowedOrigins []string) (gin.HandlerFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins, err := normalizeOrigins(logger, allowedOrigins)
	if err != nil {
		return nil, err
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Accept", "Content-Type"},
		ExposeHeaders:    []string{"Content-Type", "Location"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}), nil
}

func normalizeOrigins(logger *zap.Logger, allowed []string) ([]string, error) {
	seen := make(map[string]struct{}, len(allowed))
	normalized := make([]string, 0, len(allowed))
	for _, candidate := range allowed {
		trimmed := strings.TrimSpace(candidate)
		if trimmed == "" {
			continue
		}
		origin, hostname, err := normalizeOrigin(trimmed)
		if err != nil {
			return nil, err
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		if strings.HasPrefix(origin, "http://") && hostname != "localhost" && hostname != "127.0.0.1" {
			logger.Warn("unsafe cors origin configured",
				zap.String("code", "cors.origin.unsafe"),
				zap.String("origin", origin))
		}
		seen[origin] = struct{}{}
		normalized = append(normalized, origin)
	}
	if len(normalized) == 0 {
		return nil, errEmptyAllowedOrigins
	}
	sort.Strings(normalized)
	return normalized, nil
}

func normalizeOrigin(raw string) (string, string, error) {
	if raw == "*" {
		return "", "", errWildcardOrigin
	}
	parsed, parseErr := url.Parse(raw)
	if parseErr != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", "", fmt.Errorf("%w: %s", errInvalidOrigin, raw)
	}
	if (parsed.Path != "" && parsed.Path != "/") || parsed.RawQuery != "" || parsed.Fragment != "" {
		return "", "", fmt.Errorf("%w: %s must be scheme and host only", errInvalidOrigin, raw)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "https" && scheme != "http" {
		return "", "", fmt.Errorf("%w: %s uses unsupported scheme", errInvalidOrigin, raw)
	}
	return scheme + "://" + strings.ToLower(parsed.Host), strings.ToLower(parsed.Hostname()), nil
}
