package oauthkit

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/spotlist/pkg/sessioncookie"
	"go.uber.org/zap"
)

// Route paths served by MountOAuthRoutes.
const (
	LoginPath        = "/login"
	CallbackPath     = "/callback"
	PlaylistsPath    = "/playlists"
	RefreshTokenPath = "/refresh-token"
	SessionPath      = "/session"
)

// MountOAuthRoutes registers /login, /callback, /playlists, /refresh-token, and /session.
func MountOAuthRoutes(router gin.IRouter, configuration ServerConfig, tokens *TokenSession, codec *sessioncookie.Codec, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionRoutes := router.Group("", EnsureSession(configuration, codec, logger))

	sessionRoutes.GET(LoginPath, func(contextGin *gin.Context) {
		contextGin.Redirect(http.StatusFound, tokens.AuthorizationURL())
	})

	sessionRoutes.GET(CallbackPath, func(contextGin *gin.Context) {
		completeErr := tokens.CompleteAuthorization(contextGin.Request.Context(), SessionIDFromContext(contextGin), contextGin.Request.URL.Query())
		if completeErr == nil {
			contextGin.Redirect(http.StatusFound, PlaylistsPath)
			return
		}
		var deniedErr *ProviderDeniedError
		switch {
		case errors.As(completeErr, &deniedErr):
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": deniedErr.Reason})
		case errors.Is(completeErr, ErrMalformedCallback):
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed_callback"})
		case errors.Is(completeErr, ErrTokenExchangeFailed):
			contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "token_exchange_failed"})
		default:
			logger.Error("callback session write failed",
				zap.String("code", "oauth.callback.store_error"),
				zap.Error(completeErr))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session_store_error"})
		}
	})

	sessionRoutes.GET(PlaylistsPath, func(contextGin *gin.Context) {
		state, status, inspectErr := tokens.Inspect(contextGin.Request.Context(), SessionIDFromContext(contextGin))
		if inspectErr != nil {
			logger.Error("session lookup failed",
				zap.String("code", "oauth.playlists.store_error"),
				zap.Error(inspectErr))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session_store_error"})
			return
		}
		switch status {
		case StatusLoggedOut:
			contextGin.Redirect(http.StatusFound, LoginPath)
			return
		case StatusExpired:
			logger.Info("access token expired; redirecting to refresh",
				zap.String("code", "oauth.playlists.expired"))
			contextGin.Redirect(http.StatusFound, RefreshTokenPath)
			return
		}

		payload, fetchErr := tokens.FetchPlaylists(contextGin.Request.Context(), state.AccessToken)
		if fetchErr != nil {
			var upstreamErr *UpstreamAPIError
			if errors.As(fetchErr, &upstreamErr) {
				contentType := upstreamErr.ContentType
				if contentType == "" {
					contentType = "application/json; charset=utf-8"
				}
				contextGin.Data(upstreamErr.StatusCode, contentType, upstreamErr.Body)
				contextGin.Abort()
				return
			}
			logger.Warn("playlists request failed",
				zap.String("code", "spotify.playlists.transport_error"),
				zap.Error(fetchErr))
			contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "upstream_api_error"})
			return
		}
		contextGin.Data(http.StatusOK, "application/json; charset=utf-8", payload)
	})

	sessionRoutes.GET(RefreshTokenPath, func(contextGin *gin.Context) {
		result, _, ensureErr := tokens.EnsureFreshToken(contextGin.Request.Context(), SessionIDFromContext(contextGin))
		if ensureErr != nil {
			if errors.Is(ensureErr, ErrTokenExchangeFailed) {
				contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "token_exchange_failed"})
				return
			}
			logger.Error("token refresh failed",
				zap.String("code", "oauth.refresh.store_error"),
				zap.Error(ensureErr))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session_store_error"})
			return
		}
		if result == ResultUnauthenticated {
			contextGin.Redirect(http.StatusFound, LoginPath)
			return
		}
		contextGin.Redirect(http.StatusFound, PlaylistsPath)
	})

	sessionRoutes.GET(SessionPath, func(contextGin *gin.Context) {
		state, status, inspectErr := tokens.Inspect(contextGin.Request.Context(), SessionIDFromContext(contextGin))
		if inspectErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session_store_error"})
			return
		}
		payload := gin.H{"status": status.String()}
		if status != StatusLoggedOut {
			payload["expires_at"] = state.ExpiresAt.Unix()
		}
		contextGin.JSON(http.StatusOK, payload)
	})
}
