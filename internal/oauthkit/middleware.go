package oauthkit

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tyemirov/spotlist/pkg/sessioncookie"
	"go.uber.org/zap"
)

const sessionIDContextKey = "oauth_session_id"

// EnsureSession resolves the browser's session from its signed cookie, starting a new
// anonymous session when the cookie is missing, tampered with, or expired.
func EnsureSession(configuration ServerConfig, codec *sessioncookie.Codec, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		claims, validateErr := codec.ValidateRequest(contextGin.Request)
		if validateErr == nil {
			contextGin.Set(sessionIDContextKey, claims.SessionID())
			contextGin.Next()
			return
		}
		if !errors.Is(validateErr, sessioncookie.ErrMissingCookie) {
			logger.Info("discarding unusable session cookie",
				zap.String("code", "session.cookie.discarded"),
				zap.Error(validateErr))
		}

		sessionID := uuid.NewString()
		signed, expiresAt, mintErr := codec.Mint(sessionID)
		if mintErr != nil {
			logger.Error("session cookie mint failed",
				zap.String("code", "session.cookie.mint_failed"),
				zap.Error(mintErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		writeSessionCookie(contextGin, configuration, codec.CookieName(), signed, expiresAt)
		contextGin.Set(sessionIDContextKey, sessionID)
		contextGin.Next()
	}
}

// SessionIDFromContext returns the session identifier resolved by EnsureSession.
func SessionIDFromContext(contextGin *gin.Context) string {
	return contextGin.GetString(sessionIDContextKey)
}

// The cookie must survive the cross-site redirect back from the provider, so SameSite
// never goes stricter than Lax.
func writeSessionCookie(contextGin *gin.Context, configuration ServerConfig, cookieName string, value string, expiresAt time.Time) {
	sameSite := configuration.SameSiteMode
	if sameSite == http.SameSiteStrictMode || sameSite == http.SameSiteDefaultMode || sameSite == 0 {
		sameSite = http.SameSiteLaxMode
	}
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     cookieName,
		Value:    value,
		Path:     "/",
		Domain:   configuration.CookieDomain,
		Expires:  expiresAt,
		Secure:   !configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: sameSite,
	})
}
