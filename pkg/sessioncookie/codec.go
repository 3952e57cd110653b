package sessioncookie

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Config configures the Codec.
type Config struct {
	SigningKey []byte
	Issuer     string
	CookieName string
	TTL        time.Duration
	Clock      Clock
}

// DefaultCookieName is used when Config.CookieName is empty.
const DefaultCookieName = "spotlist_session"

// DefaultTTL is used when Config.TTL is not positive.
const DefaultTTL = 30 * 24 * time.Hour

// Sentinel errors exposed by the codec.
var (
	ErrMissingSigningKey = errors.New("session.cookie.missing_signing_key")
	ErrMissingIssuer     = errors.New("session.cookie.missing_issuer")
	ErrMissingSessionID  = errors.New("session.cookie.missing_session_id")
	ErrMissingToken      = errors.New("session.cookie.missing_token")
	ErrMissingCookie     = errors.New("session.cookie.missing_cookie")
	ErrInvalidToken      = errors.New("session.cookie.invalid_token")
	ErrInvalidIssuer     = errors.New("session.cookie.invalid_issuer")
	ErrTokenExpired      = errors.New("session.cookie.expired")
)

// Claims identify the server-side session a browser holds.
type Claims struct {
	jwt.RegisteredClaims
}

// SessionID returns the session identifier carried by the cookie.
func (claims *Claims) SessionID() string {
	if claims == nil {
		return ""
	}
	return claims.Subject
}

// Codec mints and validates signed session cookies.
type Codec struct {
	signingKey []byte
	issuer     string
	cookieName string
	ttl        time.Duration
	clock      Clock
}

// New constructs a Codec after validating the supplied configuration.
func New(configuration Config) (*Codec, error) {
	if len(configuration.SigningKey) == 0 {
		return nil, fmt.Errorf("session.cookie.new: %w", ErrMissingSigningKey)
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		return nil, fmt.Errorf("session.cookie.new: %w", ErrMissingIssuer)
	}
	cookieName := configuration.CookieName
	if strings.TrimSpace(cookieName) == "" {
		cookieName = DefaultCookieName
	}
	ttl := configuration.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Codec{
		signingKey: configuration.SigningKey,
		issuer:     configuration.Issuer,
		cookieName: cookieName,
		ttl:        ttl,
		clock:      clock,
	}, nil
}

// CookieName returns the configured cookie name.
func (codec *Codec) CookieName() string {
	return codec.cookieName
}

// Mint signs an HS256 token naming the session and returns it with its expiry.
func (codec *Codec) Mint(sessionID string) (string, time.Time, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", time.Time{}, fmt.Errorf("session.cookie.mint: %w", ErrMissingSessionID)
	}
	issuedAt := codec.clock.Now().UTC()
	expiresAt := issuedAt.Add(codec.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    codec.issuer,
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(codec.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session.cookie.mint: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken validates the provided JWT string and returns the parsed claims.
func (codec *Codec) ValidateToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("session.cookie.validate_token: %w", ErrMissingToken)
	}
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &Claims{}, func(parsed *jwt.Token) (interface{}, error) {
		return codec.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time {
		return codec.clock.Now()
	}))
	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("session.cookie.validate_token: %w", ErrTokenExpired)
		}
		return nil, fmt.Errorf("session.cookie.validate_token: %w", ErrInvalidToken)
	}
	if parsedToken == nil || !parsedToken.Valid {
		return nil, fmt.Errorf("session.cookie.validate_token: %w", ErrInvalidToken)
	}
	claims, ok := parsedToken.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("session.cookie.validate_token: %w", ErrInvalidToken)
	}
	if claims.Issuer != codec.issuer {
		return nil, fmt.Errorf("session.cookie.validate_token: %w", ErrInvalidIssuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("session.cookie.validate_token: %w", ErrMissingSessionID)
	}
	return claims, nil
}

// ValidateRequest reads the configured cookie from the request and validates it.
func (codec *Codec) ValidateRequest(request *http.Request) (*Claims, error) {
	if request == nil {
		return nil, fmt.Errorf("session.cookie.validate_request: %w", ErrMissingToken)
	}
	cookie, cookieErr := request.Cookie(codec.cookieName)
	if cookieErr != nil || cookie == nil || strings.TrimSpace(cookie.Value) == "" {
		return nil, fmt.Errorf("session.cookie.validate_request: %w", ErrMissingCookie)
	}
	return codec.ValidateToken(cookie.Value)
}
