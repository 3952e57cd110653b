package oauthkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const maxResourceBodyBytes = 8 << 20

// maxExpiresInSeconds matches the clamp oauth2 applies to expires_in.
const maxExpiresInSeconds = math.MaxInt32

var errResourceBodyTooLarge = errors.New("spotify.playlists.body_too_large")

// TokenStatus classifies the token material held by a session.
type TokenStatus int

const (
	// StatusLoggedOut means the session holds no access token.
	StatusLoggedOut TokenStatus = iota
	// StatusFresh means the access token is usable as-is.
	StatusFresh
	// StatusExpired means the access token passed its recorded expiry.
	StatusExpired
)

func (status TokenStatus) String() string {
	switch status {
	case StatusFresh:
		return "fresh"
	case StatusExpired:
		return "expired"
	default:
		return "logged_out"
	}
}

// EnsureResult is the outcome of EnsureFreshToken.
type EnsureResult int

const (
	// ResultUnauthenticated means the caller must restart authorization.
	ResultUnauthenticated EnsureResult = iota
	// ResultFresh means the stored access token can be used immediately.
	ResultFresh
	// ResultRefreshed means a new access token was stored; the caller retries its operation.
	ResultRefreshed
)

func (result EnsureResult) String() string {
	switch result {
	case ResultFresh:
		return "fresh"
	case ResultRefreshed:
		return "refreshed"
	default:
		return "unauthenticated"
	}
}

// TokenSession drives the authorization-code grant and subsequent refreshes for browser sessions.
type TokenSession struct {
	provider     ProviderConfig
	oauthConfig  *oauth2.Config
	store        SessionStore
	clock        Clock
	logger       *zap.Logger
	metrics      MetricsRecorder
	httpClient   *http.Client
	refreshGroup singleflight.Group
}

// TokenSessionOption customizes a TokenSession.
type TokenSessionOption func(*TokenSession)

// WithClock overrides the time source used for expiry bookkeeping.
func WithClock(clock Clock) TokenSessionOption {
	return func(session *TokenSession) {
		if clock != nil {
			session.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) TokenSessionOption {
	return func(session *TokenSession) {
		if logger != nil {
			session.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics MetricsRecorder) TokenSessionOption {
	return func(session *TokenSession) {
		if metrics != nil {
			session.metrics = metrics
		}
	}
}

// WithHTTPClient sets the client used for token and resource calls.
func WithHTTPClient(client *http.Client) TokenSessionOption {
	return func(session *TokenSession) {
		if client != nil {
			session.httpClient = client
		}
	}
}

// NewTokenSession constructs a TokenSession for the provider backed by the store.
func NewTokenSession(provider ProviderConfig, store SessionStore, options ...TokenSessionOption) *TokenSession {
	if store == nil {
		panic("session store is required")
	}
	provider = provider.WithDefaults()
	session := &TokenSession{
		provider: provider,
		oauthConfig: &oauth2.Config{
			ClientID:     provider.ClientID,
			ClientSecret: provider.ClientSecret,
			RedirectURL:  provider.RedirectURI,
			Scopes:       provider.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   provider.AuthURL,
				TokenURL:  provider.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		store:      store,
		clock:      NewSystemClock(),
		logger:     zap.NewNop(),
		metrics:    nopMetrics{},
		httpClient: &http.Client{Timeout: provider.HTTPTimeout},
	}
	for _, option := range options {
		option(session)
	}
	return session
}

// AuthorizationURL returns the provider authorize URL the browser is redirected to.
func (session *TokenSession) AuthorizationURL() string {
	session.metrics.Increment(MetricAuthorizeRedirect)
	return session.oauthConfig.AuthCodeURL("", spotifyauth.ShowDialog)
}

// CompleteAuthorization handles the provider callback and stores the exchanged tokens.
func (session *TokenSession) CompleteAuthorization(ctx context.Context, sessionID string, query url.Values) error {
	if query.Has("error") {
		reason := query.Get("error")
		session.metrics.Increment(MetricProviderDenied)
		session.logger.Warn("provider denied authorization",
			zap.String("code", "oauth.callback.denied"),
			zap.String("reason", reason))
		return &ProviderDeniedError{Reason: reason}
	}
	authorizationCode := strings.TrimSpace(query.Get("code"))
	if authorizationCode == "" {
		session.metrics.Increment(MetricMalformedCallback)
		return ErrMalformedCallback
	}
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("oauth.complete_authorization: %w", ErrEmptySessionID)
	}

	token, exchangeErr := session.exchange(ctx, authorizationCode)
	if exchangeErr != nil {
		session.metrics.Increment(MetricExchangeFailure)
		session.logger.Warn("authorization code exchange failed",
			zap.String("code", "oauth.exchange.failed"),
			zap.Error(exchangeErr))
		return exchangeErr
	}

	state := SessionState{
		SessionID:    sessionID,
		AccessToken:  token.accessToken,
		RefreshToken: token.refreshToken,
		ExpiresAt:    session.expiryFrom(token.expiresIn),
	}
	if state.RefreshToken == "" {
		session.metrics.Increment(MetricExchangeFailure)
		return fmt.Errorf("%w: response missing refresh_token", ErrTokenExchangeFailed)
	}
	if saveErr := session.store.Save(ctx, state); saveErr != nil {
		return fmt.Errorf("oauth.complete_authorization.save: %w", saveErr)
	}
	session.metrics.Increment(MetricExchangeSuccess)
	return nil
}

// Inspect classifies the session's token without contacting the provider.
func (session *TokenSession) Inspect(ctx context.Context, sessionID string) (SessionState, TokenStatus, error) {
	if strings.TrimSpace(sessionID) == "" {
		return SessionState{}, StatusLoggedOut, nil
	}
	state, loadErr := session.store.Load(ctx, sessionID)
	if loadErr != nil {
		if errors.Is(loadErr, ErrSessionNotFound) {
			return SessionState{SessionID: sessionID}, StatusLoggedOut, nil
		}
		return SessionState{}, StatusLoggedOut, fmt.Errorf("oauth.inspect: %w", loadErr)
	}
	if !state.HasAccessToken() {
		return state, StatusLoggedOut, nil
	}
	if state.ExpiredAt(session.clock.Now()) {
		return state, StatusExpired, nil
	}
	return state, StatusFresh, nil
}

// EnsureFreshToken returns a usable access token, refreshing it first when it expired.
// Concurrent refreshes for one session share a single token endpoint call.
func (session *TokenSession) EnsureFreshToken(ctx context.Context, sessionID string) (EnsureResult, SessionState, error) {
	state, status, inspectErr := session.Inspect(ctx, sessionID)
	if inspectErr != nil {
		return ResultUnauthenticated, SessionState{}, inspectErr
	}
	switch status {
	case StatusLoggedOut:
		return ResultUnauthenticated, state, nil
	case StatusFresh:
		return ResultFresh, state, nil
	}
	if !state.HasRefreshToken() {
		session.metrics.Increment(MetricRefreshNoToken)
		return ResultUnauthenticated, state, nil
	}

	value, flightErr, shared := session.refreshGroup.Do(sessionID, func() (any, error) {
		return session.refreshFlight(context.WithoutCancel(ctx), sessionID)
	})
	if shared {
		session.metrics.Increment(MetricRefreshShared)
	}
	if flightErr != nil {
		return ResultUnauthenticated, state, flightErr
	}
	outcome := value.(refreshOutcome)
	return outcome.result, outcome.state, nil
}

// FetchPlaylists returns the current user's playlists payload verbatim.
func (session *TokenSession) FetchPlaylists(ctx context.Context, accessToken string) ([]byte, error) {
	if accessToken == "" {
		return nil, ErrUnauthenticated
	}
	requestCtx, cancel := context.WithTimeout(ctx, session.provider.HTTPTimeout)
	defer cancel()

	endpoint := strings.TrimRight(session.provider.APIBaseURL, "/") + "/me/playlists"
	request, requestErr := http.NewRequestWithContext(requestCtx, http.MethodGet, endpoint, nil)
	if requestErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamAPI, requestErr)
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)
	request.Header.Set("Accept", "application/json")

	response, doErr := session.httpClient.Do(request)
	if doErr != nil {
		session.metrics.Increment(MetricPlaylistsTransport)
		return nil, fmt.Errorf("%w: %w", ErrUpstreamAPI, doErr)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxResourceBodyBytes+1))
	if readErr != nil {
		session.metrics.Increment(MetricPlaylistsTransport)
		return nil, fmt.Errorf("%w: %w", ErrUpstreamAPI, readErr)
	}
	if len(body) > maxResourceBodyBytes {
		session.metrics.Increment(MetricPlaylistsTransport)
		return nil, fmt.Errorf("%w: %w", ErrUpstreamAPI, errResourceBodyTooLarge)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		session.metrics.Increment(MetricPlaylistsUpstream)
		session.logger.Warn("playlists request rejected",
			zap.String("code", "spotify.playlists.rejected"),
			zap.Int("status", response.StatusCode))
		return nil, &UpstreamAPIError{
			StatusCode:  response.StatusCode,
			ContentType: response.Header.Get("Content-Type"),
			Body:        body,
		}
	}
	session.metrics.Increment(MetricPlaylistsSuccess)
	return body, nil
}

type refreshOutcome struct {
	result EnsureResult
	state  SessionState
}

// refreshFlight re-reads the session inside the flight so a refresh completed by an
// earlier flight is observed instead of repeated.
func (session *TokenSession) refreshFlight(ctx context.Context, sessionID string) (refreshOutcome, error) {
	current, loadErr := session.store.Load(ctx, sessionID)
	if loadErr != nil {
		if errors.Is(loadErr, ErrSessionNotFound) {
			return refreshOutcome{result: ResultUnauthenticated, state: SessionState{SessionID: sessionID}}, nil
		}
		return refreshOutcome{}, fmt.Errorf("oauth.refresh.load: %w", loadErr)
	}
	if !current.HasAccessToken() {
		return refreshOutcome{result: ResultUnauthenticated, state: current}, nil
	}
	if !current.ExpiredAt(session.clock.Now()) {
		return refreshOutcome{result: ResultRefreshed, state: current}, nil
	}
	if !current.HasRefreshToken() {
		session.metrics.Increment(MetricRefreshNoToken)
		return refreshOutcome{result: ResultUnauthenticated, state: current}, nil
	}

	token, refreshErr := session.refresh(ctx, current.RefreshToken)
	if refreshErr != nil {
		session.metrics.Increment(MetricRefreshFailure)
		session.logger.Warn("token refresh failed",
			zap.String("code", "oauth.refresh.failed"),
			zap.Error(refreshErr))
		return refreshOutcome{}, refreshErr
	}
	if token.refreshToken != "" && token.refreshToken != current.RefreshToken {
		// The stored refresh token is never rotated.
		session.logger.Warn("provider returned a rotated refresh token; keeping the original",
			zap.String("code", "oauth.refresh.rotation_ignored"))
	}

	updated := current
	updated.AccessToken = token.accessToken
	updated.ExpiresAt = session.expiryFrom(token.expiresIn)
	if saveErr := session.store.Save(ctx, updated); saveErr != nil {
		return refreshOutcome{}, fmt.Errorf("oauth.refresh.save: %w", saveErr)
	}
	session.metrics.Increment(MetricRefreshSuccess)
	session.logger.Info("access token refreshed",
		zap.String("code", "oauth.refresh.success"),
		zap.Time("expires_at", updated.ExpiresAt))
	return refreshOutcome{result: ResultRefreshed, state: updated}, nil
}

type grantedToken struct {
	accessToken  string
	refreshToken string
	expiresIn    int64
}

func (session *TokenSession) exchange(ctx context.Context, authorizationCode string) (grantedToken, error) {
	requestCtx, cancel := context.WithTimeout(ctx, session.provider.HTTPTimeout)
	defer cancel()
	token, exchangeErr := session.oauthConfig.Exchange(session.withHTTPClient(requestCtx), authorizationCode)
	if exchangeErr != nil {
		return grantedToken{}, fmt.Errorf("%w: %w", ErrTokenExchangeFailed, exchangeErr)
	}
	return grantedFrom(token)
}

func (session *TokenSession) refresh(ctx context.Context, refreshToken string) (grantedToken, error) {
	requestCtx, cancel := context.WithTimeout(ctx, session.provider.HTTPTimeout)
	defer cancel()
	source := session.oauthConfig.TokenSource(session.withHTTPClient(requestCtx), &oauth2.Token{RefreshToken: refreshToken})
	token, refreshErr := source.Token()
	if refreshErr != nil {
		return grantedToken{}, fmt.Errorf("%w: %w", ErrTokenExchangeFailed, refreshErr)
	}
	return grantedFrom(token)
}

func (session *TokenSession) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, session.httpClient)
}

func (session *TokenSession) expiryFrom(expiresIn int64) time.Time {
	return time.Unix(session.clock.Now().Unix()+expiresIn, 0).UTC()
}

func grantedFrom(token *oauth2.Token) (grantedToken, error) {
	if token == nil || token.AccessToken == "" {
		return grantedToken{}, fmt.Errorf("%w: response missing access_token", ErrTokenExchangeFailed)
	}
	expiresIn, ok := expiresInSeconds(token.Extra("expires_in"))
	if !ok {
		return grantedToken{}, fmt.Errorf("%w: response missing expires_in", ErrTokenExchangeFailed)
	}
	return grantedToken{
		accessToken:  token.AccessToken,
		refreshToken: token.RefreshToken,
		expiresIn:    expiresIn,
	}, nil
}

func expiresInSeconds(raw any) (int64, bool) {
	switch value := raw.(type) {
	case float64:
		if math.IsNaN(value) || value < 0 || value > maxExpiresInSeconds {
			return 0, false
		}
		return int64(value), true
	case int64:
		return value, value >= 0 && value <= maxExpiresInSeconds
	case int:
		return int64(value), value >= 0 && int64(value) <= maxExpiresInSeconds
	case string:
		parsed, parseErr := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		return parsed, parseErr == nil && parsed >= 0 && parsed <= maxExpiresInSeconds
	default:
		return 0, false
	}
}
