package oauthkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
)

type controllableClock struct {
	mutex   sync.Mutex
	current time.Time
}

func newControllableClock() *controllableClock {
	return &controllableClock{current: time.Unix(1_700_000_000, 0).UTC()}
}

func (clock *controllableClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *controllableClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(duration)
}

// tokenGrant is one scripted token endpoint response.
type tokenGrant struct {
	status int
	body   map[string]any
}

// stubProvider fakes the accounts token endpoint and the Web API playlists resource.
type stubProvider struct {
	t      *testing.T
	server *httptest.Server

	mutex          sync.Mutex
	grants         []tokenGrant
	tokenForms     []url.Values
	playlistTokens []string
	playlistStatus int
	playlistBody   string
	tokenGate      chan struct{}
}

func newStubProvider(t *testing.T) *stubProvider {
	t.Helper()
	provider := &stubProvider{
		t:              t,
		playlistStatus: http.StatusOK,
		playlistBody:   `{"items":[{"name":"Road Trip"}],"total":1}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", provider.handleToken)
	mux.HandleFunc("/v1/me/playlists", provider.handlePlaylists)
	provider.server = httptest.NewServer(mux)
	t.Cleanup(provider.server.Close)
	return provider
}

func (provider *stubProvider) enqueueGrant(status int, body map[string]any) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.grants = append(provider.grants, tokenGrant{status: status, body: body})
}

func (provider *stubProvider) holdTokenResponses() chan struct{} {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.tokenGate = make(chan struct{})
	return provider.tokenGate
}

func (provider *stubProvider) setPlaylistResponse(status int, body string) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.playlistStatus = status
	provider.playlistBody = body
}

func (provider *stubProvider) tokenRequests() []url.Values {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	return append([]url.Values(nil), provider.tokenForms...)
}

func (provider *stubProvider) playlistAuthorizations() []string {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	return append([]string(nil), provider.playlistTokens...)
}

func (provider *stubProvider) config() ProviderConfig {
	return ProviderConfig{
		ClientID:     "client-123",
		ClientSecret: "secret-456",
		RedirectURI:  "http://127.0.0.1:5001/callback",
		AuthURL:      provider.server.URL + "/authorize",
		TokenURL:     provider.server.URL + "/api/token",
		APIBaseURL:   provider.server.URL + "/v1",
		HTTPTimeout:  5 * time.Second,
	}
}

func (provider *stubProvider) handleToken(writer http.ResponseWriter, request *http.Request) {
	if err := request.ParseForm(); err != nil {
		provider.t.Errorf("token form parse: %v", err)
	}
	provider.mutex.Lock()
	provider.tokenForms = append(provider.tokenForms, request.PostForm)
	gate := provider.tokenGate
	var grant tokenGrant
	if len(provider.grants) > 0 {
		grant = provider.grants[0]
		provider.grants = provider.grants[1:]
	} else {
		grant = tokenGrant{status: http.StatusBadRequest, body: map[string]any{"error": "invalid_grant"}}
	}
	provider.mutex.Unlock()

	if gate != nil {
		<-gate
	}
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(grant.status)
	_ = json.NewEncoder(writer).Encode(grant.body)
}

func (provider *stubProvider) handlePlaylists(writer http.ResponseWriter, request *http.Request) {
	provider.mutex.Lock()
	provider.playlistTokens = append(provider.playlistTokens, request.Header.Get("Authorization"))
	status := provider.playlistStatus
	body := provider.playlistBody
	provider.mutex.Unlock()

	writer.Header().Set("Content-Type", "application/json; charset=utf-8")
	writer.WriteHeader(status)
	_, _ = writer.Write([]byte(body))
}

func accessGrant(accessToken, refreshToken string, expiresIn int) map[string]any {
	body := map[string]any{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
		"scope":        "user-read-private user-read-email",
	}
	if refreshToken != "" {
		body["refresh_token"] = refreshToken
	}
	return body
}
