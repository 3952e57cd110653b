package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func withServeHTTPStub(stub func(server *http.Server) error) func() {
	original := serveHTTP
	serveHTTP = stub
	return func() {
		serveHTTP = original
	}
}

func setRequiredConfig() {
	viper.Set("client_id", "client-123")
	viper.Set("client_secret", "secret-456")
	viper.Set("redirect_uri", "http://127.0.0.1:5001/callback")
	viper.Set("session_secret", "signing-secret")
	viper.Set("session_ttl", time.Hour)
	viper.Set("http_timeout", 5*time.Second)
}

func TestZapLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	logger, err := zap.NewProduction()
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	router := gin.New()
	router.Use(zapLoggerMiddleware(logger))
	router.GET("/ping", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusNoContent)
	})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
}

func TestRunServerMissingConfig(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	err := runServer(&cobra.Command{}, nil)
	if err == nil {
		t.Fatalf("expected configuration error")
	}
	expectedMessage := "config.uninitialized_server_config: server configuration not prepared; PreRunE must execute before RunE"
	if err.Error() != expectedMessage {
		t.Fatalf("expected error %q, got %q", expectedMessage, err.Error())
	}
}

func TestLoadServerConfigReportsMissingFields(t *testing.T) {
	testCases := []struct {
		name            string
		omit            string
		expectedMessage string
	}{
		{name: "client id", omit: "client_id", expectedMessage: "config.missing_client_id: CLIENT_ID must be provided"},
		{name: "client secret", omit: "client_secret", expectedMessage: "config.missing_client_secret: CLIENT_SECRET must be provided"},
		{name: "redirect uri", omit: "redirect_uri", expectedMessage: "config.missing_redirect_uri: REDIRECT_URI must be provided"},
		{name: "session secret", omit: "session_secret", expectedMessage: "config.missing_session_secret: FLASK_SECRET_KEY must be provided"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			viper.Reset()
			defer viper.Reset()

			setRequiredConfig()
			viper.Set(testCase.omit, "")

			_, err := LoadServerConfig()
			if err == nil {
				t.Fatalf("expected error when %s is missing", testCase.omit)
			}
			if err.Error() != testCase.expectedMessage {
				t.Fatalf("expected error %q, got %q", testCase.expectedMessage, err.Error())
			}
		})
	}
}

func TestLoadServerConfigRequiresPositiveDurations(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	setRequiredConfig()
	viper.Set("session_ttl", 0)
	_, err := LoadServerConfig()
	if err == nil || err.Error() != "config.invalid_session_ttl: session_ttl must be greater than zero" {
		t.Fatalf("expected invalid session ttl error, got %v", err)
	}

	setRequiredConfig()
	viper.Set("http_timeout", 0)
	_, err = LoadServerConfig()
	if err == nil || err.Error() != "config.invalid_http_timeout: http_timeout must be greater than zero" {
		t.Fatalf("expected invalid http timeout error, got %v", err)
	}
}

func TestLoadServerConfigAppliesProviderDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	setRequiredConfig()
	config, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.Provider.AuthURL != "https://accounts.spotify.com/authorize" {
		t.Fatalf("unexpected auth url %s", config.Provider.AuthURL)
	}
	if config.Provider.TokenURL != "https://accounts.spotify.com/api/token" {
		t.Fatalf("unexpected token url %s", config.Provider.TokenURL)
	}
	if config.Provider.APIBaseURL != "https://api.spotify.com/v1" {
		t.Fatalf("unexpected api base url %s", config.Provider.APIBaseURL)
	}
	if strings.Join(config.Provider.Scopes, " ") != "user-read-private user-read-email" {
		t.Fatalf("unexpected scopes %v", config.Provider.Scopes)
	}
	if string(config.SessionSigningKey) != "signing-secret" {
		t.Fatalf("expected session signing key from session_secret")
	}
}

func TestProviderEnvironmentNames(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	t.Setenv("CLIENT_ID", "env-client")
	t.Setenv("CLIENT_SECRET", "env-secret")
	t.Setenv("REDIRECT_URI", "http://127.0.0.1:5001/callback")
	t.Setenv("FLASK_SECRET_KEY", "env-session-secret")
	bindProviderEnvironment()
	viper.Set("session_ttl", time.Hour)
	viper.Set("http_timeout", time.Second)

	config, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.Provider.ClientID != "env-client" || config.Provider.ClientSecret != "env-secret" {
		t.Fatalf("unexpected provider credentials %+v", config.Provider)
	}
	if string(config.SessionSigningKey) != "env-session-secret" {
		t.Fatalf("expected FLASK_SECRET_KEY to supply the session secret")
	}
}

func TestReadEnvFileMergesDotenv(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	envPath := filepath.Join(t.TempDir(), ".env")
	contents := "CLIENT_ID=file-client\nCLIENT_SECRET=file-secret\nREDIRECT_URI=http://127.0.0.1:5001/callback\nFLASK_SECRET_KEY=file-session-secret\n"
	if err := os.WriteFile(envPath, []byte(contents), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	if err := readEnvFile(envPath); err != nil {
		t.Fatalf("read env file: %v", err)
	}
	viper.Set("session_ttl", time.Hour)
	viper.Set("http_timeout", time.Second)

	config, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.Provider.ClientID != "file-client" {
		t.Fatalf("expected client id from env file, got %s", config.Provider.ClientID)
	}
	if string(config.SessionSigningKey) != "file-session-secret" {
		t.Fatalf("expected session secret from env file")
	}

	if err := readEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing env file must be ignored, got %v", err)
	}
}

func TestRunServerServesRoutes(t *testing.T) {
	testCases := []struct {
		name        string
		databaseURL func(t *testing.T) string
	}{
		{name: "memory store", databaseURL: func(*testing.T) string { return "" }},
		{name: "sqlite store", databaseURL: func(t *testing.T) string {
			return "sqlite://" + filepath.Join(t.TempDir(), "sessions.db")
		}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			viper.Reset()
			defer viper.Reset()

			setRequiredConfig()
			viper.Set("listen_addr", ":0")
			viper.Set("database_url", testCase.databaseURL(t))
			viper.Set("dev_insecure_http", true)

			config, err := LoadServerConfig()
			if err != nil {
				t.Fatalf("expected configuration load to succeed, got %v", err)
			}

			var landingCode, loginCode int
			var loginLocation string
			restoreServe := withServeHTTPStub(func(server *http.Server) error {
				landing := httptest.NewRecorder()
				server.Handler.ServeHTTP(landing, httptest.NewRequest(http.MethodGet, "/", nil))
				landingCode = landing.Code

				login := httptest.NewRecorder()
				server.Handler.ServeHTTP(login, httptest.NewRequest(http.MethodGet, "/login", nil))
				loginCode = login.Code
				loginLocation = login.Header().Get("Location")
				return http.ErrServerClosed
			})
			defer restoreServe()

			command := &cobra.Command{}
			command.SetContext(context.WithValue(context.Background(), serverConfigContextKey, config))
			if runErr := runServer(command, nil); runErr != nil {
				t.Fatalf("expected graceful shutdown, got %v", runErr)
			}
			if landingCode != http.StatusOK {
				t.Fatalf("expected landing page 200, got %d", landingCode)
			}
			if loginCode != http.StatusFound || !strings.HasPrefix(loginLocation, "https://accounts.spotify.com/authorize?") {
				t.Fatalf("expected provider redirect, got %d %s", loginCode, loginLocation)
			}
		})
	}
}

func TestRunServerRequiresCORSOrigins(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	setRequiredConfig()
	viper.Set("enable_cors", true)
	config, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	command := &cobra.Command{}
	command.SetContext(context.WithValue(context.Background(), serverConfigContextKey, config))
	runErr := runServer(command, nil)
	if runErr == nil || !strings.HasPrefix(runErr.Error(), "config.missing_cors_allowed_origins") {
		t.Fatalf("expected missing cors origins error, got %v", runErr)
	}
}

func TestRootCommandHelp(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	command := newRootCommand()
	command.SetArgs([]string{"--help"})
	var output strings.Builder
	command.SetOut(&output)
	if err := command.Execute(); err != nil {
		t.Fatalf("help should not fail: %v", err)
	}
	for _, flagName := range []string{"--client_id", "--redirect_uri", "--database_url", "--dev_insecure_http"} {
		if !strings.Contains(output.String(), flagName) {
			t.Fatalf("expected %s in help output", flagName)
		}
	}
}
