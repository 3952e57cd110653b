package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/spotlist/internal/oauthkit"
	"github.com/tyemirov/spotlist/internal/web"
	"github.com/tyemirov/spotlist/pkg/sessioncookie"
	webassets "github.com/tyemirov/spotlist/web"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "spotlist",
		Short:   "Spotify login via OAuth authorization code, with server-side sessions and token refresh",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":5001", "HTTP listen address")
	rootCmd.Flags().String("env_file", ".env", "Optional dotenv file read before the environment")
	rootCmd.Flags().String("client_id", "", "Spotify application client ID")
	rootCmd.Flags().String("client_secret", "", "Spotify application client secret")
	rootCmd.Flags().String("redirect_uri", "", "Registered OAuth redirect URI ending in /callback")
	rootCmd.Flags().String("session_secret", "", "Signing secret for the session cookie")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().Duration("session_ttl", 30*24*time.Hour, "Session cookie and server-side session lifetime")
	rootCmd.Flags().Duration("http_timeout", 10*time.Second, "Timeout for calls to the token endpoint and Web API")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Issue the session cookie without the Secure flag for local HTTP")
	rootCmd.Flags().String("database_url", "", "Session store URL (postgres://, sqlite://, redis://; leave empty for in-memory store)")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for a separately hosted frontend")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")

	for _, key := range []string{
		"listen_addr", "env_file", "client_id", "client_secret", "redirect_uri", "session_secret",
		"cookie_domain", "session_ttl", "http_timeout", "dev_insecure_http", "database_url",
		"enable_cors", "cors_allowed_origins",
	} {
		_ = viper.BindPFlag(key, rootCmd.Flags().Lookup(key))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()
	bindProviderEnvironment()

	return rootCmd
}

// bindProviderEnvironment accepts the unprefixed variable names used by existing deployments.
func bindProviderEnvironment() {
	_ = viper.BindEnv("client_id", "APP_CLIENT_ID", "CLIENT_ID")
	_ = viper.BindEnv("client_secret", "APP_CLIENT_SECRET", "CLIENT_SECRET")
	_ = viper.BindEnv("redirect_uri", "APP_REDIRECT_URI", "REDIRECT_URI")
	_ = viper.BindEnv("session_secret", "APP_SESSION_SECRET", "FLASK_SECRET_KEY")
}

const (
	sessionCookieName = "spotlist_session"
	sessionIssuer     = "spotlist"

	configCodeMissingClientID         = "config.missing_client_id"
	configCodeMissingClientSecret     = "config.missing_client_secret"
	configCodeMissingRedirectURI      = "config.missing_redirect_uri"
	configCodeMissingSessionSecret    = "config.missing_session_secret"
	configCodeInvalidSessionTTL       = "config.invalid_session_ttl"
	configCodeInvalidHTTPTimeout      = "config.invalid_http_timeout"
	configCodeEnvFile                 = "config.env_file"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeSessionCookie           = "config.session_cookie"
	configCodeMissingCORSOrigins      = "config.missing_cors_allowed_origins"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	if envErr := readEnvFile(viper.GetString("env_file")); envErr != nil {
		return envErr
	}
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

// readEnvFile merges KEY=value pairs from a dotenv file; a missing file is not an error.
func readEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		return nil
	}
	viper.SetConfigFile(path)
	viper.SetConfigType("env")
	if readErr := viper.MergeInConfig(); readErr != nil {
		return fmt.Errorf("%s: %w", configCodeEnvFile, readErr)
	}
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig validates the required provider and session settings eagerly.
func LoadServerConfig() (oauthkit.ServerConfig, error) {
	clientID := strings.TrimSpace(viper.GetString("client_id"))
	if clientID == "" {
		return oauthkit.ServerConfig{}, configError(configCodeMissingClientID, "CLIENT_ID must be provided")
	}

	clientSecret := strings.TrimSpace(viper.GetString("client_secret"))
	if clientSecret == "" {
		return oauthkit.ServerConfig{}, configError(configCodeMissingClientSecret, "CLIENT_SECRET must be provided")
	}

	redirectURI := strings.TrimSpace(viper.GetString("redirect_uri"))
	if redirectURI == "" {
		return oauthkit.ServerConfig{}, configError(configCodeMissingRedirectURI, "REDIRECT_URI must be provided")
	}

	sessionSecret := viper.GetString("session_secret")
	if sessionSecret == "" {
		sessionSecret = viper.GetString("flask_secret_key")
	}
	if sessionSecret == "" {
		return oauthkit.ServerConfig{}, configError(configCodeMissingSessionSecret, "FLASK_SECRET_KEY must be provided")
	}

	sessionTTL := viper.GetDuration("session_ttl")
	if sessionTTL <= 0 {
		return oauthkit.ServerConfig{}, configError(configCodeInvalidSessionTTL, "session_ttl must be greater than zero")
	}

	httpTimeout := viper.GetDuration("http_timeout")
	if httpTimeout <= 0 {
		return oauthkit.ServerConfig{}, configError(configCodeInvalidHTTPTimeout, "http_timeout must be greater than zero")
	}

	return oauthkit.ServerConfig{
		Provider: oauthkit.ProviderConfig{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURI:  redirectURI,
			AuthURL:      viper.GetString("auth_url"),
			TokenURL:     viper.GetString("token_url"),
			APIBaseURL:   viper.GetString("api_base_url"),
			HTTPTimeout:  httpTimeout,
		}.WithDefaults(),
		SessionSigningKey: []byte(sessionSecret),
		SessionIssuer:     sessionIssuer,
		SessionCookieName: sessionCookieName,
		SessionTTL:        sessionTTL,
		CookieDomain:      viper.GetString("cookie_domain"),
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(oauthkit.ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	databaseURL := viper.GetString("database_url")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")

	serverConfig.AllowInsecureHTTP = viper.GetBool("dev_insecure_http")
	serverConfig.SameSiteMode = http.SameSiteLaxMode

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		if len(corsAllowedOrigins) == 0 {
			return configError(configCodeMissingCORSOrigins, "cors_allowed_origins must be provided when enable_cors is true")
		}
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	router.GET("/", func(contextGin *gin.Context) {
		web.ServeEmbeddedPage(contextGin, webassets.FS, "index.html")
	})

	sessionStore, storeDriver, storeErr := oauthkit.NewSessionStore(context.Background(), databaseURL, serverConfig.SessionTTL)
	if storeErr != nil {
		return storeErr
	}
	if closer, isCloser := sessionStore.(io.Closer); isCloser {
		defer func() { _ = closer.Close() }()
	}
	logger.Info("session store ready", zap.String("driver", storeDriver))

	cookieCodec, codecErr := sessioncookie.New(sessioncookie.Config{
		SigningKey: serverConfig.SessionSigningKey,
		Issuer:     serverConfig.SessionIssuer,
		CookieName: serverConfig.SessionCookieName,
		TTL:        serverConfig.SessionTTL,
	})
	if codecErr != nil {
		return fmt.Errorf("%s: %w", configCodeSessionCookie, codecErr)
	}

	metricsRecorder := oauthkit.NewCounterMetrics()
	tokenSession := oauthkit.NewTokenSession(serverConfig.Provider, sessionStore,
		oauthkit.WithClock(oauthkit.NewSystemClock()),
		oauthkit.WithLogger(logger),
		oauthkit.WithMetrics(metricsRecorder),
	)

	oauthkit.MountOAuthRoutes(router, serverConfig, tokenSession, cookieCodec, logger)

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	serveErr := serveHTTP(server)
	logger.Info("auth counters", zap.Any("counters", metricsRecorder.Snapshot()))
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", serveErr)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
