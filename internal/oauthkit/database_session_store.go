package oauthkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no session backend is available for the scheme.
	ErrUnsupportedDialect = errors.New("session_store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("session_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("session_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("session_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("session_store.unsupported_no_scheme")
)

// DatabaseSessionStore persists session token material using GORM.
type DatabaseSessionStore struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *DatabaseSessionStore) Driver() string {
	return store.driverLabel
}

type sessionRecord struct {
	SessionID     string `gorm:"column:session_id;primaryKey"`
	AccessToken   string `gorm:"column:access_token;not null;default:''"`
	RefreshToken  string `gorm:"column:refresh_token;not null;default:''"`
	ExpiresUnix   int64  `gorm:"column:expires_unix;not null;default:0"`
	UpdatedAtUnix int64  `gorm:"column:updated_at_unix;not null"`
}

func (sessionRecord) TableName() string {
	return "oauth_sessions"
}

// NewSessionStore selects a backend from the database URL scheme.
// An empty URL yields the in-memory store.
func NewSessionStore(ctx context.Context, databaseURL string, sessionTTL time.Duration) (SessionStore, string, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemorySessionStore(sessionTTL), "memory", nil
	}
	parsed, parseErr := url.Parse(databaseURL)
	if parseErr != nil {
		return nil, "", fmt.Errorf("session_store.parse_url: %w", parseErr)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "redis", "rediss":
		redisStore, redisErr := NewRedisSessionStoreFromURL(ctx, databaseURL, sessionTTL)
		if redisErr != nil {
			return nil, "", redisErr
		}
		return redisStore, "redis", nil
	default:
		databaseStore, databaseErr := NewDatabaseSessionStore(ctx, databaseURL)
		if databaseErr != nil {
			return nil, "", databaseErr
		}
		return databaseStore, databaseStore.Driver(), nil
	}
}

// NewDatabaseSessionStore constructs a GORM-backed store and migrates its table.
func NewDatabaseSessionStore(ctx context.Context, databaseURL string) (*DatabaseSessionStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("session_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("session_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&sessionRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("session_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseSessionStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// Load returns the stored session state.
func (store *DatabaseSessionStore) Load(ctx context.Context, sessionID string) (SessionState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return SessionState{}, fmt.Errorf("session_store.load.%s: %w", store.driverLabel, ErrEmptySessionID)
	}
	var record sessionRecord
	err := store.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SessionState{}, fmt.Errorf("session_store.load.%s: %w", store.driverLabel, ErrSessionNotFound)
		}
		return SessionState{}, fmt.Errorf("session_store.load.%s: %w", store.driverLabel, err)
	}
	return SessionState{
		SessionID:    record.SessionID,
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
		ExpiresAt:    time.Unix(record.ExpiresUnix, 0).UTC(),
	}, nil
}

// Save upserts all token fields of the session in one statement.
func (store *DatabaseSessionStore) Save(ctx context.Context, state SessionState) error {
	if strings.TrimSpace(state.SessionID) == "" {
		return fmt.Errorf("session_store.save.%s: %w", store.driverLabel, ErrEmptySessionID)
	}
	record := sessionRecord{
		SessionID:     state.SessionID,
		AccessToken:   state.AccessToken,
		RefreshToken:  state.RefreshToken,
		ExpiresUnix:   state.ExpiresAt.Unix(),
		UpdatedAtUnix: time.Now().UTC().Unix(),
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "expires_unix", "updated_at_unix"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("session_store.save.%s: %w", store.driverLabel, err)
	}
	return nil
}

// Delete removes the session row; deleting an unknown session is not an error.
func (store *DatabaseSessionStore) Delete(ctx context.Context, sessionID string) error {
	result := store.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&sessionRecord{})
	if result.Error != nil {
		return fmt.Errorf("session_store.delete.%s: %w", store.driverLabel, result.Error)
	}
	return nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("session_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("session_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("session_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("session_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
