package services

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/playvault/backend/internal/audit"
	"github.com/playvault/backend/internal/models"
)

// SettingsService is the versioned economy configuration store: typed
// key/value settings with a change-audit trail and no business logic. Other
// components read it at the start of each decision.
type SettingsService struct {
	db    *sql.DB
	audit *audit.Logger
}

func NewSettingsService(db *sql.DB) *SettingsService {
	return &SettingsService{db: db, audit: audit.NewLogger()}
}

// Get returns the stored setting, ErrNotFound when the key was never set.
func (s *SettingsService) Get(ctx context.Context, key string) (*models.EconomySetting, error) {
	setting := &models.EconomySetting{}
	err := s.db.QueryRowContext(ctx, `
		SELECT key, value, value_type, scope, version, updated_at
		FROM economy_settings WHERE key = $1
	`, key).Scan(&setting.Key, &setting.Value, &setting.ValueType,
		&setting.Scope, &setting.Version, &setting.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: setting %q", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return setting, nil
}

// GetString returns the value, falling back to def when unset.
func (s *SettingsService) GetString(ctx context.Context, key, def string) string {
	setting, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	return setting.Value
}

// GetInt64 coerces the value to an integer, falling back to def on any
// missing or malformed entry.
func (s *SettingsService) GetInt64(ctx context.Context, key string, def int64) int64 {
	setting, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	val, err := strconv.ParseInt(setting.Value, 10, 64)
	if err != nil {
		return def
	}
	return val
}

func (s *SettingsService) GetBool(ctx context.Context, key string, def bool) bool {
	setting, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	val, err := strconv.ParseBool(setting.Value)
	if err != nil {
		return def
	}
	return val
}

func (s *SettingsService) GetDuration(ctx context.Context, key string, def time.Duration) time.Duration {
	setting, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	val, err := time.ParseDuration(setting.Value)
	if err != nil {
		return def
	}
	return val
}

// Set writes a setting and its audit entry in one store transaction, bumping
// the version. The value must parse under the declared type; a value that
// does not is rejected with ErrInvalidConfiguration before anything changes.
func (s *SettingsService) Set(ctx context.Context, key, value, valueType, scope, changedBy string) (*models.EconomySetting, error) {
	if err := validateSettingValue(value, valueType); err != nil {
		return nil, err
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback()

	var (
		oldValue string
		version  int
	)
	err = dbTx.QueryRow(`
		SELECT value, version FROM economy_settings WHERE key = $1 FOR UPDATE
	`, key).Scan(&oldValue, &version)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	newVersion := version + 1
	now := time.Now().UTC()
	_, err = dbTx.Exec(`
		INSERT INTO economy_settings (key, value, value_type, scope, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key)
		DO UPDATE SET value = $2, value_type = $3, scope = $4, version = $5, updated_at = $6`,
		key, value, valueType, scope, newVersion, now)
	if err != nil {
		return nil, err
	}

	_, err = dbTx.Exec(`
		INSERT INTO economy_settings_audit (key, old_value, new_value, version, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		key, oldValue, value, newVersion, changedBy, now)
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogConfigChange(key, oldValue, value, changedBy)
	return &models.EconomySetting{
		Key: key, Value: value, ValueType: valueType,
		Scope: scope, Version: newVersion, UpdatedAt: now,
	}, nil
}

// History returns the audit trail for one key, newest first.
func (s *SettingsService) History(ctx context.Context, key string, limit int) ([]models.SettingAudit, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key, old_value, new_value, version, changed_by, changed_at
		FROM economy_settings_audit
		WHERE key = $1
		ORDER BY id DESC
		LIMIT $2`, key, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.SettingAudit
	for rows.Next() {
		var e models.SettingAudit
		if err := rows.Scan(&e.ID, &e.Key, &e.OldValue, &e.NewValue,
			&e.Version, &e.ChangedBy, &e.ChangedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func validateSettingValue(value, valueType string) error {
	var err error
	switch valueType {
	case models.SettingString:
	case models.SettingInt:
		_, err = strconv.ParseInt(value, 10, 64)
	case models.SettingBool:
		_, err = strconv.ParseBool(value)
	case models.SettingDuration:
		_, err = time.ParseDuration(value)
	default:
		return fmt.Errorf("%w: unknown setting type %q", ErrInvalidConfiguration, valueType)
	}
	if err != nil {
		return fmt.Errorf("%w: %q is not a valid %s", ErrInvalidConfiguration, value, valueType)
	}
	return nil
}
