package models

import "time"

// Setting value types
const (
	SettingString   = "string"
	SettingInt      = "int"
	SettingBool     = "bool"
	SettingDuration = "duration"
)

// EconomySetting is one versioned key/value entry of the economy configuration
// store. Values are stored as text and coerced on read according to ValueType.
type EconomySetting struct {
	Key       string    `json:"key" db:"key"`
	Value     string    `json:"value" db:"value"`
	ValueType string    `json:"value_type" db:"value_type"`
	Scope     string    `json:"scope" db:"scope"`
	Version   int       `json:"version" db:"version"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SettingAudit is one entry of the configuration change-audit trail.
type SettingAudit struct {
	ID        int64     `json:"id" db:"id"`
	Key       string    `json:"key" db:"key"`
	OldValue  string    `json:"old_value" db:"old_value"`
	NewValue  string    `json:"new_value" db:"new_value"`
	Version   int       `json:"version" db:"version"`
	ChangedBy string    `json:"changed_by" db:"changed_by"`
	ChangedAt time.Time `json:"changed_at" db:"changed_at"`
}
