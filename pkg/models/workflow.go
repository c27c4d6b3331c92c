package models

import (
	"encoding/json"
	"time"
)

// ProcessDefinition is the stored form of one version of a workflow
// definition. Graph holds the normalized step/transition document.
type ProcessDefinition struct {
	Key         string          `json:"key" db:"key"`         // Stable concept key
	Version     int             `json:"version" db:"version"` // Monotonic per key
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description,omitempty" db:"description"`
	IsActive    bool            `json:"is_active" db:"is_active"`
	Graph       json.RawMessage `json:"graph" db:"graph"` // JSONB
	CreatedBy   string          `json:"created_by,omitempty" db:"created_by"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
