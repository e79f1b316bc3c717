// Package state persists the data manager's local state in SQLite: the
// client-local settings, and the project records served by the development
// backend (columns, views, tasks, annotations and actions).
package state

import (
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

var errNotOpened = errors.New("database not opened")

// Project is a project row.
type Project struct {
	ID          int64  `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	LabelConfig string `json:"label_config,omitempty" yaml:"label_config"`
}

// View is a stored view. Data holds the view configuration as JSON.
type View struct {
	ID       int64
	Project  int64
	Position int
	Data     json.RawMessage
}

// Record is a task or annotation row. TaskID is set for annotations.
type Record struct {
	ID      int64
	Project int64
	TaskID  int64
	Data    json.RawMessage
}

// RecordPage is one page of records plus the total match count.
type RecordPage struct {
	Records []Record
	Total   int
}

// Action is a stored bulk action definition.
type Action struct {
	ID   string
	Data json.RawMessage
}

// Seed is a complete project snapshot loaded in one transaction.
type Seed struct {
	Project     Project
	Columns     []json.RawMessage
	Views       []json.RawMessage
	Tasks       []json.RawMessage
	Annotations []json.RawMessage
	Actions     []json.RawMessage
}
