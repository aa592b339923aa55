package models

import (
	"github.com/pocketbase/pocketbase/tools/types"
)

// ScanLog is one journaled verification outcome at a gate.
type ScanLog struct {
	ID          string         `db:"id" json:"id"`
	Fingerprint string         `db:"fingerprint" json:"fingerprint"`
	EventID     string         `db:"event_id" json:"event_id"`
	EventTitle  string         `db:"event_title" json:"event_title"`
	TierName    string         `db:"tier_name" json:"tier_name"`
	Outcome     string         `db:"outcome" json:"outcome"` // valid, verified, already_used, error
	ErrorKind   string         `db:"error_kind" json:"error_kind,omitempty"`
	Operator    string         `db:"operator" json:"operator"`
	SessionID   string         `db:"session_id" json:"session_id"`
	Created     types.DateTime `db:"created" json:"created"`
}
