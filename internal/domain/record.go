package domain

import "time"

// Tenant holds the remote credentials for one synced user.
type Tenant struct {
	UserID   int64  `db:"user_id"`
	Database string `db:"database"`
	Username string `db:"username"`
	Password string `db:"password"`
	Active   bool   `db:"active"`
}

// Connection is an authenticated per-tenant handle to the remote system.
// It is established at the orchestrator boundary and passed explicitly into
// every remote call; lower components never reconnect on their own.
type Connection struct {
	UserID   int64
	Database string
	UID      int64
	Password string
}

// RawRecord is one record as returned by the remote system: the two fields
// the engine cares about parsed out, everything else kept as an opaque bag.
// The bag never drives control flow.
type RawRecord struct {
	ID         int64
	ModifiedAt time.Time
	Fields     map[string]any
}

// Record is the local mirrored form of a remote record.
type Record struct {
	UserID     int64          `json:"user_id"`
	Module     string         `json:"module"`
	RemoteID   int64          `json:"remote_id"`
	Name       string         `json:"name"`
	ModifiedAt time.Time      `json:"modified_at"`
	Payload    map[string]any `json:"payload"`
}
