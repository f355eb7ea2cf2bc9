package scopedb

import "time"

// The composite types used for messages to the ClickHouse database.

// SessionMessage is the information for the scopesessions table: one row
// per run of the daemon.
type SessionMessage struct {
	ID        string
	Hostname  string
	Version   string
	GoVersion string
	Start     time.Time
	End       time.Time
}

// SnapshotMessage is one measurement snapshot for the measurements table.
type SnapshotMessage struct {
	SessionID   string
	Time        time.Time
	VMax        float64
	VMin        float64
	VAvg        float64
	VPP         float64
	FrequencyHz float64 // 0 when no estimate was possible
	PeriodMS    float64 // 0 when no estimate was possible
}
