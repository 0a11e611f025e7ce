package domain

import "time"

// SnapshotVersion is the current snapshot document version. Loaders
// accept the current version only; unknown versions fail loudly
// rather than guessing.
const SnapshotVersion = 1

// Snapshot is the full durable state of the graph, written atomically
// as a single JSON document. MaintenanceStage is non-empty only when
// a maintenance pass was interrupted mid-run, naming the stage to
// resume from.
type Snapshot struct {
	Version               int       `json:"version"`
	SavedAt               time.Time `json:"savedAt"`
	LastMaintenancePassID string    `json:"lastMaintenancePassId,omitempty"`
	MaintenanceStage      string    `json:"maintenanceStage,omitempty"`
	Nodes                 []*Node   `json:"nodes"`
	Edges                 []*Edge   `json:"edges"`
}
