package pipeline

// StageHealth carries the health fields every stage snapshot shares. The
// realtime monitor derives alerts from these without knowing stage types.
type StageHealth struct {
	Enabled   bool   `json:"enabled"`
	Running   bool   `json:"running"`
	Healthy   bool   `json:"healthy"`
	LastError string `json:"last_error,omitempty"`
}

// Health returns the embedded health fields. Snapshot structs that embed
// StageHealth satisfy HealthReporter through this method.
func (h StageHealth) Health() StageHealth {
	return h
}

// HealthReporter is implemented by stage snapshots that expose health state.
type HealthReporter interface {
	Health() StageHealth
}
