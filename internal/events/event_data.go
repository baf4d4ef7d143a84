package events

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// OutcomeResolvedData contains data for OutcomeResolved events
type OutcomeResolvedData struct {
	EventID    string  `json:"event_id"`
	Book       string  `json:"book"`
	PatternKey string  `json:"pattern_key"`
	Category   string  `json:"action_category"`
	Outcome    float64 `json:"outcome"`
}

// EventType returns the event type for OutcomeResolvedData
func (d *OutcomeResolvedData) EventType() EventType {
	return OutcomeResolved
}

// MinerRunStartedData contains data for MinerRunStarted events
type MinerRunStartedData struct {
	RunID string `json:"run_id"`
	Book  string `json:"book,omitempty"`
}

// EventType returns the event type for MinerRunStartedData
func (d *MinerRunStartedData) EventType() EventType {
	return MinerRunStarted
}

// MinerRunCompletedData contains data for MinerRunCompleted events
type MinerRunCompletedData struct {
	RunID            string `json:"run_id"`
	Book             string `json:"book,omitempty"`
	EventsScanned    int    `json:"n_events_scanned"`
	StatsRetained    int    `json:"n_stats_retained"`
	OverridesCreated int    `json:"n_overrides_created"`
	SnapshotVersion  int64  `json:"snapshot_version"`
	DurationMs       int64  `json:"duration_ms"`
}

// EventType returns the event type for MinerRunCompletedData
func (d *MinerRunCompletedData) EventType() EventType {
	return MinerRunCompleted
}

// MinerRunFailedData contains data for MinerRunFailed events
type MinerRunFailedData struct {
	RunID string `json:"run_id"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// EventType returns the event type for MinerRunFailedData
func (d *MinerRunFailedData) EventType() EventType {
	return MinerRunFailed
}

// OverridesPublishedData contains data for OverridesPublished events
type OverridesPublishedData struct {
	Version   int64 `json:"version"`
	Overrides int   `json:"overrides"`
}

// EventType returns the event type for OverridesPublishedData
func (d *OverridesPublishedData) EventType() EventType {
	return OverridesPublished
}

// OverrideToggledData contains data for OverrideToggled events
type OverrideToggledData struct {
	OverrideID string `json:"override_id"`
	Enabled    bool   `json:"enabled"`
	Version    int64  `json:"version"`
}

// EventType returns the event type for OverrideToggledData
func (d *OverrideToggledData) EventType() EventType {
	return OverrideToggled
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
