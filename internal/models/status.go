package models

// Phase is the orchestrator's externally visible state.
type Phase string

const (
	PhaseDisabled    Phase = "disabled"
	PhaseIdle        Phase = "idle"
	PhaseDiscovering Phase = "discovering"
	PhaseConnecting  Phase = "connecting"
	PhaseSyncing     Phase = "syncing"
	PhaseCompleted   Phase = "completed"
	PhaseError       Phase = "error"
)

type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// SessionStatus describes the per-device session in progress.
type SessionStatus struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	Phase      Phase  `json:"phase"`
}

// SyncStatus is rebuilt from orchestrator state on every event. It is never
// persisted.
type SyncStatus struct {
	Enabled       bool     `json:"enabled"`
	Phase         Phase    `json:"phase"`
	LastSyncTime  int64    `json:"lastSyncTime"`
	DeviceCount   int      `json:"deviceCount"`
	Encrypted     bool     `json:"encrypted"`
	ErrorMessage  string   `json:"errorMessage,omitempty"`
	Progress      Progress `json:"progress"`
	AutoSync      bool     `json:"autoSync"`
	CurrentDevice *Device  `json:"currentDevice,omitempty"`

	// Session is set while a per-device session runs. Its phase moves from
	// connecting to syncing; the top-level phase stays syncing.
	Session *SessionStatus `json:"session,omitempty"`
}

type EventType string

const (
	EventDeviceInitialized EventType = "device_initialized"
	EventSyncEnabled       EventType = "sync_enabled"
	EventSyncDisabled      EventType = "sync_disabled"
	EventDiscovering       EventType = "sync_discovering"
	EventDevicesDiscovered EventType = "devices_discovered"
	EventIdle              EventType = "sync_idle"
	EventInProgress        EventType = "sync_in_progress"
	EventConnecting        EventType = "sync_connecting"
	EventDeviceSynced      EventType = "device_synced"
	EventDeviceFailed      EventType = "device_sync_failed"
	EventCompleted         EventType = "sync_completed"
	EventError             EventType = "sync_error"
	EventDeviceAdded       EventType = "device_added"
	EventDeviceRemoved     EventType = "device_removed"
	EventRemoteMerged      EventType = "remote_merged"
)

// StatusEvent is delivered to every observer on each state change.
type StatusEvent struct {
	Type      EventType  `json:"type"`
	Data      any        `json:"data,omitempty"`
	Timestamp int64      `json:"timestamp"`
	Status    SyncStatus `json:"status"`
}
