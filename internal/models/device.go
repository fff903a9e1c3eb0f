// Package models defines the data exchanged between the sync orchestrator,
// its store, its transports and the UI: devices, syncable records, datasets
// and the status projection.
package models

// DeviceType is a coarse, cosmetic device class.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
)

// Device describes an installation taking part in sync. Timestamps are unix
// milliseconds so stored JSON stays compatible with the web client.
type Device struct {
	ID        string     `json:"id" validate:"required,max=128"`
	Name      string     `json:"name" validate:"required,max=128"`
	Type      DeviceType `json:"type" validate:"required,oneof=desktop mobile tablet"`
	Trusted   bool       `json:"trusted"`
	LastSeen  int64      `json:"lastSeen"`
	PublicKey string     `json:"publicKey,omitempty"`
	AddedAt   int64      `json:"addedAt,omitempty"`

	// Address is a transport specific locator, e.g. host:port for gRPC peers.
	Address string `json:"address,omitempty" validate:"omitempty,max=256"`
}
