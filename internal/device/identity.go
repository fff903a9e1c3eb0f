// Package device manages the local device identity, the trusted-device
// registry and the pairing credentials peers present to each other.
package device

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/dmitrijs2005/focussync/internal/models"
	"github.com/dmitrijs2005/focussync/internal/store"
	"github.com/google/uuid"
)

// NewID returns "device-<unix ms>-<12 random hex chars>".
func NewID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("device-%d-%s", now.UnixMilli(), suffix)
}

// LoadOrCreateIdentity returns the local device. The id is generated on first
// run and persisted; it is never regenerated afterwards. Name and type are
// recomputed from platform on every start.
func LoadOrCreateIdentity(ctx context.Context, s store.Store, platform string, now time.Time) (models.Device, error) {
	id, ok, err := s.GetItem(ctx, store.KeyDeviceID)
	if err != nil {
		return models.Device{}, fmt.Errorf("load device id: %w", err)
	}
	if !ok || id == "" {
		id = NewID(now)
		if err := s.SetItem(ctx, store.KeyDeviceID, id); err != nil {
			return models.Device{}, fmt.Errorf("persist device id: %w", err)
		}
	}

	name, typ := Classify(platform)
	return models.Device{
		ID:       id,
		Name:     name,
		Type:     typ,
		Trusted:  true,
		LastSeen: now.UnixMilli(),
	}, nil
}

// LocalPlatform describes the running process for Classify.
func LocalPlatform() string {
	return runtime.GOOS
}

// Classify derives a human readable name and a coarse type from a user agent
// or a GOOS value. It is cosmetic only.
func Classify(platform string) (string, models.DeviceType) {
	p := strings.ToLower(platform)
	has := func(s ...string) bool {
		for _, v := range s {
			if strings.Contains(p, v) {
				return true
			}
		}
		return false
	}

	// phones and tablets first: their user agents also mention "mac" or "linux"
	switch {
	case has("ipad"):
		return "iPad", models.DeviceTablet
	case has("iphone", "ios"):
		return "iPhone", models.DeviceMobile
	case has("android"):
		if has("mobile") || p == "android" {
			return "Android Device", models.DeviceMobile
		}
		return "Android Tablet", models.DeviceTablet
	case has("mac", "darwin"):
		return "MacBook", models.DeviceDesktop
	case has("windows"):
		return "Windows PC", models.DeviceDesktop
	case has("linux", "freebsd", "openbsd"):
		return "Linux PC", models.DeviceDesktop
	case has("mobile"):
		return "Unknown Device", models.DeviceMobile
	default:
		return "Unknown Device", models.DeviceDesktop
	}
}
