package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/focussync/internal/common"
	"github.com/dmitrijs2005/focussync/internal/cryptox"
	"github.com/dmitrijs2005/focussync/internal/models"
)

var errUsage = errors.New("usage")

func (a *App) fail(msg string, err error) error {
	fmt.Fprintf(a.out, "%s: %v\n", msg, err)
	return err
}

func (a *App) Enable(ctx context.Context) error {
	pass, err := GetPassword(a.out, "Sync passphrase: ")
	if err != nil {
		return a.fail("Failed to read passphrase", err)
	}
	defer common.WipeByteArray(pass)

	if len(pass) == 0 {
		fmt.Fprintln(a.out, "Passphrase must not be empty")
		return errUsage
	}

	if !a.svc.Status().Enabled {
		confirm, err := GetPassword(a.out, "Repeat passphrase: ")
		if err != nil {
			return a.fail("Failed to read passphrase", err)
		}
		defer common.WipeByteArray(confirm)
		if string(confirm) != string(pass) {
			fmt.Fprintln(a.out, "Passphrases do not match")
			return errUsage
		}
	}

	if err := a.svc.EnableSync(ctx, pass); err != nil {
		return a.fail("Failed to enable sync", err)
	}
	info := a.svc.EncryptionInfo()
	fmt.Fprintf(a.out, "Sync enabled (%s, %s)\n", info.Algorithm, info.KDF)
	return nil
}

func (a *App) Disable(ctx context.Context) error {
	if err := a.svc.DisableSync(ctx); err != nil {
		return a.fail("Failed to disable sync", err)
	}
	fmt.Fprintln(a.out, "Sync disabled")
	return nil
}

func (a *App) Sync(ctx context.Context) error {
	if err := a.svc.TriggerSync(ctx); err != nil {
		return a.fail("Sync failed", err)
	}
	st := a.svc.Status()
	fmt.Fprintf(a.out, "Synced with %d device(s)\n", st.DeviceCount)
	return nil
}

func formatTime(ms int64) string {
	if ms == 0 {
		return "never"
	}
	return time.UnixMilli(ms).Format(time.DateTime)
}

func (a *App) ShowStatus(ctx context.Context) error {
	st := a.svc.Status()

	fmt.Fprintf(a.out, "Sync:       %s\n", onOff(st.Enabled))
	fmt.Fprintf(a.out, "Phase:      %s\n", st.Phase)
	if st.Session != nil {
		fmt.Fprintf(a.out, "Session:    %s (%s)\n", st.Session.DeviceName, st.Session.Phase)
	}
	if st.Progress.Total > 0 {
		fmt.Fprintf(a.out, "Progress:   %d/%d %s\n", st.Progress.Current, st.Progress.Total, st.Progress.Message)
	}
	fmt.Fprintf(a.out, "Auto sync:  %s\n", onOff(st.AutoSync))
	fmt.Fprintf(a.out, "Encrypted:  %t\n", st.Encrypted)
	fmt.Fprintf(a.out, "Devices:    %d trusted\n", st.DeviceCount)
	fmt.Fprintf(a.out, "Last sync:  %s\n", formatTime(st.LastSyncTime))
	if st.ErrorMessage != "" {
		fmt.Fprintf(a.out, "Error:      %s\n", st.ErrorMessage)
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (a *App) printDevice(d models.Device) {
	fmt.Fprintf(a.out, "  %-28s %-20s %-8s last seen %s\n", d.ID, d.Name, d.Type, formatTime(d.LastSeen))
}

func (a *App) Devices(ctx context.Context) error {
	fmt.Fprintln(a.out, "This device:")
	a.printDevice(a.svc.CurrentDevice())

	trusted := a.svc.TrustedDevices()
	fmt.Fprintf(a.out, "Trusted (%d):\n", len(trusted))
	for _, d := range trusted {
		a.printDevice(d)
	}

	discovered := a.svc.DiscoveredDevices()
	if len(discovered) > 0 {
		fmt.Fprintf(a.out, "Discovered (%d), use 'add <id>' to trust:\n", len(discovered))
		for _, d := range discovered {
			a.printDevice(d)
		}
	}
	return nil
}

func (a *App) deviceID(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	return GetSimpleText(a.reader, "Device ID", a.out)
}

func (a *App) Add(ctx context.Context, args []string) error {
	id, err := a.deviceID(args)
	if err != nil {
		return a.fail("Failed to read device ID", err)
	}
	if id == "" {
		fmt.Fprintln(a.out, "Usage: add <device-id>")
		return errUsage
	}

	pass, err := GetPassword(a.out, "Sync passphrase: ")
	if err != nil {
		return a.fail("Failed to read passphrase", err)
	}
	defer common.WipeByteArray(pass)

	d, err := a.svc.AddTrustedDevice(ctx, models.Device{ID: id}, pass)
	if err != nil {
		return a.fail("Device not added", err)
	}
	fmt.Fprintf(a.out, "Trusted %s (%s)\n", d.Name, d.ID)
	return nil
}

func (a *App) Remove(ctx context.Context, args []string) error {
	id, err := a.deviceID(args)
	if err != nil {
		return a.fail("Failed to read device ID", err)
	}
	if id == "" {
		fmt.Fprintln(a.out, "Usage: remove <device-id>")
		return errUsage
	}

	removed, err := a.svc.RemoveTrustedDevice(ctx, id)
	if err != nil {
		return a.fail("Failed to remove device", err)
	}
	if !removed {
		fmt.Fprintf(a.out, "%s is not a trusted device\n", id)
		return nil
	}
	fmt.Fprintf(a.out, "Removed %s\n", id)
	return nil
}

func (a *App) AutoSync(ctx context.Context, args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		fmt.Fprintln(a.out, "Usage: auto on|off")
		return errUsage
	}
	if err := a.svc.SetAutoSync(ctx, args[0] == "on"); err != nil {
		return a.fail("Failed to switch auto sync", err)
	}
	fmt.Fprintf(a.out, "Auto sync %s\n", args[0])
	return nil
}

func (a *App) Passphrase(ctx context.Context) error {
	p, err := cryptox.GeneratePassphrase(5)
	if err != nil {
		return a.fail("Failed to generate passphrase", err)
	}
	fmt.Fprintln(a.out, p)
	fmt.Fprintln(a.out, "Use the same passphrase on every device you want to sync.")
	return nil
}
