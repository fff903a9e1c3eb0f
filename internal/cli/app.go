package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/dmitrijs2005/focussync/internal/cryptox"
	"github.com/dmitrijs2005/focussync/internal/models"
)

// Service is the orchestrator surface the CLI drives.
type Service interface {
	Status() models.SyncStatus
	EnableSync(ctx context.Context, passphrase []byte) error
	DisableSync(ctx context.Context) error
	TriggerSync(ctx context.Context) error
	SetAutoSync(ctx context.Context, on bool) error
	CurrentDevice() models.Device
	TrustedDevices() []models.Device
	DiscoveredDevices() []models.Device
	AddTrustedDevice(ctx context.Context, d models.Device, passphrase []byte) (models.Device, error)
	RemoveTrustedDevice(ctx context.Context, id string) (bool, error)
	EncryptionInfo() cryptox.EncryptionInfo
}

type App struct {
	svc    Service
	reader *bufio.Reader
	out    io.Writer
}

func NewApp(svc Service, in io.Reader, out io.Writer) *App {
	return &App{svc: svc, reader: bufio.NewReader(in), out: out}
}

func (a *App) getStatus() string {
	st := a.svc.Status()
	s := string(st.Phase)
	if st.Session != nil {
		s = fmt.Sprintf("%s %s", s, st.Session.DeviceName)
	}
	return fmt.Sprintf("(%s)", s)
}

// Root runs the REPL until the user exits or input ends.
func (a *App) Root(ctx context.Context) {
	fmt.Fprintln(a.out, "Welcome to focussync CLI (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, a.reader)
}
