// Package peer defines the contract between the sync orchestrator and the
// transports that carry encrypted envelopes between devices.
package peer

import (
	"context"

	"github.com/dmitrijs2005/focussync/internal/cryptox"
	"github.com/dmitrijs2005/focussync/internal/models"
)

// Offer is what an initiating device sends: its descriptor (with pairing
// credential) and its sealed dataset.
type Offer struct {
	From     models.Device     `json:"from"`
	Envelope *cryptox.Envelope `json:"envelope"`
}

// Transport finds peers and exchanges envelopes with them. Implementations
// must honour ctx cancellation on Exchange.
type Transport interface {
	// Discover returns the devices currently reachable. The result may
	// include untrusted devices and the local device itself.
	Discover(ctx context.Context) ([]models.Device, error)

	// Exchange sends offer to the device and returns its sealed dataset.
	Exchange(ctx context.Context, to models.Device, offer Offer) (*cryptox.Envelope, error)

	Close() error
}

// Responder is the receiving side of an exchange, implemented by the
// orchestrator and served by transports.
type Responder interface {
	HandleExchange(ctx context.Context, offer Offer) (*cryptox.Envelope, error)

	// Describe returns the local device as peers should see it.
	Describe(ctx context.Context) (models.Device, error)
}
