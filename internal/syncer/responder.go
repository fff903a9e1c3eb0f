package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/focussync/internal/common"
	"github.com/dmitrijs2005/focussync/internal/cryptox"
	"github.com/dmitrijs2005/focussync/internal/device"
	"github.com/dmitrijs2005/focussync/internal/models"
	"github.com/dmitrijs2005/focussync/internal/peer"
)

var _ peer.Responder = (*Orchestrator)(nil)

// Describe returns the local device with a fresh pairing credential when sync
// is enabled.
func (o *Orchestrator) Describe(ctx context.Context) (models.Device, error) {
	o.mu.Lock()
	started := o.started
	kr := o.keyring
	self := o.self
	o.mu.Unlock()

	if !started {
		return models.Device{}, ErrNotStarted
	}
	if kr == nil {
		return self, nil
	}
	return o.describe(kr)
}

func (o *Orchestrator) describe(kr *cryptox.Keyring) (models.Device, error) {
	o.mu.Lock()
	self := o.self
	o.mu.Unlock()

	var cred string
	err := kr.WithActive(func(k *cryptox.KeyInfo) error {
		var err error
		cred, err = device.IssueCredential(k, self.ID, o.now(), device.CredentialTTL)
		return err
	})
	if err != nil {
		return models.Device{}, err
	}
	self.PublicKey = cred
	self.LastSeen = o.now().UnixMilli()
	return self, nil
}

// HandleExchange serves a session started by a trusted peer: its envelope is
// merged and the local dataset is sealed in reply.
func (o *Orchestrator) HandleExchange(ctx context.Context, offer peer.Offer) (*cryptox.Envelope, error) {
	kr, gen, err := o.activeKeyring()
	if err != nil {
		return nil, err
	}

	from := offer.From
	if _, ok := o.trust.Get(from.ID); !ok {
		o.log.Warn(ctx, "exchange refused, device is not trusted", "device", from.ID)
		return nil, fmt.Errorf("%w: %s", common.ErrUntrustedDevice, from.ID)
	}
	if err := device.VerifyCredential(from.PublicKey, from.ID, kr.WithKey, o.now()); err != nil {
		o.log.Warn(ctx, "exchange refused, credential rejected", "device", from.ID, "error", err)
		return nil, err
	}

	remote, err := openRemote(kr, offer.Envelope)
	if err != nil {
		return nil, err
	}
	st, err := o.commit(ctx, gen, remote)
	if err != nil {
		if errors.Is(err, errStale) {
			return nil, common.ErrSyncDisabled
		}
		return nil, err
	}

	if _, err := o.trust.Refresh(ctx, models.Device{ID: from.ID, Name: from.Name, Address: from.Address, LastSeen: o.now().UnixMilli()}); err != nil {
		o.log.Warn(ctx, "failed to record device contact", "device", from.ID, "error", err)
	}
	o.log.Debug(ctx, "merged offer", "device", from.ID, "added", st.Added, "replaced", st.Replaced)
	o.emit(ctx, models.EventRemoteMerged, from.ID)

	env, err := o.sealLocal(ctx, kr, gen)
	if errors.Is(err, errStale) {
		return nil, common.ErrSyncDisabled
	}
	return env, err
}
