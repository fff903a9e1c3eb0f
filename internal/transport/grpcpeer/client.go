package grpcpeer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/focussync/internal/common"
	"github.com/dmitrijs2005/focussync/internal/cryptox"
	"github.com/dmitrijs2005/focussync/internal/logging"
	"github.com/dmitrijs2005/focussync/internal/models"
	"github.com/dmitrijs2005/focussync/internal/peer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Client is a peer.Transport over a static list of peer addresses.
// Connections are created lazily and reused.
type Client struct {
	addrs    []string
	dialOpts []grpc.DialOption
	logger   logging.Logger

	mu     sync.Mutex
	conns  map[string]*grpc.ClientConn
	closed bool
}

var _ peer.Transport = (*Client)(nil)

// NewClient builds a transport for addrs. Extra dial options are appended
// after the insecure transport credentials.
func NewClient(addrs []string, l logging.Logger, opts ...grpc.DialOption) *Client {
	return &Client{
		addrs:    addrs,
		dialOpts: append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...),
		logger:   l.With("module", "grpc_peer_client"),
		conns:    make(map[string]*grpc.ClientConn),
	}
}

func (c *Client) client(addr string) (PeerClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("%w: transport closed", common.ErrPeerUnavailable)
	}
	if conn, ok := c.conns[addr]; ok {
		return NewPeerClient(conn), nil
	}
	conn, err := grpc.NewClient(addr, c.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrPeerUnavailable, err)
	}
	c.conns[addr] = conn
	return NewPeerClient(conn), nil
}

// Discover says hello to every configured address. Unreachable peers are
// skipped; an error is returned only when none answered.
func (c *Client) Discover(ctx context.Context) ([]models.Device, error) {
	var out []models.Device
	var errs []error
	for _, addr := range c.addrs {
		pc, err := c.client(addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resp, err := pc.Hello(ctx, &HelloRequest{})
		if err != nil {
			c.logger.Debug(ctx, "peer did not answer hello", "address", addr, "error", err)
			errs = append(errs, mapError(err))
			continue
		}
		d := resp.Device
		d.Address = addr
		out = append(out, d)
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (c *Client) Exchange(ctx context.Context, to models.Device, offer peer.Offer) (*cryptox.Envelope, error) {
	if to.Address == "" {
		return nil, fmt.Errorf("%w: no address for %s", common.ErrPeerUnavailable, to.ID)
	}
	pc, err := c.client(to.Address)
	if err != nil {
		return nil, err
	}
	resp, err := pc.Exchange(ctx, &ExchangeRequest{Offer: offer})
	if err != nil {
		return nil, mapError(err)
	}
	if resp.Envelope == nil {
		return nil, fmt.Errorf("%w: empty reply", cryptox.ErrDecryption)
	}
	return resp.Envelope, nil
}

// Close closes every cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	var errs []error
	for addr, conn := range c.conns {
		errs = append(errs, conn.Close())
		delete(c.conns, addr)
	}
	return errors.Join(errs...)
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", common.ErrPeerUnavailable, st.Message())
	case codes.Canceled:
		return context.Canceled
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: peer: %s", common.ErrSyncDisabled, st.Message())
	case codes.PermissionDenied:
		return fmt.Errorf("%w: %s", common.ErrUntrustedDevice, st.Message())
	case codes.Unauthenticated:
		return fmt.Errorf("%w: %s", common.ErrInvalidCredential, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", cryptox.ErrDecryption, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
