// Package loopback is an in-process peer transport. Every Node joined to a
// Network can discover and exchange with the others, which lets several
// orchestrators run side by side in one process.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/focussync/internal/common"
	"github.com/dmitrijs2005/focussync/internal/cryptox"
	"github.com/dmitrijs2005/focussync/internal/models"
	"github.com/dmitrijs2005/focussync/internal/peer"
)

var ErrClosed = errors.New("loopback node closed")

// Interceptor runs before an exchange is delivered. A non-nil error fails
// the exchange; blocking delays it.
type Interceptor func(ctx context.Context, to models.Device) error

type Network struct {
	mu          sync.RWMutex
	nodes       []*Node
	intercept   Interceptor
	unreachable map[string]error
}

func NewNetwork() *Network {
	return &Network{unreachable: make(map[string]error)}
}

// Join adds a node without a responder yet; attach one with Serve.
func (n *Network) Join() *Node {
	node := &Node{net: n}
	n.mu.Lock()
	n.nodes = append(n.nodes, node)
	n.mu.Unlock()
	return node
}

// Intercept installs fn for every exchange on the network. nil removes it.
func (n *Network) Intercept(fn Interceptor) {
	n.mu.Lock()
	n.intercept = fn
	n.mu.Unlock()
}

// Fail makes exchanges with deviceID return err. A nil err restores it.
func (n *Network) Fail(deviceID string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err == nil {
		delete(n.unreachable, deviceID)
		return
	}
	n.unreachable[deviceID] = err
}

func (n *Network) leave(node *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, x := range n.nodes {
		if x == node {
			n.nodes = append(n.nodes[:i], n.nodes[i+1:]...)
			return
		}
	}
}

func (n *Network) snapshot() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]*Node(nil), n.nodes...)
}

// Node is one device's view of the network. It implements peer.Transport.
type Node struct {
	net *Network

	mu        sync.RWMutex
	responder peer.Responder
	closed    bool
}

var _ peer.Transport = (*Node)(nil)

// Serve attaches the responder answering exchanges addressed to this node.
func (nd *Node) Serve(r peer.Responder) {
	nd.mu.Lock()
	nd.responder = r
	nd.mu.Unlock()
}

func (nd *Node) handler() peer.Responder {
	nd.mu.RLock()
	defer nd.mu.RUnlock()
	if nd.closed {
		return nil
	}
	return nd.responder
}

// Discover describes every other serving node on the network.
func (nd *Node) Discover(ctx context.Context) ([]models.Device, error) {
	if nd.isClosed() {
		return nil, ErrClosed
	}
	var out []models.Device
	for _, other := range nd.net.snapshot() {
		if other == nd {
			continue
		}
		r := other.handler()
		if r == nil {
			continue
		}
		d, err := r.Describe(ctx)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (nd *Node) Exchange(ctx context.Context, to models.Device, offer peer.Offer) (*cryptox.Envelope, error) {
	if nd.isClosed() {
		return nil, ErrClosed
	}

	nd.net.mu.RLock()
	intercept := nd.net.intercept
	failure := nd.net.unreachable[to.ID]
	nd.net.mu.RUnlock()

	if intercept != nil {
		if err := intercept(ctx, to); err != nil {
			return nil, err
		}
	}
	if failure != nil {
		return nil, failure
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r, err := nd.lookup(ctx, to.ID)
	if err != nil {
		return nil, err
	}
	return r.HandleExchange(ctx, offer)
}

func (nd *Node) lookup(ctx context.Context, id string) (peer.Responder, error) {
	for _, other := range nd.net.snapshot() {
		if other == nd {
			continue
		}
		r := other.handler()
		if r == nil {
			continue
		}
		d, err := r.Describe(ctx)
		if err == nil && d.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", common.ErrPeerUnavailable, id)
}

func (nd *Node) isClosed() bool {
	nd.mu.RLock()
	defer nd.mu.RUnlock()
	return nd.closed
}

// Close leaves the network. It is safe to call more than once.
func (nd *Node) Close() error {
	nd.mu.Lock()
	if nd.closed {
		nd.mu.Unlock()
		return nil
	}
	nd.closed = true
	nd.mu.Unlock()
	nd.net.leave(nd)
	return nil
}
