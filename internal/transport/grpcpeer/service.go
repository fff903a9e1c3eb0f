// Package grpcpeer carries sync exchanges between devices over gRPC.
//
// The service focussync.peer.v1.Peer has two unary methods:
//
//   - Hello returns the responder's device descriptor (with its pairing
//     credential), used for discovery.
//   - Exchange delivers an encrypted offer and returns the responder's
//     encrypted dataset.
//
// Messages are plain Go structs encoded with a JSON codec registered under
// the "json" content subtype; payloads are already encrypted envelopes.
package grpcpeer

import (
	"context"

	"github.com/dmitrijs2005/focussync/internal/cryptox"
	"github.com/dmitrijs2005/focussync/internal/models"
	"github.com/dmitrijs2005/focussync/internal/peer"
	"google.golang.org/grpc"
)

const (
	ServiceName    = "focussync.peer.v1.Peer"
	helloMethod    = "/" + ServiceName + "/Hello"
	exchangeMethod = "/" + ServiceName + "/Exchange"
)

type HelloRequest struct {
	From string `json:"from,omitempty"`
}

type HelloReply struct {
	Device models.Device `json:"device"`
}

type ExchangeRequest struct {
	Offer peer.Offer `json:"offer"`
}

type ExchangeReply struct {
	Envelope *cryptox.Envelope `json:"envelope"`
}

// PeerServer is the server API for the Peer service.
type PeerServer interface {
	Hello(context.Context, *HelloRequest) (*HelloReply, error)
	Exchange(context.Context, *ExchangeRequest) (*ExchangeReply, error)
}

func RegisterPeerServer(s grpc.ServiceRegistrar, srv PeerServer) {
	s.RegisterService(&peerServiceDesc, srv)
}

func helloHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(HelloRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PeerServer).Hello(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: helloMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PeerServer).Hello(ctx, req.(*HelloRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func exchangeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ExchangeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PeerServer).Exchange(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: exchangeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PeerServer).Exchange(ctx, req.(*ExchangeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var peerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PeerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Hello", Handler: helloHandler},
		{MethodName: "Exchange", Handler: exchangeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "focussync/peer/v1/peer.proto",
}

// PeerClient is the client API for the Peer service.
type PeerClient interface {
	Hello(ctx context.Context, in *HelloRequest, opts ...grpc.CallOption) (*HelloReply, error)
	Exchange(ctx context.Context, in *ExchangeRequest, opts ...grpc.CallOption) (*ExchangeReply, error)
}

type peerClient struct {
	cc grpc.ClientConnInterface
}

func NewPeerClient(cc grpc.ClientConnInterface) PeerClient {
	return &peerClient{cc: cc}
}

func (c *peerClient) Hello(ctx context.Context, in *HelloRequest, opts ...grpc.CallOption) (*HelloReply, error) {
	out := new(HelloReply)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, helloMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *peerClient) Exchange(ctx context.Context, in *ExchangeRequest, opts ...grpc.CallOption) (*ExchangeReply, error) {
	out := new(ExchangeReply)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, exchangeMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
