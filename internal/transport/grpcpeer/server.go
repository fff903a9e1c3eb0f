package grpcpeer

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/dmitrijs2005/focussync/internal/common"
	"github.com/dmitrijs2005/focussync/internal/cryptox"
	"github.com/dmitrijs2005/focussync/internal/logging"
	"github.com/dmitrijs2005/focussync/internal/peer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server exposes a peer.Responder as the Peer service.
type Server struct {
	address   string
	responder peer.Responder
	logger    logging.Logger
}

var _ PeerServer = (*Server)(nil)

func NewServer(address string, l logging.Logger, r peer.Responder) *Server {
	return &Server{
		address:   address,
		responder: r,
		logger:    l.With("module", "grpc_peer_server"),
	}
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	RegisterPeerServer(srv, s)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC peer server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC peer server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}

func (s *Server) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug(ctx, "peer call", "method", info.FullMethod, "code", status.Code(err).String(), "duration", time.Since(start))
	return resp, err
}

func (s *Server) Hello(ctx context.Context, req *HelloRequest) (*HelloReply, error) {
	d, err := s.responder.Describe(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &HelloReply{Device: d}, nil
}

func (s *Server) Exchange(ctx context.Context, req *ExchangeRequest) (*ExchangeReply, error) {
	if req.Offer.Envelope == nil {
		return nil, status.Error(codes.InvalidArgument, "missing envelope")
	}

	env, err := s.responder.HandleExchange(ctx, req.Offer)
	if err != nil {
		s.logger.Warn(ctx, "exchange rejected", "from", req.Offer.From.ID, "error", err)
		return nil, toStatus(err)
	}

	s.logger.Info(ctx, "exchange served", "from", req.Offer.From.ID)
	return &ExchangeReply{Envelope: env}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, common.ErrSyncDisabled):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, common.ErrUntrustedDevice):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, common.ErrInvalidCredential):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, cryptox.ErrDecryption):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
