package statusapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/focussync/internal/logging"
	"github.com/gorilla/mux"
)

// NewRouter wires the API routes under /api.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(LocalOriginMiddleware, JSONOnlyMiddleware)

	api.HandleFunc("/sync/status", h.Status).Methods(http.MethodGet)
	api.HandleFunc("/sync/encryption", h.Encryption).Methods(http.MethodGet)
	api.HandleFunc("/sync/enable", h.Enable).Methods(http.MethodPost)
	api.HandleFunc("/sync/disable", h.Disable).Methods(http.MethodPost)
	api.HandleFunc("/sync/trigger", h.Trigger).Methods(http.MethodPost)
	api.HandleFunc("/sync/autosync", h.AutoSync).Methods(http.MethodPost)
	api.HandleFunc("/sync/events", h.Events).Methods(http.MethodGet)

	api.HandleFunc("/devices", h.ListDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices", h.AddDevice).Methods(http.MethodPost)
	api.HandleFunc("/devices/current", h.CurrentDevice).Methods(http.MethodGet)
	api.HandleFunc("/devices/discovered", h.DiscoveredDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/{id}", h.RemoveDevice).Methods(http.MethodDelete)

	return r
}

// Server serves the API until its context is cancelled.
type Server struct {
	address string
	handler http.Handler
	logger  logging.Logger
}

func NewServer(address string, l logging.Logger, svc Service) *Server {
	return &Server{
		address: address,
		handler: NewRouter(NewHandler(svc, l)),
		logger:  l.With("module", "status_api_server"),
	}
}

func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping status API...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting status API", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
