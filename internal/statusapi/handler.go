// Package statusapi is the local HTTP control surface of the sync agent:
// status, enable/disable, manual trigger, trusted device management and a
// websocket stream of status events.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/focussync/internal/common"
	"github.com/dmitrijs2005/focussync/internal/cryptox"
	"github.com/dmitrijs2005/focussync/internal/logging"
	"github.com/dmitrijs2005/focussync/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Service is the part of the orchestrator the API drives.
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
	Events(ctx context.Context, buf int) (<-chan models.StatusEvent, error)
}

type EnableRequest struct {
	Passphrase string `json:"passphrase" validate:"required,min=8,max=1024"`
}

type AddDeviceRequest struct {
	// name and type may be filled in from discovery
	Device     models.Device `json:"device" validate:"-"`
	Passphrase string        `json:"passphrase" validate:"required,max=1024"`
}

type AutoSyncRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type Handler struct {
	svc      Service
	log      logging.Logger
	validate *validator.Validate
	upgrader websocket.Upgrader
}

func NewHandler(svc Service, l logging.Logger) *Handler {
	return &Handler{
		svc:      svc,
		log:      l.With("module", "status_api"),
		validate: validator.New(),
		// nil CheckOrigin keeps gorilla's same-origin check
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// decode reads a JSON body into v and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "Invalid request payload")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		badRequest(w, err.Error())
		return false
	}
	return true
}

// fail maps orchestrator errors to HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrInvalidPassphrase):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, common.ErrInvalidCredential), errors.Is(err, common.ErrUntrustedDevice):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, common.ErrSyncDisabled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, common.ErrorValidation), errors.Is(err, cryptox.ErrKeyDerivation):
		badRequest(w, err.Error())
	case errors.Is(err, common.ErrorNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.log.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ok(w, h.svc.Status())
}

func (h *Handler) Encryption(w http.ResponseWriter, r *http.Request) {
	ok(w, h.svc.EncryptionInfo())
}

func (h *Handler) Enable(w http.ResponseWriter, r *http.Request) {
	var req EnableRequest
	if !h.decode(w, r, &req) {
		return
	}
	pass := []byte(req.Passphrase)
	defer common.WipeByteArray(pass)

	if err := h.svc.EnableSync(r.Context(), pass); err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, h.svc.Status())
}

func (h *Handler) Disable(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DisableSync(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, h.svc.Status())
}

func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.TriggerSync(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, h.svc.Status())
}

func (h *Handler) AutoSync(w http.ResponseWriter, r *http.Request) {
	var req AutoSyncRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.SetAutoSync(r.Context(), *req.Enabled); err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, h.svc.Status())
}

func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices := h.svc.TrustedDevices()
	if devices == nil {
		devices = []models.Device{}
	}
	ok(w, devices)
}

func (h *Handler) DiscoveredDevices(w http.ResponseWriter, r *http.Request) {
	devices := h.svc.DiscoveredDevices()
	if devices == nil {
		devices = []models.Device{}
	}
	ok(w, devices)
}

func (h *Handler) CurrentDevice(w http.ResponseWriter, r *http.Request) {
	ok(w, h.svc.CurrentDevice())
}

func (h *Handler) AddDevice(w http.ResponseWriter, r *http.Request) {
	var req AddDeviceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Device.ID == "" {
		badRequest(w, "Device ID is required")
		return
	}
	pass := []byte(req.Passphrase)
	defer common.WipeByteArray(pass)

	d, err := h.svc.AddTrustedDevice(r.Context(), req.Device, pass)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	created(w, d)
}

func (h *Handler) RemoveDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		badRequest(w, "Device ID is required")
		return
	}
	removed, err := h.svc.RemoveTrustedDevice(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, map[string]bool{"removed": removed})
}
