package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/pairing-gateway-go/internal/errors"
	"github.com/openclaw/pairing-gateway-go/internal/httputil"
	"github.com/openclaw/pairing-gateway-go/internal/model"
	"github.com/openclaw/pairing-gateway-go/internal/service"
	"github.com/openclaw/pairing-gateway-go/internal/util"
)

// PairingAPI is the service surface the HTTP layer drives.
type PairingAPI interface {
	RequestCode(ctx context.Context, phoneNumber string) (*service.CodeResult, error)
	RequestQR(ctx context.Context, phoneNumber string) (*service.QRResult, error)
	GetStatus(ctx context.Context) service.StatusResult
	GetSession(ctx context.Context, code string) (*model.PairingSession, error)
	MarkLinkedByCode(ctx context.Context, code, linkedTo string) (*model.PairingSession, error)
	MarkUsedByCode(ctx context.Context, code, usedBy string) (*model.PairingSession, error)
	RestartConnection(ctx context.Context) service.StatusResult
}

type codeRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required"`
}

type qrRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type linkRequest struct {
	LinkedTo string `json:"linkedTo" validate:"max=256"`
}

type usedRequest struct {
	UsedBy string `json:"usedBy" validate:"max=256"`
}

type PairingHandler struct {
	pairing PairingAPI
}

func NewPairingHandler(pairing PairingAPI) *PairingHandler {
	return &PairingHandler{pairing: pairing}
}

// Routes mounts under /api. Code issuance routes take issueLimit and the
// mutating operator routes take operatorAuth; either may be nil.
func (h *PairingHandler) Routes(issueLimit, operatorAuth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		if issueLimit != nil {
			r.Use(issueLimit)
		}
		r.Post("/code", h.RequestCode)
		r.Post("/qr", h.RequestQR)
	})

	r.Get("/status", h.GetStatus)
	r.Get("/sessions/{code}", h.GetSession)

	r.Group(func(r chi.Router) {
		if operatorAuth != nil {
			r.Use(operatorAuth)
		}
		r.Post("/sessions/{code}/link", h.MarkLinked)
		r.Post("/sessions/{code}/used", h.MarkUsed)
		r.Post("/connection/restart", h.RestartConnection)
	})

	return r
}

// POST /api/code
func (h *PairingHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeBody(r, &req, true); err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.pairing.RequestCode(r.Context(), req.PhoneNumber)
	if err != nil {
		writeServiceError(w, err, "failed to issue pairing code")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /api/qr
func (h *PairingHandler) RequestQR(w http.ResponseWriter, r *http.Request) {
	var req qrRequest
	if err := decodeBody(r, &req, false); err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.pairing.RequestQR(r.Context(), req.PhoneNumber)
	if err != nil {
		writeServiceError(w, err, "failed to issue qr pairing")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GET /api/status
func (h *PairingHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pairing.GetStatus(r.Context()))
}

// GET /api/sessions/{code}
func (h *PairingHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.pairing.GetSession(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeServiceError(w, err, "failed to look up pairing session")
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// POST /api/sessions/{code}/link
func (h *PairingHandler) MarkLinked(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := decodeBody(r, &req, false); err != nil {
		httputil.WriteError(w, err)
		return
	}

	session, err := h.pairing.MarkLinkedByCode(r.Context(), chi.URLParam(r, "code"), req.LinkedTo)
	if err != nil {
		writeServiceError(w, err, "failed to link pairing session")
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// POST /api/sessions/{code}/used
func (h *PairingHandler) MarkUsed(w http.ResponseWriter, r *http.Request) {
	var req usedRequest
	if err := decodeBody(r, &req, false); err != nil {
		httputil.WriteError(w, err)
		return
	}

	session, err := h.pairing.MarkUsedByCode(r.Context(), chi.URLParam(r, "code"), req.UsedBy)
	if err != nil {
		writeServiceError(w, err, "failed to mark pairing session used")
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// POST /api/connection/restart
func (h *PairingHandler) RestartConnection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pairing.RestartConnection(r.Context()))
}

// decodeBody reads a JSON body into v and runs its validate tags. An empty
// body is accepted unless required is set.
func decodeBody(r *http.Request, v any, required bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	switch {
	case errors.Is(err, io.EOF):
		if required {
			return apperrors.MissingRequired("request body")
		}
	case err != nil:
		return apperrors.ValidationError("Invalid JSON body")
	}

	if err := util.ValidateStruct(v); err != nil {
		if field, tag, ok := util.FirstInvalidField(err); ok {
			if tag == "required" {
				return apperrors.MissingRequired(field)
			}
			return apperrors.InvalidInput(field, "failed "+tag)
		}
		return apperrors.ValidationError("Invalid request body")
	}
	return nil
}

func writeServiceError(w http.ResponseWriter, err error, msg string) {
	if apperrors.HasCode(err, apperrors.ErrCodeInternal) || apperrors.HasCode(err, apperrors.ErrCodeDatabase) {
		log.Error().Err(err).Msg(msg)
	}
	httputil.WriteError(w, err)
}
