package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/simsocial/conversation-orchestrator/internal/campaign"
	"github.com/simsocial/conversation-orchestrator/pkg/logger"
)

// CampaignHandler exposes the campaign lifecycle over HTTP.
type CampaignHandler struct {
	service *campaign.Service
	logger  *logger.Logger
}

// NewCampaignHandler creates the campaign handler.
func NewCampaignHandler(service *campaign.Service, log *logger.Logger) *CampaignHandler {
	return &CampaignHandler{service: service, logger: log}
}

// Create handles POST /api/v1/campaigns
func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	var params campaign.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.service.Create(r.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, campaign.ErrValidation):
			writeError(w, http.StatusBadRequest, "account_id, name and template_name are required")
		case errors.Is(err, campaign.ErrEmptySegment):
			writeError(w, http.StatusUnprocessableEntity, "segment matches no contacts")
		default:
			writeError(w, http.StatusInternalServerError, "failed to create campaign")
		}
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// Start handles POST /api/v1/campaigns/{id}/start
func (h *CampaignHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.Start)
}

// Pause handles POST /api/v1/campaigns/{id}/pause
func (h *CampaignHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.Pause)
}

// Resume handles POST /api/v1/campaigns/{id}/resume
func (h *CampaignHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.Resume)
}

// Cancel handles POST /api/v1/campaigns/{id}/cancel
func (h *CampaignHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.Cancel)
}

// Analytics handles GET /api/v1/campaigns/{id}/analytics
func (h *CampaignHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	analytics, err := h.service.Analytics(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

func (h *CampaignHandler) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uint) error) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	if err := op(r.Context(), id); err != nil {
		if errors.Is(err, campaign.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, "campaign is not in a valid state for this operation")
			return
		}
		writeError(w, http.StatusInternalServerError, "operation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func campaignID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return 0, false
	}
	return uint(id), true
}
