package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"gigsync-server/internal/domain"
	"gigsync-server/internal/middleware"
	"gigsync-server/internal/service"
	"gigsync-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type SyncHandler struct {
	pushService      *service.PushService
	pullService      *service.PullService
	changelogService *service.ChangelogService
	deviceService    *service.DeviceService
	validator        *validator.Validate
}

func NewSyncHandler(
	pushService *service.PushService,
	pullService *service.PullService,
	changelogService *service.ChangelogService,
	deviceService *service.DeviceService,
) *SyncHandler {
	return &SyncHandler{
		pushService:      pushService,
		pullService:      pullService,
		changelogService: changelogService,
		deviceService:    deviceService,
		validator:        validator.New(),
	}
}

func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req domain.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}
	if err := h.deviceService.EnsureActive(userID, req.DeviceID); err != nil {
		response.Forbidden(w, err.Error())
		return
	}

	res, err := h.pushService.Push(userID, &req)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	// Best-effort device activity tracking; never fails the sync.
	_ = h.deviceService.Touch(req.DeviceID)

	response.Success(w, res)
}

func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req domain.PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}
	if err := h.deviceService.EnsureActive(userID, req.DeviceID); err != nil {
		response.Forbidden(w, err.Error())
		return
	}

	res, err := h.pullService.Pull(userID, &req)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	_ = h.deviceService.Touch(req.DeviceID)

	response.Success(w, res)
}

func (h *SyncHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	vars := mux.Vars(r)
	entries, err := h.changelogService.History(userID, vars["table"], vars["id"])
	if err != nil {
		if errors.Is(err, service.ErrRecordNotFound) {
			response.NotFound(w, "record has no history")
			return
		}
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, map[string]interface{}{
		"entries": entries,
	})
}

func (h *SyncHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	vars := mux.Vars(r)
	record, err := h.changelogService.Rebuild(userID, vars["table"], vars["id"])
	if err != nil {
		if errors.Is(err, service.ErrRecordNotFound) {
			response.NotFound(w, "record has no history")
			return
		}
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, record)
}
