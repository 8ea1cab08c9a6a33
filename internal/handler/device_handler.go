package handler

import (
	"encoding/json"
	"net/http"

	"gigsync-server/internal/domain"
	"gigsync-server/internal/middleware"
	"gigsync-server/internal/service"
	"gigsync-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type DeviceHandler struct {
	service  *service.DeviceService
	validate *validator.Validate
}

func NewDeviceHandler(service *service.DeviceService) *DeviceHandler {
	return &DeviceHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	userID := middleware.GetUserID(r)

	device, err := h.service.Register(userID, &req)
	if err != nil {
		response.Error(w, http.StatusConflict, err.Error())
		return
	}

	response.Created(w, device)
}

func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)

	devices, err := h.service.List(userID)
	if err != nil {
		response.InternalError(w, "Failed to list devices")
		return
	}

	response.Success(w, devices)
}

func (h *DeviceHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	deviceID := mux.Vars(r)["id"]

	if err := h.service.Revoke(userID, deviceID); err != nil {
		response.Error(w, http.StatusForbidden, err.Error())
		return
	}

	response.Success(w, map[string]string{
		"message": "Device revoked",
	})
}
