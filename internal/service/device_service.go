package service

import (
	"errors"
	"fmt"
	"time"

	"gigsync-server/internal/domain"
	"gigsync-server/internal/repository"
)

type DeviceService struct {
	repo repository.DeviceRepository
}

func NewDeviceService(repo repository.DeviceRepository) *DeviceService {
	return &DeviceService{
		repo: repo,
	}
}

// Register records a device under the account. The id is chosen by the
// client and stable across restarts; registering the same id again is
// idempotent for its owner.
func (s *DeviceService) Register(userID string, req *domain.RegisterDeviceRequest) (*domain.DeviceResponse, error) {
	existing, err := s.repo.FindByID(req.ID)
	if err != nil && !errors.Is(err, repository.ErrDeviceNotFound) {
		return nil, fmt.Errorf("failed to check device: %w", err)
	}
	if err == nil {
		if existing.UserID != userID {
			return nil, errors.New("device id already registered to another account")
		}
		return toDeviceResponse(existing), nil
	}

	now := time.Now()
	device := &domain.Device{
		ID:         req.ID,
		UserID:     userID,
		Name:       req.Name,
		Platform:   req.Platform,
		AppVersion: req.AppVersion,
		LastActive: now,
		CreatedAt:  now,
	}

	if err := s.repo.Create(device); err != nil {
		return nil, err
	}

	return toDeviceResponse(device), nil
}

func (s *DeviceService) List(userID string) ([]*domain.DeviceResponse, error) {
	devices, err := s.repo.List(userID)
	if err != nil {
		return nil, err
	}

	responses := make([]*domain.DeviceResponse, 0, len(devices))
	for _, d := range devices {
		responses = append(responses, toDeviceResponse(d))
	}

	return responses, nil
}

func (s *DeviceService) Revoke(userID, deviceID string) error {
	device, err := s.repo.FindByID(deviceID)
	if err != nil {
		return err
	}

	if device.UserID != userID {
		return errors.New("device does not belong to user")
	}

	return s.repo.Revoke(deviceID)
}

// Touch refreshes the device's last-active timestamp; sync calls invoke
// it best-effort.
func (s *DeviceService) Touch(deviceID string) error {
	return s.repo.UpdateLastActive(deviceID)
}

// EnsureActive rejects sync traffic from a revoked device. Devices the
// account never registered are allowed through; registration is not a
// precondition for syncing. A storage failure is an error, not a pass.
func (s *DeviceService) EnsureActive(userID, deviceID string) error {
	device, err := s.repo.FindByID(deviceID)
	if errors.Is(err, repository.ErrDeviceNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check device: %w", err)
	}
	if device.UserID == userID && device.IsRevoked {
		return ErrDeviceRevoked
	}
	return nil
}

func toDeviceResponse(d *domain.Device) *domain.DeviceResponse {
	return &domain.DeviceResponse{
		ID:         d.ID,
		Name:       d.Name,
		Platform:   d.Platform,
		AppVersion: d.AppVersion,
		LastActive: d.LastActive,
		IsRevoked:  d.IsRevoked,
	}
}
