package service

import "errors"

var (
	ErrUnknownTable       = errors.New("unknown table")
	ErrInvalidPayload     = errors.New("payload must be a JSON object")
	ErrMissingRecordID    = errors.New("missing record id")
	ErrRecordNotFound     = errors.New("record not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrDeviceRevoked      = errors.New("device has been revoked")
)
