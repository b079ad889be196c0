package notification

import "errors"

var (
	ErrMessageNotFound  = errors.New("notification not found")
	ErrUnknownTemplate  = errors.New("unknown notification template")
	ErrInvalidMessage   = errors.New("invalid notification")
	ErrRenderFailed     = errors.New("failed to render notification")
	ErrDeliveryFailed   = errors.New("failed to deliver notification")
	ErrStoreUnavailable = errors.New("notification store unavailable")
)
