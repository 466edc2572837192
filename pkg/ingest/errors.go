package ingest

import "errors"

var (
	// ErrEventInFlight is returned while another delivery of the same event
	// holds the claim. The sender is expected to retry later.
	ErrEventInFlight = errors.New("event is already being processed")

	ErrEmptyEventID = errors.New("event id is required")
)
