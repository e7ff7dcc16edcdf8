package influence

import "github.com/rotisserie/eris"

var (
	// ErrUnknownChannel is returned when a channel has no tracker.
	ErrUnknownChannel = eris.New("unknown channel")

	// ErrEmptyID is returned when a received or opened message has no id.
	ErrEmptyID = eris.New("message id is empty")

	// ErrNotDirectOpen is returned when a direct open is reported for an
	// entry action that is not a notification tap.
	ErrNotDirectOpen = eris.New("entry action is not a notification tap")

	// ErrInvalidParams is returned when remote params fail validation.
	ErrInvalidParams = eris.New("invalid remote params")
)
