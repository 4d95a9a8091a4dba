package retrieval

import "errors"

var (
	// ErrDeferred means the object is not cached yet; a retrieval is pending.
	ErrDeferred = errors.New("retrieval_deferred")
	// ErrServiceUnavailable wraps any failure talking to the archive service.
	ErrServiceUnavailable = errors.New("archive_unavailable")
	// ErrNotFound indicates the object has no cached copy.
	ErrNotFound = errors.New("object_not_found")
	// ErrCapacityExceeded indicates the in-flight registry is full.
	ErrCapacityExceeded = errors.New("registry_full")
	// ErrAlreadyRegistered indicates a download for the object is already in flight.
	ErrAlreadyRegistered = errors.New("already_in_flight")
	// ErrInvalidObjectID indicates a vault or archive id that cannot be used as a cache key.
	ErrInvalidObjectID = errors.New("invalid_object_id")
	// ErrInvalidNotification indicates a channel message that is not a usable job notification.
	ErrInvalidNotification = errors.New("invalid_notification")
	// ErrAlreadyStarted is returned by Start on a running orchestrator.
	ErrAlreadyStarted = errors.New("already_started")
)
