package asyncjob

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("asyncjob: no store configured")
	ErrStoreClosed     = errors.New("asyncjob: store closed")
	ErrMigrationFailed = errors.New("asyncjob: migration failed")
	ErrUnknownDriver   = errors.New("asyncjob: unknown driver")

	// Broker errors.
	ErrNoBroker     = errors.New("asyncjob: no broker configured")
	ErrBrokerClosed = errors.New("asyncjob: broker closed")

	// Not found errors.
	ErrJobNotFound     = errors.New("asyncjob: job not found")
	ErrHandlerNotFound = errors.New("asyncjob: no handler registered for job type")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("asyncjob: job already exists")
	ErrStatusConflict   = errors.New("asyncjob: job status changed concurrently")

	// Validation errors.
	ErrInvalidTimeout  = errors.New("asyncjob: timeout must be positive")
	ErrInvalidProgress = errors.New("asyncjob: progress must be between 0 and 100")
	ErrInvalidJobType  = errors.New("asyncjob: job type is required")

	// State errors.
	ErrJobAlreadyFinished = errors.New("asyncjob: job already in a terminal state")
	ErrInvalidTransition  = errors.New("asyncjob: invalid state transition")
)
