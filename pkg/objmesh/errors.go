package objmesh

import "github.com/yndnr/objmesh-go/internal/core/domain"

// Errors returned by the store. Match them with errors.Is.
var (
	ErrNotInitialized    = domain.ErrNotInitialized
	ErrNullStore         = domain.ErrNullStore
	ErrAlreadyExists     = domain.ErrAlreadyExists
	ErrNotExist          = domain.ErrNotExist
	ErrObjectNotFound    = domain.ErrObjectNotFound
	ErrNullObject        = domain.ErrNullObject
	ErrNoObserver        = domain.ErrNoObserver
	ErrInvalidArgument   = domain.ErrInvalidArgument
	ErrFieldNotFound     = domain.ErrFieldNotFound
	ErrDataLen           = domain.ErrDataLen
	ErrTypeMismatch      = domain.ErrTypeMismatch
	ErrRemoteUnavailable = domain.ErrRemoteUnavailable
	ErrProcessing        = domain.ErrProcessing
	ErrTimeout           = domain.ErrTimeout
	ErrGetFailed         = domain.ErrGetFailed
)
