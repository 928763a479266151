package clinicalrecord

import "errors"

var (
	ErrNotFound               = errors.New("clinical record not found")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrValidation             = errors.New("validation failed")
	ErrConflictRetryExhausted = errors.New("patient history changed concurrently, retry exhausted")
	ErrChainInvariant         = errors.New("clinical record chain invariant violated")
	ErrRecordSuperseded       = errors.New("clinical record already has a later record")
)

// errChainMoved aborts a persist transaction whose predecessor is stale.
var errChainMoved = errors.New("latest record changed since classification")
