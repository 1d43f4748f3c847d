package entitlement

import "errors"

var (
	ErrUnauthenticated    = errors.New("entitlement: unauthenticated")
	ErrUserNotFound       = errors.New("entitlement: user not found")
	ErrInsufficientQuota  = errors.New("entitlement: insufficient quota")
	ErrPersistenceFailure = errors.New("entitlement: persistence failure")
	ErrStaleWrite         = errors.New("entitlement: stale write rejected")
	ErrInvalidRecord      = errors.New("entitlement: invalid record")
	ErrInvalidResource    = errors.New("entitlement: invalid resource")
)
