package plans

import "errors"

var (
	ErrNotFound        = errors.New("plans: not found")
	ErrInvalidPlan     = errors.New("plans: invalid plan")
	ErrInvalidCycle    = errors.New("plans: invalid billing cycle")
	ErrInvalidCurrency = errors.New("plans: invalid currency")
	ErrInvalidQuota    = errors.New("plans: invalid quota")
	ErrInvalidCatalog  = errors.New("plans: invalid catalog")
)
