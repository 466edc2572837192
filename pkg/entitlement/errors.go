package entitlement

import "errors"

var (
	ErrRecordNotFound   = errors.New("entitlement record not found")
	ErrRecordExists     = errors.New("entitlement record already exists")
	ErrVersionConflict  = errors.New("entitlement record version conflict")
	ErrStoreUnavailable = errors.New("entitlement store unavailable")

	ErrConsistencyViolation = errors.New("legacy premium flag does not match tier")

	ErrInvalidLimit    = errors.New("invalid feature limit")
	ErrInvalidTier     = errors.New("invalid tier")
	ErrInvalidPeriod   = errors.New("invalid quota window period")
	ErrInvalidCatalog  = errors.New("invalid feature catalog")
	ErrFailedToLoad    = errors.New("failed to load feature catalog")
	ErrEmptyUserID     = errors.New("user id is required")
	ErrEmptyFeatureKey = errors.New("feature key is required")
)
