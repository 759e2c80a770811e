package errors

import "errors"

var (
	ErrInvalidEvent     = errors.New("boost event needs an account id or a user id")
	ErrInvalidBoost     = errors.New("boost definition is invalid")
	ErrInvalidCondition = errors.New("boost status condition does not parse")
	ErrBoostNotFound    = errors.New("boost not found")
	ErrAccountNotFound  = errors.New("boost account status not found")
	ErrBoostInactive    = errors.New("boost is no longer active")
	ErrBudgetExceeded   = errors.New("boost budget would be exceeded")
	ErrStatusRegression = errors.New("boost account status cannot move backwards")
	ErrTransferFailed   = errors.New("funds transfer batch failed")
	ErrBoostExists      = errors.New("boost already exists")
)
