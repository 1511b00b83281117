package domain

import "errors"

var (
	ErrAlreadyInitialized = errors.New("manager already initialized")
	ErrNotInitialized     = errors.New("manager is not initialized yet")
	ErrUnsupportedFeed    = errors.New("passing unsupported feed")
	ErrInvalidDeadline    = errors.New("deadline must be in the future")
	ErrPoolNotActive      = errors.New("pool is not active")
	ErrPoolNotReady       = errors.New("pool is not ready to resolve")
	ErrBelowMinimumStake  = errors.New("bet below minimum stake")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTransferFailed     = errors.New("value transfer failed")
	ErrOracleUnavailable  = errors.New("oracle unavailable")
	ErrNotFound           = errors.New("not found")
	ErrLockHeld           = errors.New("lock already held")
)
