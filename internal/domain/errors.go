package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrSelfRecovery          = errors.New("cannot recover the ledger's own token")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrSupplyMinted          = errors.New("supply already minted")
	ErrZeroAddress           = errors.New("zero address")
	ErrGatewayCall           = errors.New("exchange gateway call failed")
	ErrLockHeld              = errors.New("lock already held")
	ErrContextDone           = errors.New("context cancelled")
)
