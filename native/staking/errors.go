package staking

import "errors"

var (
	// ErrRoundNotYetResolvable is returned when the current round has not
	// lasted RoundMinDuration yet. Callers should retry later.
	ErrRoundNotYetResolvable = errors.New("staking: round not yet resolvable")
	// ErrStorageResize is returned when the resolved round list cannot grow or
	// shrink to the requested length.
	ErrStorageResize = errors.New("staking: resolved rounds resize failed")
	// ErrRoundOverclaimed signals a round whose claimed weight exceeds its
	// stake. It indicates corrupted bookkeeping and aborts the claim.
	ErrRoundOverclaimed = errors.New("staking: round claimed beyond its stake")

	ErrZeroAmount           = errors.New("staking: amount must be positive")
	ErrInsufficientStake    = errors.New("staking: insufficient staked amount")
	ErrInvalidLockDuration  = errors.New("staking: unsupported lock duration")
	ErrTooManyLockedStakes  = errors.New("staking: too many locked stakes")
	ErrStakeNotFound        = errors.New("staking: locked stake not found")
	ErrStakeLocked          = errors.New("staking: stake is still locked")
	ErrStakeNotFinalized    = errors.New("staking: locked stake must be finalized before removal")
	ErrLockNotElapsed       = errors.New("staking: lock period has not elapsed")
	ErrStakeNotSettled      = errors.New("staking: stake has unclaimed resolved rounds")
	ErrLockedStakeFinalized = errors.New("staking: locked stake already finalized")
	ErrUnauthorizedActor    = errors.New("staking: actor is not the stake owner")
	ErrOwnerMismatch        = errors.New("staking: stake account owner mismatch")
)
