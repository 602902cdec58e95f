package rpc

import (
	"errors"
	"net/http"

	"perpstake/crypto"
	"perpstake/native/claims"
	"perpstake/native/fixedpoint"
	"perpstake/native/staking"
	"perpstake/native/vault"
)

var (
	conflictErrors = []error{
		staking.ErrRoundNotYetResolvable,
		staking.ErrStakeLocked,
		staking.ErrLockNotElapsed,
		staking.ErrStakeNotFinalized,
		staking.ErrLockedStakeFinalized,
		staking.ErrStakeNotSettled,
		staking.ErrTooManyLockedStakes,
	}
	unprocessableErrors = []error{
		fixedpoint.ErrArithmeticOverflow,
		fixedpoint.ErrArithmeticUnderflow,
		fixedpoint.ErrDivisionByZero,
		vault.ErrInsufficientVaultBalance,
		staking.ErrInsufficientStake,
		staking.ErrRoundOverclaimed,
		staking.ErrStorageResize,
	}
	invalidInputErrors = []error{
		staking.ErrZeroAmount,
		staking.ErrInvalidLockDuration,
		staking.ErrStakeNotFound,
		crypto.ErrInvalidAddress,
		claims.ErrInvalidCursor,
		vault.ErrUnsupportedToken,
	}
)

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// classifyError maps a ledger error onto the HTTP status and JSON-RPC code
// reported to the client.
func classifyError(err error) (int, int) {
	switch {
	case errors.Is(err, staking.ErrUnauthorizedActor):
		return http.StatusForbidden, codeForbidden
	case isAny(err, conflictErrors):
		return http.StatusConflict, codeConflict
	case isAny(err, unprocessableErrors):
		return http.StatusUnprocessableEntity, codeUnprocessable
	case isAny(err, invalidInputErrors):
		return http.StatusBadRequest, codeInvalidParams
	default:
		return http.StatusInternalServerError, codeServerError
	}
}
