package staking

import (
	"fmt"
	"sort"

	"perpstake/native/emissions"
)

const (
	SecondsPerHour int64 = 3600
	SecondsPerDay  int64 = 24 * SecondsPerHour

	// RoundMinDuration is the minimum lifetime of a round before it can be
	// resolved.
	RoundMinDuration int64 = 6 * SecondsPerHour
	// MaxStakeAge bounds how long an unclaimed stake keeps rounds alive.
	MaxStakeAge int64 = 365 * SecondsPerDay
	// MaxResolvedRounds caps the resolved round backlog.
	MaxResolvedRounds = int(MaxStakeAge / RoundMinDuration)

	// RateDecimals is the precision of Round.Rate.
	RateDecimals = emissions.RateDecimals

	// MultiplierBasisPoints is a multiplier of 1x.
	MultiplierBasisPoints uint64 = 10_000

	DefaultMaxLockedStakes = 32
	DefaultStakeDecimals   = 6
	DefaultRewardDecimals  = 6
)

// lockMultiplierBps maps a lock duration in days to its reward weight.
var lockMultiplierBps = map[uint32]uint64{
	30:  12_500,
	60:  15_000,
	90:  17_500,
	180: 25_000,
	360: 40_000,
}

// LockMultiplierBps returns the multiplier for a supported lock duration.
func LockMultiplierBps(days uint32) (uint64, error) {
	bps, ok := lockMultiplierBps[days]
	if !ok {
		return 0, fmt.Errorf("%w: %d days", ErrInvalidLockDuration, days)
	}
	return bps, nil
}

// LockDurations lists the supported lock durations in ascending order.
func LockDurations() []uint32 {
	out := make([]uint32, 0, len(lockMultiplierBps))
	for days := range lockMultiplierBps {
		out = append(out, days)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Params holds the token precision and policy knobs consumed by the claim and
// stake mutation paths.
type Params struct {
	StakeDecimals  uint8
	RewardDecimals uint8
	// CallerFeeBps is the share of a claim paid to a third-party caller.
	// Zero disables the split.
	CallerFeeBps    uint64
	MaxLockedStakes int
}

// DefaultParams returns the launch configuration: 6-decimal tokens, no caller
// fee and 32 locked stakes per account.
func DefaultParams() Params {
	return Params{
		StakeDecimals:   DefaultStakeDecimals,
		RewardDecimals:  DefaultRewardDecimals,
		MaxLockedStakes: DefaultMaxLockedStakes,
	}
}

// Validate ensures the supplied parameters fall within safe operating ranges.
func (p Params) Validate() error {
	if p.StakeDecimals > 18 || p.RewardDecimals > 18 {
		return fmt.Errorf("staking: token decimals must not exceed 18")
	}
	if p.CallerFeeBps > MultiplierBasisPoints {
		return fmt.Errorf("staking: caller fee cannot exceed %d bps", MultiplierBasisPoints)
	}
	if p.MaxLockedStakes <= 0 {
		return fmt.Errorf("staking: max locked stakes must be positive")
	}
	return nil
}
