package emissions

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"perpstake/native/fixedpoint"
)

const (
	// BasisPoints is the denominator applied to FeeToRewardRatioBps.
	BasisPoints uint64 = 10_000
	// RateDecimals is the precision of emission and distribution rates.
	RateDecimals = 9
	// RatePower is 10^RateDecimals, i.e. a rate of 100%.
	RatePower uint64 = 1_000_000_000

	// DefaultFeeToRewardRatioBps turns 0.10% of fees paid into rewards.
	DefaultFeeToRewardRatioBps uint64 = 10
	// DefaultEpochDecayPeriod is the number of epochs between decay steps.
	DefaultEpochDecayPeriod uint64 = 10
)

// Schedule converts protocol fees into reward-token amounts. The emission rate
// starts at InceptionRate and is divided by successive integers every
// EpochDecayPeriod epochs.
type Schedule struct {
	FeeToRewardRatioBps uint64
	InceptionRate       uint64
	EpochDecayPeriod    uint64
	InceptionEpoch      uint64
}

type fileSchedule struct {
	FeeToRewardRatioBps *uint64 `json:"feeToRewardRatioBps" toml:"feeToRewardRatioBps"`
	InceptionRate       *uint64 `json:"inceptionRate" toml:"inceptionRate"`
	EpochDecayPeriod    *uint64 `json:"epochDecayPeriod" toml:"epochDecayPeriod"`
	InceptionEpoch      uint64  `json:"inceptionEpoch" toml:"inceptionEpoch"`
}

// DefaultSchedule returns the launch parameters anchored at inceptionEpoch.
func DefaultSchedule(inceptionEpoch uint64) Schedule {
	return Schedule{
		FeeToRewardRatioBps: DefaultFeeToRewardRatioBps,
		InceptionRate:       RatePower,
		EpochDecayPeriod:    DefaultEpochDecayPeriod,
		InceptionEpoch:      inceptionEpoch,
	}
}

// Validate ensures the parameters produce a well defined curve.
func (s Schedule) Validate() error {
	if s.FeeToRewardRatioBps > BasisPoints {
		return fmt.Errorf("emissions: feeToRewardRatioBps cannot exceed %d", BasisPoints)
	}
	if s.InceptionRate > RatePower {
		return fmt.Errorf("emissions: inceptionRate cannot exceed %d", RatePower)
	}
	if s.EpochDecayPeriod == 0 {
		return errors.New("emissions: epochDecayPeriod must be greater than zero")
	}
	return nil
}

// EmissionRate returns the rate (RateDecimals precision) in force at currentEpoch.
func (s Schedule) EmissionRate(currentEpoch uint64) (uint64, error) {
	if s.EpochDecayPeriod == 0 {
		return 0, fmt.Errorf("emissions: decay period: %w", fixedpoint.ErrDivisionByZero)
	}
	elapsed, err := fixedpoint.CheckedSub(currentEpoch, s.InceptionEpoch)
	if err != nil {
		return 0, fmt.Errorf("emissions: epoch %d precedes inception %d: %w", currentEpoch, s.InceptionEpoch, err)
	}
	if elapsed < 1 {
		elapsed = 1
	}
	divisor := elapsed / s.EpochDecayPeriod
	if divisor < 1 {
		divisor = 1
	}
	return fixedpoint.CheckedDiv(s.InceptionRate, divisor)
}

// RewardAmount derives the reward-token amount minted for feeAmount paid at
// currentEpoch.
func (s Schedule) RewardAmount(feeAmount, currentEpoch uint64) (uint64, error) {
	base, err := fixedpoint.MulDiv(feeAmount, s.FeeToRewardRatioBps, BasisPoints)
	if err != nil {
		return 0, err
	}
	rate, err := s.EmissionRate(currentEpoch)
	if err != nil {
		return 0, err
	}
	return fixedpoint.MulDiv(base, rate, RatePower)
}

// SwapRewardAmounts derives the reward amounts for both legs of a swap.
func (s Schedule) SwapRewardAmounts(feeIn, feeOut, currentEpoch uint64) (uint64, uint64, error) {
	in, err := s.RewardAmount(feeIn, currentEpoch)
	if err != nil {
		return 0, 0, err
	}
	out, err := s.RewardAmount(feeOut, currentEpoch)
	if err != nil {
		return 0, 0, err
	}
	return in, out, nil
}

// LoadSchedule reads a JSON or TOML schedule file. Omitted fields fall back to
// the defaults; unknown fields are rejected.
func LoadSchedule(path string) (Schedule, error) {
	if strings.TrimSpace(path) == "" {
		return Schedule{}, errors.New("emissions: schedule path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Schedule{}, fmt.Errorf("emissions: read schedule: %w", err)
	}
	var parsed fileSchedule
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&parsed); err != nil {
			return Schedule{}, fmt.Errorf("emissions: decode schedule json: %w", err)
		}
	case ".toml", ".tml":
		meta, err := toml.DecodeReader(bytes.NewReader(data), &parsed)
		if err != nil {
			return Schedule{}, fmt.Errorf("emissions: decode schedule toml: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Schedule{}, fmt.Errorf("emissions: unknown schedule fields %v", undecoded)
		}
	default:
		return Schedule{}, fmt.Errorf("emissions: unsupported schedule format %q", ext)
	}
	schedule := DefaultSchedule(parsed.InceptionEpoch)
	if parsed.FeeToRewardRatioBps != nil {
		schedule.FeeToRewardRatioBps = *parsed.FeeToRewardRatioBps
	}
	if parsed.InceptionRate != nil {
		schedule.InceptionRate = *parsed.InceptionRate
	}
	if parsed.EpochDecayPeriod != nil {
		schedule.EpochDecayPeriod = *parsed.EpochDecayPeriod
	}
	if err := schedule.Validate(); err != nil {
		return Schedule{}, err
	}
	return schedule, nil
}
