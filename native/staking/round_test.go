package staking

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"perpstake/crypto"
)

const genesis int64 = 1_700_000_000

func testAddr(b byte) crypto.Address {
	var a crypto.Address
	a[crypto.AddressLength-1] = b
	return a
}

func newTestLedger() *RoundLedger {
	return NewRoundLedger(genesis, 0, DefaultStakeDecimals, DefaultRewardDecimals)
}

func at(hours int64) int64 {
	return genesis + hours*SecondsPerHour
}

func TestMaxResolvedRounds(t *testing.T) {
	if MaxResolvedRounds != 1460 {
		t.Fatalf("expected 1460 resolved rounds, got %d", MaxResolvedRounds)
	}
}

func TestResolveRoundTiming(t *testing.T) {
	l := newTestLedger()
	boundary := genesis + RoundMinDuration

	_, err := l.ResolveRound(boundary-1, 0)
	if !errors.Is(err, ErrRoundNotYetResolvable) {
		t.Fatalf("expected ErrRoundNotYetResolvable, got %v", err)
	}
	if len(l.ResolvedRounds) != 0 || l.CurrentRound.StartTime != genesis {
		t.Fatalf("ledger mutated by rejected resolution: %+v", l)
	}

	res, err := l.ResolveRound(boundary, 0)
	if err != nil {
		t.Fatalf("resolve at boundary: %v", err)
	}
	if res.Resolved.StartTime != genesis {
		t.Fatalf("expected genesis round resolved, got %+v", res.Resolved)
	}
	if l.CurrentRound.StartTime != boundary || l.NextRound.StartTime != boundary {
		t.Fatalf("unexpected promotion: current %+v next %+v", l.CurrentRound, l.NextRound)
	}
	if len(l.ResolvedRounds) != 0 || res.Backlog != 0 {
		t.Fatalf("an empty round must not enter the backlog, got %d", len(l.ResolvedRounds))
	}
	if _, err := l.ResolveRound(boundary+RoundMinDuration-1, 0); !errors.Is(err, ErrRoundNotYetResolvable) {
		t.Fatalf("expected second resolution to wait, got %v", err)
	}
}

func TestResolveRoundRateAndAggregates(t *testing.T) {
	l := newTestLedger()
	l.CurrentRound.TotalStake = 1_000_000
	l.NextRound.TotalStake = 1_000_000

	res, err := l.ResolveRound(at(6), 50_000)
	require.NoError(t, err)
	require.Equal(t, uint64(50_000_000), res.Resolved.Rate)
	require.Equal(t, uint64(50_000), res.Allocation)
	require.Equal(t, uint64(50_000), l.ResolvedRewardTokenAmount)
	require.Equal(t, uint64(1_000_000), l.ResolvedStakeTokenAmount)
	require.Equal(t, uint64(1_000_000), l.CurrentRound.TotalStake)
	require.Equal(t, uint64(1_000_000), l.NextRound.TotalStake)
	require.Equal(t, "0.050000000", l.ResolvedRounds[0].RateDecimal().String())
}

func TestResolveRoundWithoutStakeKeepsZeroRate(t *testing.T) {
	l := newTestLedger()
	res, err := l.ResolveRound(at(6), 123_456)
	require.NoError(t, err)
	require.Zero(t, res.Resolved.Rate)
	require.Zero(t, res.Allocation)
	require.Zero(t, l.ResolvedRewardTokenAmount)
	require.True(t, res.Resolved.Settled())
	require.Empty(t, l.ResolvedRounds)

	pool, err := l.RewardPool(123_456)
	require.NoError(t, err)
	require.Equal(t, uint64(123_456), pool, "unallocated rewards roll into the next round")
}

func TestResolvedBacklogIsBounded(t *testing.T) {
	l := newTestLedger()
	idle := NewStakeAccount(testAddr(9))
	require.NoError(t, AddLiquidStake(l, idle, 1_000, genesis-1))

	now := genesis
	for i := 0; i < MaxResolvedRounds; i++ {
		now += RoundMinDuration
		if _, err := l.ResolveRound(now, 0); err != nil {
			t.Fatalf("resolution %d: %v", i, err)
		}
	}
	if len(l.ResolvedRounds) != MaxResolvedRounds {
		t.Fatalf("expected full backlog, got %d", len(l.ResolvedRounds))
	}
	before := l.Clone()
	now += RoundMinDuration
	if _, err := l.ResolveRound(now, 0); !errors.Is(err, ErrStorageResize) {
		t.Fatalf("expected ErrStorageResize, got %v", err)
	}
	require.Equal(t, before, l)

	// Anyone can drain the backlog by claiming on behalf of the idle staker.
	res, err := Claim(l, idle, testAddr(10), DefaultParams())
	require.NoError(t, err)
	require.Equal(t, MaxResolvedRounds, res.RoundsClaimed)
	require.Equal(t, MaxResolvedRounds, res.RoundsPruned)
	require.Empty(t, l.ResolvedRounds)
	_, err = l.ResolveRound(now, 0)
	require.NoError(t, err)
}

func TestSizeAccounting(t *testing.T) {
	l := newTestLedger()
	require.Equal(t, LedgerHeadSize, l.Size())
	_, err := l.NewSize(-1)
	require.ErrorIs(t, err, ErrStorageResize)

	grown, err := l.NewSize(3)
	require.NoError(t, err)
	require.Equal(t, LedgerHeadSize+3*RoundSize, grown)

	require.NoError(t, l.resize([]Round{{StartTime: 1}, {StartTime: 2}, {StartTime: 3}}))
	require.Equal(t, grown, l.Size())

	backing := l.ResolvedRounds
	require.NoError(t, l.resize(l.ResolvedRounds[:1]))
	require.Len(t, l.ResolvedRounds, 1)
	require.Equal(t, 1, cap(l.ResolvedRounds), "shrink must not keep stale trailing entries")
	backing[0].StartTime = 99
	require.Equal(t, int64(1), l.ResolvedRounds[0].StartTime)

	_, err = l.NewSize(MaxResolvedRounds)
	require.ErrorIs(t, err, ErrStorageResize)
}

func TestLockMultipliersIncrease(t *testing.T) {
	durations := LockDurations()
	require.Equal(t, []uint32{30, 60, 90, 180, 360}, durations)
	prev := MultiplierBasisPoints
	for _, days := range durations {
		bps, err := LockMultiplierBps(days)
		require.NoError(t, err)
		require.Greater(t, bps, prev)
		prev = bps
	}
	_, err := LockMultiplierBps(45)
	require.ErrorIs(t, err, ErrInvalidLockDuration)
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())
	p := DefaultParams()
	p.CallerFeeBps = MultiplierBasisPoints + 1
	require.Error(t, p.Validate())
	p = DefaultParams()
	p.MaxLockedStakes = 0
	require.Error(t, p.Validate())
}
