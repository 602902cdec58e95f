package staking

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClaimSettlesAndPrunesRound(t *testing.T) {
	l := newTestLedger()
	l.CurrentRound = NewRound(at(6))
	l.NextRound = NewRound(at(6))
	l.ResolvedRounds = []Round{{StartTime: genesis, Rate: 50_000_000, TotalStake: 1_000_000}}
	l.ResolvedStakeTokenAmount = 1_000_000
	l.ResolvedRewardTokenAmount = 50_000

	owner := testAddr(1)
	acct := NewStakeAccount(owner)
	acct.LockedStakes = append(acct.LockedStakes, LockedStake{
		Amount:               800_000,
		AmountWithMultiplier: 1_000_000,
		ClaimTime:            genesis - 10,
		StakeTime:            genesis - 10,
		LockDays:             30,
		MultiplierBps:        12_500,
	})

	res, err := Claim(l, acct, owner, DefaultParams())
	require.NoError(t, err)
	require.Equal(t, uint64(50_000), res.Reward)
	require.Equal(t, uint64(50_000), res.OwnerAmount)
	require.Zero(t, res.CallerAmount)
	require.Equal(t, uint64(1_000_000), res.ClaimedWeight)
	require.Equal(t, 1, res.RoundsClaimed)
	require.Equal(t, 1, res.RoundsPruned)
	require.Empty(t, l.ResolvedRounds)
	require.Zero(t, l.ResolvedStakeTokenAmount)
	require.Zero(t, l.ResolvedRewardTokenAmount)
	require.Equal(t, at(6)-1, acct.LockedStakes[0].ClaimTime)
	require.Equal(t, at(6)-1, res.ClaimTime)
}

func TestClaimTwicePaysOnce(t *testing.T) {
	l := newTestLedger()
	owner := testAddr(1)
	acct := NewStakeAccount(owner)
	require.NoError(t, AddLiquidStake(l, acct, 1_000_000, genesis-100))

	_, err := l.ResolveRound(at(6), 0)
	require.NoError(t, err)
	_, err = l.ResolveRound(at(12), 2_000_000)
	require.NoError(t, err)

	first, err := Claim(l, acct, owner, DefaultParams())
	require.NoError(t, err)
	require.Equal(t, uint64(2_000_000), first.Reward)

	second, err := Claim(l, acct, owner, DefaultParams())
	require.NoError(t, err)
	require.Zero(t, second.Reward)
	require.Zero(t, second.RoundsClaimed)
}

func TestStakeAddedMidRoundEarnsFromNextRound(t *testing.T) {
	l := newTestLedger()
	owner := testAddr(1)
	acct := NewStakeAccount(owner)
	t0 := genesis + 100
	require.NoError(t, AddLiquidStake(l, acct, 1_000_000, t0))
	require.Zero(t, l.CurrentRound.TotalStake)
	require.Equal(t, uint64(1_000_000), l.NextRound.TotalStake)
	require.Equal(t, t0+1, l.NextRound.StartTime)

	// The genesis round receives rewards but the stake arrived after it opened.
	_, err := l.ResolveRound(at(6), 500_000)
	require.NoError(t, err)
	res, err := Claim(l, acct, owner, DefaultParams())
	require.NoError(t, err)
	require.Zero(t, res.Reward)
	require.Empty(t, l.ResolvedRounds)

	pool, err := l.RewardPool(500_000)
	require.NoError(t, err)
	_, err = l.ResolveRound(at(12), pool)
	require.NoError(t, err)
	res, err = Claim(l, acct, owner, DefaultParams())
	require.NoError(t, err)
	require.Equal(t, uint64(500_000), res.Reward)
	require.Equal(t, 1, res.RoundsClaimed)
}

func TestClaimProRataAcrossStakers(t *testing.T) {
	l := newTestLedger()
	alice, bob := NewStakeAccount(testAddr(1)), NewStakeAccount(testAddr(2))
	require.NoError(t, AddLiquidStake(l, alice, 1_000_000, genesis+10))
	require.NoError(t, AddLiquidStake(l, bob, 2_000_000, genesis+20))

	_, err := l.ResolveRound(at(6), 0)
	require.NoError(t, err)
	require.Equal(t, uint64(3_000_000), l.CurrentRound.TotalStake)
	res, err := l.ResolveRound(at(12), 1_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(333_333_333), res.Resolved.Rate)
	require.Equal(t, uint64(999_999), res.Allocation)

	a, err := Claim(l, alice, alice.Owner, DefaultParams())
	require.NoError(t, err)
	require.Equal(t, uint64(333_333), a.Reward)
	require.Zero(t, a.RoundsPruned)
	require.Len(t, l.ResolvedRounds, 1)
	require.Equal(t, uint64(1_000_000), l.ResolvedRounds[0].TotalClaim)
	require.Equal(t, uint64(666_666), l.ResolvedRewardTokenAmount)

	b, err := Claim(l, bob, bob.Owner, DefaultParams())
	require.NoError(t, err)
	require.Equal(t, uint64(666_666), b.Reward)
	require.Empty(t, l.ResolvedRounds)
	require.Zero(t, l.ResolvedRewardTokenAmount)
	require.Zero(t, l.ResolvedStakeTokenAmount)

	// Rounding dust from the rate never left the vault and backs the next round.
	pool, err := l.RewardPool(1_000_000 - a.Reward - b.Reward)
	require.NoError(t, err)
	require.Equal(t, uint64(1), pool)
}

func TestThirdPartyClaimPaysOwner(t *testing.T) {
	l := newTestLedger()
	owner, keeper := testAddr(1), testAddr(7)
	acct := NewStakeAccount(owner)
	require.NoError(t, AddLiquidStake(l, acct, 1_000_000, genesis-1))
	_, err := l.ResolveRound(at(6), 50_000)
	require.NoError(t, err)

	res, err := Claim(l, acct, keeper, DefaultParams())
	require.NoError(t, err)
	require.True(t, res.ThirdParty())
	require.Equal(t, owner, res.Owner)
	require.Equal(t, uint64(50_000), res.OwnerAmount)
	require.Zero(t, res.CallerAmount)
}

func TestThirdPartyClaimCallerFee(t *testing.T) {
	params := DefaultParams()
	params.CallerFeeBps = 100
	for _, tc := range []struct {
		name       string
		thirdParty bool
		owner      uint64
		caller     uint64
	}{
		{name: "owner claim", owner: 50_000},
		{name: "keeper claim", thirdParty: true, owner: 49_500, caller: 500},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l := newTestLedger()
			owner := testAddr(1)
			acct := NewStakeAccount(owner)
			if err := AddLiquidStake(l, acct, 1_000_000, genesis-1); err != nil {
				t.Fatalf("add stake: %v", err)
			}
			if _, err := l.ResolveRound(at(6), 50_000); err != nil {
				t.Fatalf("resolve: %v", err)
			}
			caller := owner
			if tc.thirdParty {
				caller = testAddr(2)
			}
			res, err := Claim(l, acct, caller, params)
			if err != nil {
				t.Fatalf("claim: %v", err)
			}
			if res.OwnerAmount != tc.owner || res.CallerAmount != tc.caller {
				t.Fatalf("expected split %d/%d, got %d/%d", tc.owner, tc.caller, res.OwnerAmount, res.CallerAmount)
			}
			if res.OwnerAmount+res.CallerAmount != res.Reward {
				t.Fatalf("split does not add up to reward %d", res.Reward)
			}
		})
	}
}

func TestClaimFailureLeavesStateUntouched(t *testing.T) {
	l := newTestLedger()
	l.CurrentRound = NewRound(at(12))
	l.NextRound = NewRound(at(12))
	l.ResolvedRounds = []Round{
		{StartTime: genesis, Rate: 1_000_000_000, TotalStake: 10},
		{StartTime: at(6), Rate: 1_000_000_000, TotalStake: 100},
	}
	l.ResolvedStakeTokenAmount = 110
	l.ResolvedRewardTokenAmount = 110

	acct := NewStakeAccount(testAddr(1))
	acct.LiquidStake = LiquidStake{Amount: 50, AmountWithMultiplier: 50, ClaimTime: genesis - 1}

	ledgerBefore, acctBefore := l.Clone(), acct.Clone()
	_, err := Claim(l, acct, acct.Owner, DefaultParams())
	if !errors.Is(err, ErrRoundOverclaimed) {
		t.Fatalf("expected ErrRoundOverclaimed, got %v", err)
	}
	require.Equal(t, ledgerBefore, l)
	require.Equal(t, acctBefore, acct)
}

func TestClaimSkipsFinalizedStakes(t *testing.T) {
	l := newTestLedger()
	l.CurrentRound = NewRound(at(6))
	l.NextRound = NewRound(at(6))
	l.ResolvedRounds = []Round{{StartTime: genesis, Rate: 1_000_000_000, TotalStake: 100}}
	l.ResolvedStakeTokenAmount = 100
	l.ResolvedRewardTokenAmount = 100

	acct := NewStakeAccount(testAddr(1))
	acct.LockedStakes = []LockedStake{
		{Amount: 100, AmountWithMultiplier: 125, ClaimTime: genesis - 1, Finalized: true},
		{Amount: 80, AmountWithMultiplier: 100, ClaimTime: genesis - 1},
	}
	res, err := Claim(l, acct, acct.Owner, DefaultParams())
	require.NoError(t, err)
	require.Equal(t, uint64(100), res.Reward)
	require.Equal(t, genesis-1, acct.LockedStakes[0].ClaimTime)
	require.Equal(t, at(6)-1, acct.LockedStakes[1].ClaimTime)
}

func TestAccountOwesRoundUntilClaimed(t *testing.T) {
	l := newTestLedger()
	owner := testAddr(1)
	acct := NewStakeAccount(owner)
	require.False(t, acct.Owes(NewRound(at(6))))
	require.NoError(t, AddLiquidStake(l, acct, 1_000_000, genesis-100))

	_, err := l.ResolveRound(at(6), 0)
	require.NoError(t, err)
	oldest := l.ResolvedRounds[0]
	require.True(t, acct.Owes(oldest))

	_, err = Claim(l, acct, owner, DefaultParams())
	require.NoError(t, err)
	require.Empty(t, l.ResolvedRounds)
	require.False(t, acct.Owes(oldest))

	finalized := NewStakeAccount(owner)
	finalized.LockedStakes = []LockedStake{{Amount: 5, AmountWithMultiplier: 5, ClaimTime: genesis - 1, Finalized: true}}
	require.False(t, finalized.Owes(oldest))
}
