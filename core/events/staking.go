package events

import (
	"strconv"
	"strings"

	"perpstake/core/types"
	"perpstake/crypto"
)

const (
	// TypeRoundResolved is emitted when a reward round is closed and its rate fixed.
	TypeRoundResolved = "round.resolved"
	// TypeStakeRewardsClaimed is emitted when a claim settles rewards for an owner.
	TypeStakeRewardsClaimed = "stake.rewardsClaimed"
	// TypeFeeReported captures protocol fees converted into reward tokens.
	TypeFeeReported = "fee.reported"
	// TypeStakeAdded is emitted for liquid top-ups and new locked stakes.
	TypeStakeAdded = "stake.added"
	// TypeStakeRemoved is emitted when principal returns to its owner.
	TypeStakeRemoved = "stake.removed"
	// TypeStakeFinalized is emitted when an unlocked stake stops earning.
	TypeStakeFinalized = "stake.finalized"

	// StakeKindLiquid identifies the liquid stake of an account.
	StakeKindLiquid = "liquid"
	// StakeKindLocked identifies a locked stake entry.
	StakeKindLocked = "locked"
)

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

func formatTime(ts int64) string { return strconv.FormatInt(ts, 10) }

// RoundResolved describes the round closed by a resolution.
type RoundResolved struct {
	Actor      crypto.Address
	StartTime  int64
	Rate       string
	TotalStake uint64
	Allocation uint64
	RewardPool uint64
	NextStart  int64
	Backlog    int
}

// EventType satisfies the Event interface.
func (RoundResolved) EventType() string { return TypeRoundResolved }

// Event converts the structured payload into a broadcastable event.
func (e RoundResolved) Event() *types.Event {
	attrs := map[string]string{
		"startTime":  formatTime(e.StartTime),
		"rate":       e.Rate,
		"totalStake": formatUint(e.TotalStake),
		"allocation": formatUint(e.Allocation),
		"rewardPool": formatUint(e.RewardPool),
		"nextStart":  formatTime(e.NextStart),
		"backlog":    strconv.Itoa(e.Backlog),
	}
	if !e.Actor.IsZero() {
		attrs["actor"] = e.Actor.String()
	}
	return &types.Event{Type: TypeRoundResolved, Attributes: attrs}
}

// StakeRewardsClaimed captures a committed claim, including zero-reward
// claims that only pruned rounds.
type StakeRewardsClaimed struct {
	Owner         crypto.Address
	Caller        crypto.Address
	Reward        uint64
	OwnerAmount   uint64
	CallerAmount  uint64
	RoundsClaimed int
	RoundsPruned  int
	RecordID      string
}

// EventType satisfies the Event interface.
func (StakeRewardsClaimed) EventType() string { return TypeStakeRewardsClaimed }

// Event converts the structured payload into a broadcastable event.
func (e StakeRewardsClaimed) Event() *types.Event {
	attrs := map[string]string{
		"owner":         e.Owner.String(),
		"caller":        e.Caller.String(),
		"reward":        formatUint(e.Reward),
		"ownerAmount":   formatUint(e.OwnerAmount),
		"roundsClaimed": strconv.Itoa(e.RoundsClaimed),
		"roundsPruned":  strconv.Itoa(e.RoundsPruned),
	}
	if e.CallerAmount > 0 {
		attrs["callerAmount"] = formatUint(e.CallerAmount)
	}
	if id := strings.TrimSpace(e.RecordID); id != "" {
		attrs["recordId"] = id
	}
	return &types.Event{Type: TypeStakeRewardsClaimed, Attributes: attrs}
}

// FeeReported records a protocol fee and the reward it minted.
type FeeReported struct {
	Category string
	Fee      uint64
	Reward   uint64
	Epoch    uint64
}

// EventType satisfies the Event interface.
func (FeeReported) EventType() string { return TypeFeeReported }

// Event converts the structured payload into a broadcastable event.
func (e FeeReported) Event() *types.Event {
	attrs := map[string]string{
		"fee":    formatUint(e.Fee),
		"reward": formatUint(e.Reward),
		"epoch":  formatUint(e.Epoch),
	}
	if category := strings.TrimSpace(e.Category); category != "" {
		attrs["category"] = strings.ToLower(category)
	}
	return &types.Event{Type: TypeFeeReported, Attributes: attrs}
}

// StakeChanged is shared by the add, remove and finalize events.
type StakeChanged struct {
	Type     string
	Owner    crypto.Address
	Actor    crypto.Address
	Kind     string
	Index    int
	Amount   uint64
	Weight   uint64
	LockDays uint32
}

// EventType satisfies the Event interface.
func (e StakeChanged) EventType() string { return e.Type }

// Event converts the structured payload into a broadcastable event.
func (e StakeChanged) Event() *types.Event {
	attrs := map[string]string{
		"owner":  e.Owner.String(),
		"kind":   e.Kind,
		"amount": formatUint(e.Amount),
	}
	if e.Weight > 0 {
		attrs["weight"] = formatUint(e.Weight)
	}
	if e.Kind == StakeKindLocked {
		attrs["index"] = strconv.Itoa(e.Index)
		attrs["lockDays"] = strconv.FormatUint(uint64(e.LockDays), 10)
	}
	if !e.Actor.IsZero() && e.Actor != e.Owner {
		attrs["actor"] = e.Actor.String()
	}
	return &types.Event{Type: e.Type, Attributes: attrs}
}
