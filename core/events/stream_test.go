package events

import (
	"context"
	"testing"
	"time"

	"perpstake/crypto"
)

func TestStreamBacklogAndLiveUpdates(t *testing.T) {
	rec := &Recorder{}
	s := NewStream(rec)
	s.Emit(FeeReported{Category: "Swap", Fee: 100, Reward: 1, Epoch: 3})
	s.Emit(RoundResolved{StartTime: 10, Rate: "0.5", TotalStake: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, stop, backlog := s.Subscribe(ctx, "1")
	defer stop()
	if len(backlog) != 1 || backlog[0].Event.Type != TypeRoundResolved {
		t.Fatalf("expected round.resolved in backlog, got %+v", backlog)
	}

	owner := crypto.DeriveAddress("owner")
	s.Emit(StakeRewardsClaimed{Owner: owner, Caller: owner, Reward: 5, OwnerAmount: 5})
	select {
	case u := <-updates:
		if u.Sequence != 3 || u.Event.Attributes["owner"] != owner.String() {
			t.Fatalf("unexpected update %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatalf("live update not delivered")
	}
	if got := len(rec.OfType(TypeFeeReported)); got != 1 {
		t.Fatalf("expected forwarded fee event, got %d", got)
	}
	if rec.Events[0].Attributes["category"] != "swap" {
		t.Fatalf("category not normalised: %+v", rec.Events[0].Attributes)
	}
}

func TestStreamCancelClosesChannel(t *testing.T) {
	s := NewStream(nil)
	updates, stop, _ := s.Subscribe(context.Background(), "")
	stop()
	stop()
	if _, ok := <-updates; ok {
		t.Fatalf("expected closed channel")
	}
	s.Emit(FeeReported{Fee: 1})
}

func TestStakeChangedAttributes(t *testing.T) {
	owner := crypto.DeriveAddress("owner")
	keeper := crypto.DeriveAddress("keeper")
	ev := StakeChanged{Type: TypeStakeFinalized, Owner: owner, Actor: keeper, Kind: StakeKindLocked, Index: 2, Amount: 10, Weight: 25, LockDays: 360}.Event()
	if ev.Type != TypeStakeFinalized {
		t.Fatalf("unexpected type %s", ev.Type)
	}
	want := map[string]string{"index": "2", "lockDays": "360", "weight": "25", "actor": keeper.String()}
	for k, v := range want {
		if ev.Attributes[k] != v {
			t.Fatalf("attribute %s: got %q want %q", k, ev.Attributes[k], v)
		}
	}
	liquid := StakeChanged{Type: TypeStakeAdded, Owner: owner, Actor: owner, Kind: StakeKindLiquid, Amount: 1}.Event()
	if _, ok := liquid.Attributes["actor"]; ok {
		t.Fatalf("owner-initiated change must not carry actor")
	}
	if _, ok := liquid.Attributes["lockDays"]; ok {
		t.Fatalf("liquid stake must not carry lock days")
	}
}
