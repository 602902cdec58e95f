package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStakingMetricsObserve(t *testing.T) {
	m := Staking()
	if m != Staking() {
		t.Fatalf("expected singleton registry")
	}

	m.ObserveRoundResolved(0, 0, 0)
	m.ObserveRoundResolved(1_000, 3, 7)
	if got := testutil.ToFloat64(m.roundsResolved.WithLabelValues("empty")); got != 1 {
		t.Fatalf("empty rounds: got %v", got)
	}
	if got := testutil.ToFloat64(m.backlog); got != 3 {
		t.Fatalf("backlog: got %v", got)
	}

	m.ObserveClaim(true, 90, 10, 2, 1)
	if got := testutil.ToFloat64(m.rewardPaid.WithLabelValues("caller")); got != 10 {
		t.Fatalf("caller reward: got %v", got)
	}
	if got := testutil.ToFloat64(m.claims.WithLabelValues("third_party")); got != 1 {
		t.Fatalf("third party claims: got %v", got)
	}
	if got := testutil.ToFloat64(m.backlog); got != 1 {
		t.Fatalf("backlog after claim: got %v", got)
	}

	m.ObserveFee(" Swap ", 500)
	if got := testutil.ToFloat64(m.feesReported.WithLabelValues("swap")); got != 500 {
		t.Fatalf("fees: got %v", got)
	}
	before := testutil.ToFloat64(m.autoClaims)
	m.ObserveAutoClaims(0)
	m.ObserveAutoClaims(3)
	if got := testutil.ToFloat64(m.autoClaims) - before; got != 3 {
		t.Fatalf("auto claims: got %v", got)
	}
	m.SetRoundStake(4, 5)
	if got := testutil.ToFloat64(m.roundStake.WithLabelValues("next")); got != 5 {
		t.Fatalf("next stake: got %v", got)
	}
}

func TestNilStakingMetricsAreSafe(t *testing.T) {
	var m *StakingMetrics
	m.ObserveRoundResolved(1, 1, 1)
	m.ObserveClaim(false, 1, 0, 0, 0)
	m.ObserveFee("x", 1)
	m.SetRoundStake(1, 1)
	m.IncFailure("claim")
	m.ObserveAutoClaims(2)
}
