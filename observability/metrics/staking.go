package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type StakingMetrics struct {
	roundsResolved *prometheus.CounterVec
	backlog        prometheus.Gauge
	claims         *prometheus.CounterVec
	rewardPaid     *prometheus.CounterVec
	roundsPruned   prometheus.Counter
	rewardDust     prometheus.Counter
	feesReported   *prometheus.CounterVec
	roundStake     *prometheus.GaugeVec
	failures       *prometheus.CounterVec
	autoClaims     prometheus.Counter
}

var (
	stakingOnce     sync.Once
	stakingRegistry *StakingMetrics
)

func Staking() *StakingMetrics {
	stakingOnce.Do(func() {
		stakingRegistry = &StakingMetrics{
			roundsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_rounds_resolved_total",
				Help: "Count of resolved reward rounds by whether they carried stake.",
			}, []string{"outcome"}),
			backlog: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "staking_resolved_rounds_backlog",
				Help: "Resolved rounds still waiting for claims.",
			}),
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_claims_total",
				Help: "Count of committed claims by caller kind.",
			}, []string{"caller"}),
			rewardPaid: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_reward_paid_total",
				Help: "Reward token base units paid out by recipient kind.",
			}, []string{"recipient"}),
			roundsPruned: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "staking_rounds_pruned_total",
				Help: "Resolved rounds dropped after being fully claimed.",
			}),
			rewardDust: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "staking_reward_dust_total",
				Help: "Reward base units left unallocated by rate rounding.",
			}),
			feesReported: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_fees_reported_total",
				Help: "Protocol fee base units reported by source category.",
			}, []string{"category"}),
			roundStake: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "staking_round_stake",
				Help: "Stake weight counted in the current and next rounds.",
			}, []string{"round"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_operation_failures_total",
				Help: "Rejected ledger operations by operation name.",
			}, []string{"operation"}),
			autoClaims: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "staking_auto_claims_total",
				Help: "Accounts claimed by the resolver for idle stakers.",
			}),
		}
		prometheus.MustRegister(
			stakingRegistry.roundsResolved,
			stakingRegistry.backlog,
			stakingRegistry.claims,
			stakingRegistry.rewardPaid,
			stakingRegistry.roundsPruned,
			stakingRegistry.rewardDust,
			stakingRegistry.feesReported,
			stakingRegistry.roundStake,
			stakingRegistry.failures,
			stakingRegistry.autoClaims,
		)
	})
	return stakingRegistry
}

func (m *StakingMetrics) ObserveRoundResolved(totalStake uint64, backlog int, dust uint64) {
	if m == nil {
		return
	}
	outcome := "staked"
	if totalStake == 0 {
		outcome = "empty"
	}
	m.roundsResolved.WithLabelValues(outcome).Inc()
	m.backlog.Set(float64(backlog))
	if dust > 0 {
		m.rewardDust.Add(float64(dust))
	}
}

func (m *StakingMetrics) ObserveClaim(thirdParty bool, ownerAmount, callerAmount uint64, pruned, backlog int) {
	if m == nil {
		return
	}
	caller := "owner"
	if thirdParty {
		caller = "third_party"
	}
	m.claims.WithLabelValues(caller).Inc()
	if ownerAmount > 0 {
		m.rewardPaid.WithLabelValues("owner").Add(float64(ownerAmount))
	}
	if callerAmount > 0 {
		m.rewardPaid.WithLabelValues("caller").Add(float64(callerAmount))
	}
	if pruned > 0 {
		m.roundsPruned.Add(float64(pruned))
	}
	m.backlog.Set(float64(backlog))
}

func (m *StakingMetrics) ObserveFee(category string, fee uint64) {
	if m == nil {
		return
	}
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		category = "unknown"
	}
	m.feesReported.WithLabelValues(category).Add(float64(fee))
}

func (m *StakingMetrics) SetRoundStake(current, next uint64) {
	if m == nil {
		return
	}
	m.roundStake.WithLabelValues("current").Set(float64(current))
	m.roundStake.WithLabelValues("next").Set(float64(next))
}

func (m *StakingMetrics) IncFailure(operation string) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	m.failures.WithLabelValues(operation).Inc()
}

func (m *StakingMetrics) ObserveAutoClaims(accounts int) {
	if m == nil || accounts <= 0 {
		return
	}
	m.autoClaims.Add(float64(accounts))
}
