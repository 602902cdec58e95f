package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"perpstake/core/events"
	"perpstake/crypto"
	"perpstake/native/claims"
	"perpstake/native/staking"
	"perpstake/native/vault"
)

func requireAccount(owner crypto.Address) error {
	if owner.IsZero() {
		return fmt.Errorf("%w: empty owner", crypto.ErrInvalidAddress)
	}
	return nil
}

func requireOwner(actor, owner crypto.Address) error {
	if err := requireAccount(owner); err != nil {
		return err
	}
	if actor != owner {
		return fmt.Errorf("%w: %s acting for %s", staking.ErrUnauthorizedActor, actor, owner)
	}
	return nil
}

// ReportFee converts a protocol fee into reward tokens and mints them into the
// reward vault, where they back the round open at call time.
func (e *Engine) ReportFee(ctx context.Context, category string, fee uint64) (uint64, error) {
	var reward uint64
	err := e.update(ctx, "report_fee", func(tx *txn) error {
		var err error
		reward, err = e.mintFeeReward(tx, category, fee)
		return err
	})
	return reward, err
}

// ReportSwapFees reports both legs of a swap in one transaction.
func (e *Engine) ReportSwapFees(ctx context.Context, category string, feeIn, feeOut uint64) (uint64, uint64, error) {
	var in, out uint64
	err := e.update(ctx, "report_swap_fees", func(tx *txn) error {
		var err error
		if in, err = e.mintFeeReward(tx, category, feeIn); err != nil {
			return err
		}
		out, err = e.mintFeeReward(tx, category, feeOut)
		return err
	})
	return in, out, err
}

func (e *Engine) mintFeeReward(tx *txn, category string, fee uint64) (uint64, error) {
	epoch := e.Epoch(tx.now)
	reward, err := e.cfg.Schedule.RewardAmount(fee, epoch)
	if err != nil {
		return 0, fmt.Errorf("ledger: reward for fee: %w", err)
	}
	if err := tx.vault.Mint(vault.RewardVault, vault.RewardToken, reward); err != nil {
		return 0, err
	}
	tx.emit(events.FeeReported{Category: category, Fee: fee, Reward: reward, Epoch: epoch})
	tx.onCommit(func() {
		e.metrics.ObserveFee(category, fee)
		e.logger.Info("fee reported",
			slog.String("category", category),
			slog.Uint64("fee", fee),
			slog.Uint64("reward", reward),
			slog.Uint64("epoch", epoch))
	})
	return reward, nil
}

// ResolveRound closes the current round against the rewards accrued in the
// reward vault. Anyone may call it.
func (e *Engine) ResolveRound(ctx context.Context, actor crypto.Address) (staking.ResolveResult, error) {
	var res staking.ResolveResult
	err := e.update(ctx, "resolve_round", func(tx *txn) error {
		balance, err := tx.vault.Balance(vault.RewardVault, vault.RewardToken)
		if err != nil {
			return err
		}
		pool, err := tx.ledger.RewardPool(balance)
		if err != nil {
			return err
		}
		if res, err = tx.ledger.ResolveRound(tx.now, pool); err != nil {
			return err
		}
		var dust uint64
		if res.Resolved.TotalStake > 0 {
			dust = pool - res.Allocation
		}
		tx.emit(events.RoundResolved{
			Actor:      actor,
			StartTime:  res.Resolved.StartTime,
			Rate:       res.Resolved.RateDecimal().String(),
			TotalStake: res.Resolved.TotalStake,
			Allocation: res.Allocation,
			RewardPool: pool,
			NextStart:  res.Current.StartTime,
			Backlog:    res.Backlog,
		})
		tx.onCommit(func() {
			e.metrics.ObserveRoundResolved(res.Resolved.TotalStake, res.Backlog, dust)
			e.logger.Info("round resolved",
				slog.String("actor", actor.String()),
				slog.Int64("startTime", res.Resolved.StartTime),
				slog.Uint64("rate", res.Resolved.Rate),
				slog.Uint64("totalStake", res.Resolved.TotalStake),
				slog.Uint64("allocation", res.Allocation),
				slog.Int("backlog", res.Backlog))
		})
		return nil
	})
	return res, err
}

// settle runs the claim protocol for acct inside tx and moves the reward out
// of the reward vault.
func (e *Engine) settle(tx *txn, caller crypto.Address, acct *staking.StakeAccount) (staking.ClaimResult, error) {
	res, err := staking.Claim(tx.ledger, acct, caller, e.cfg.Params)
	if err != nil {
		return staking.ClaimResult{}, err
	}
	if err := tx.vault.Transfer(vault.RewardVault, res.Owner, vault.RewardToken, res.OwnerAmount); err != nil {
		return staking.ClaimResult{}, err
	}
	if err := tx.vault.Transfer(vault.RewardVault, res.Caller, vault.RewardToken, res.CallerAmount); err != nil {
		return staking.ClaimResult{}, err
	}
	if res.Reward == 0 && res.RoundsClaimed == 0 && res.RoundsPruned == 0 {
		return res, nil
	}

	var recordID string
	if res.Reward > 0 {
		rec, err := tx.history.Append(claims.Record{
			Owner:         res.Owner,
			Caller:        res.Caller,
			Reward:        res.Reward,
			OwnerAmount:   res.OwnerAmount,
			CallerAmount:  res.CallerAmount,
			ClaimedWeight: res.ClaimedWeight,
			RoundsClaimed: uint32(res.RoundsClaimed),
			RoundsPruned:  uint32(res.RoundsPruned),
			ClaimTime:     res.ClaimTime,
			Timestamp:     tx.now,
		})
		if err != nil {
			return staking.ClaimResult{}, err
		}
		recordID = rec.ID
	}
	tx.emit(events.StakeRewardsClaimed{
		Owner:         res.Owner,
		Caller:        res.Caller,
		Reward:        res.Reward,
		OwnerAmount:   res.OwnerAmount,
		CallerAmount:  res.CallerAmount,
		RoundsClaimed: res.RoundsClaimed,
		RoundsPruned:  res.RoundsPruned,
		RecordID:      recordID,
	})
	backlog := len(tx.ledger.ResolvedRounds)
	tx.onCommit(func() {
		e.metrics.ObserveClaim(res.ThirdParty(), res.OwnerAmount, res.CallerAmount, res.RoundsPruned, backlog)
		e.logger.Info("stake rewards claimed",
			slog.String("owner", res.Owner.String()),
			slog.String("caller", res.Caller.String()),
			slog.Uint64("reward", res.Reward),
			slog.Uint64("callerAmount", res.CallerAmount),
			slog.Int("roundsClaimed", res.RoundsClaimed),
			slog.Int("roundsPruned", res.RoundsPruned))
	})
	return res, nil
}

// Claim settles the rewards owed to owner. Any caller may trigger it; the
// reward is paid to the owner, minus the configured caller share when the
// caller is someone else.
func (e *Engine) Claim(ctx context.Context, caller, owner crypto.Address) (staking.ClaimResult, error) {
	if err := requireAccount(owner); err != nil {
		return staking.ClaimResult{}, err
	}
	var res staking.ClaimResult
	err := e.update(ctx, "claim", func(tx *txn) error {
		acct, err := loadStakeAccount(tx.kv, owner)
		if err != nil {
			return err
		}
		if res, err = e.settle(tx, caller, acct); err != nil {
			return err
		}
		return saveStakeAccount(tx.kv, acct)
	})
	return res, err
}

// withAccount loads owner's account, settles it and hands it to fn before
// persisting it again.
func (e *Engine) withAccount(tx *txn, caller, owner crypto.Address, fn func(acct *staking.StakeAccount) error) error {
	acct, err := loadStakeAccount(tx.kv, owner)
	if err != nil {
		return err
	}
	if _, err := e.settle(tx, caller, acct); err != nil {
		return err
	}
	if err := fn(acct); err != nil {
		return err
	}
	return saveStakeAccount(tx.kv, acct)
}

func (e *Engine) logStakeChange(ev events.StakeChanged) {
	e.logger.Info(ev.Type,
		slog.String("owner", ev.Owner.String()),
		slog.String("kind", ev.Kind),
		slog.Int("index", ev.Index),
		slog.Uint64("amount", ev.Amount),
		slog.Uint64("weight", ev.Weight))
}

// AddLiquidStake moves amount stake tokens from the owner into the stake
// vault and tops up the liquid stake.
func (e *Engine) AddLiquidStake(ctx context.Context, actor, owner crypto.Address, amount uint64) error {
	if err := requireOwner(actor, owner); err != nil {
		return err
	}
	return e.update(ctx, "add_liquid_stake", func(tx *txn) error {
		return e.withAccount(tx, actor, owner, func(acct *staking.StakeAccount) error {
			if err := staking.AddLiquidStake(tx.ledger, acct, amount, tx.now); err != nil {
				return err
			}
			if err := tx.vault.Transfer(owner, vault.StakeVault, vault.StakeToken, amount); err != nil {
				return err
			}
			ev := events.StakeChanged{
				Type:   events.TypeStakeAdded,
				Owner:  owner,
				Actor:  actor,
				Kind:   events.StakeKindLiquid,
				Amount: amount,
				Weight: acct.LiquidStake.AmountWithMultiplier,
			}
			tx.emit(ev)
			tx.onCommit(func() { e.logStakeChange(ev) })
			return nil
		})
	})
}

// AddLockedStake locks amount stake tokens for lockDays and returns the new
// entry.
func (e *Engine) AddLockedStake(ctx context.Context, actor, owner crypto.Address, amount uint64, lockDays uint32) (staking.LockedStake, error) {
	if err := requireOwner(actor, owner); err != nil {
		return staking.LockedStake{}, err
	}
	var created staking.LockedStake
	err := e.update(ctx, "add_locked_stake", func(tx *txn) error {
		return e.withAccount(tx, actor, owner, func(acct *staking.StakeAccount) error {
			var err error
			if created, err = staking.AddLockedStake(tx.ledger, acct, e.cfg.Params, amount, lockDays, tx.now); err != nil {
				return err
			}
			if err := tx.vault.Transfer(owner, vault.StakeVault, vault.StakeToken, amount); err != nil {
				return err
			}
			ev := events.StakeChanged{
				Type:     events.TypeStakeAdded,
				Owner:    owner,
				Actor:    actor,
				Kind:     events.StakeKindLocked,
				Index:    len(acct.LockedStakes) - 1,
				Amount:   amount,
				Weight:   created.AmountWithMultiplier,
				LockDays: lockDays,
			}
			tx.emit(ev)
			tx.onCommit(func() { e.logStakeChange(ev) })
			return nil
		})
	})
	return created, err
}

// RemoveLiquidStake returns amount of liquid principal to the owner.
func (e *Engine) RemoveLiquidStake(ctx context.Context, actor, owner crypto.Address, amount uint64) error {
	if err := requireOwner(actor, owner); err != nil {
		return err
	}
	return e.update(ctx, "remove_liquid_stake", func(tx *txn) error {
		return e.withAccount(tx, actor, owner, func(acct *staking.StakeAccount) error {
			if err := staking.RemoveLiquidStake(tx.ledger, acct, amount); err != nil {
				return err
			}
			if err := tx.vault.Transfer(vault.StakeVault, owner, vault.StakeToken, amount); err != nil {
				return err
			}
			ev := events.StakeChanged{
				Type:   events.TypeStakeRemoved,
				Owner:  owner,
				Actor:  actor,
				Kind:   events.StakeKindLiquid,
				Amount: amount,
				Weight: acct.LiquidStake.AmountWithMultiplier,
			}
			tx.emit(ev)
			tx.onCommit(func() { e.logStakeChange(ev) })
			return nil
		})
	})
}

// FinalizeLockedStake stops an unlocked stake from earning. Anyone may call
// it once the lock has elapsed; pending rewards are settled first.
func (e *Engine) FinalizeLockedStake(ctx context.Context, actor, owner crypto.Address, index int) (staking.LockedStake, error) {
	if err := requireAccount(owner); err != nil {
		return staking.LockedStake{}, err
	}
	var finalized staking.LockedStake
	err := e.update(ctx, "finalize_locked_stake", func(tx *txn) error {
		return e.withAccount(tx, actor, owner, func(acct *staking.StakeAccount) error {
			var err error
			if finalized, err = staking.FinalizeLockedStake(tx.ledger, acct, index, tx.now); err != nil {
				return err
			}
			ev := events.StakeChanged{
				Type:     events.TypeStakeFinalized,
				Owner:    owner,
				Actor:    actor,
				Kind:     events.StakeKindLocked,
				Index:    index,
				Amount:   finalized.Amount,
				Weight:   finalized.AmountWithMultiplier,
				LockDays: finalized.LockDays,
			}
			tx.emit(ev)
			tx.onCommit(func() { e.logStakeChange(ev) })
			return nil
		})
	})
	return finalized, err
}

// RemoveLockedStake returns the principal of a finalized locked stake to its
// owner and drops the entry.
func (e *Engine) RemoveLockedStake(ctx context.Context, actor, owner crypto.Address, index int) (staking.LockedStake, error) {
	if err := requireOwner(actor, owner); err != nil {
		return staking.LockedStake{}, err
	}
	var removed staking.LockedStake
	err := e.update(ctx, "remove_locked_stake", func(tx *txn) error {
		return e.withAccount(tx, actor, owner, func(acct *staking.StakeAccount) error {
			var err error
			if removed, err = staking.RemoveLockedStake(acct, index, tx.now); err != nil {
				return err
			}
			if err := tx.vault.Transfer(vault.StakeVault, owner, vault.StakeToken, removed.Amount); err != nil {
				return err
			}
			ev := events.StakeChanged{
				Type:     events.TypeStakeRemoved,
				Owner:    owner,
				Actor:    actor,
				Kind:     events.StakeKindLocked,
				Index:    index,
				Amount:   removed.Amount,
				LockDays: removed.LockDays,
			}
			tx.emit(ev)
			tx.onCommit(func() { e.logStakeChange(ev) })
			return nil
		})
	})
	return removed, err
}

// Fund mints stake tokens to an address. It backs development faucets and
// tests; production deployments bridge the token in instead.
func (e *Engine) Fund(ctx context.Context, to crypto.Address, amount uint64) error {
	if to.IsZero() {
		return fmt.Errorf("%w: empty recipient", crypto.ErrInvalidAddress)
	}
	return e.update(ctx, "fund", func(tx *txn) error {
		if err := tx.vault.Mint(to, vault.StakeToken, amount); err != nil {
			return err
		}
		tx.onCommit(func() {
			e.logger.Info("stake tokens funded", slog.String("owner", to.String()), slog.Uint64("amount", amount))
		})
		return nil
	})
}
