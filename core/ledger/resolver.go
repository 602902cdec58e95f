package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"perpstake/crypto"
	"perpstake/native/staking"
	"perpstake/storage"
)

const (
	// DefaultAutoClaimBacklog starts auto-claiming with a quarter of the
	// backlog capacity still free.
	DefaultAutoClaimBacklog = staking.MaxResolvedRounds * 3 / 4
	DefaultAutoClaimBatch   = 256
)

// RunResolver polls every interval and resolves the current round as soon as
// it may be closed. Stakers that stop claiming are claimed for by actor once
// the resolved backlog reaches the configured threshold. It returns when ctx
// is cancelled.
func (e *Engine) RunResolver(ctx context.Context, actor crypto.Address, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.resolveIfDue(ctx, actor)
		}
	}
}

// resolveIfDue closes at most one round per call. Failures are logged and
// retried on the next tick.
func (e *Engine) resolveIfDue(ctx context.Context, actor crypto.Address) bool {
	if _, err := e.AutoClaim(ctx, actor, e.cfg.autoClaimBacklog()); err != nil {
		e.logger.Warn("resolver: auto claim", slog.Any("error", err))
	}
	ok, err := e.Resolvable(ctx)
	if err != nil {
		e.logger.Warn("resolver: check round", slog.Any("error", err))
		return false
	}
	if !ok {
		return false
	}
	_, err = e.ResolveRound(ctx, actor)
	if errors.Is(err, staking.ErrStorageResize) {
		// Full backlog: settle whoever holds the oldest round and retry.
		if n, claimErr := e.AutoClaim(ctx, actor, 0); claimErr == nil && n > 0 {
			_, err = e.ResolveRound(ctx, actor)
		}
	}
	if err != nil {
		if !errors.Is(err, staking.ErrRoundNotYetResolvable) {
			e.logger.Warn("resolver: resolve round", slog.Any("error", err))
		}
		return false
	}
	return true
}

// AutoClaim claims, with keeper as caller, for every staker that still owes
// the oldest resolved round, provided the backlog holds at least minBacklog
// rounds. At most AutoClaimBatch accounts are settled per call. Accounts that
// fail to settle are logged and skipped. It returns the number settled.
func (e *Engine) AutoClaim(ctx context.Context, keeper crypto.Address, minBacklog int) (int, error) {
	owners, err := e.idleOwners(ctx, minBacklog, e.cfg.autoClaimBatch())
	if err != nil {
		return 0, err
	}
	claimed := 0
	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return claimed, err
		}
		if _, err := e.Claim(ctx, keeper, owner); err != nil {
			e.logger.Warn("resolver: auto claim account",
				slog.String("owner", owner.String()),
				slog.Any("error", err))
			continue
		}
		claimed++
	}
	e.metrics.ObserveAutoClaims(claimed)
	if claimed > 0 {
		e.logger.Info("idle stakers claimed", slog.String("actor", keeper.String()), slog.Int("accounts", claimed))
	}
	return claimed, nil
}

// idleOwners returns up to limit owners holding the oldest resolved round.
func (e *Engine) idleOwners(ctx context.Context, minBacklog, limit int) ([]crypto.Address, error) {
	var idle []crypto.Address
	err := e.view(ctx, "idle_owners", func(db storage.Database) error {
		l, err := loadRoundLedger(db)
		if err != nil {
			return err
		}
		if len(l.ResolvedRounds) == 0 || len(l.ResolvedRounds) < minBacklog {
			return nil
		}
		oldest := l.ResolvedRounds[0]
		owners, err := stakeOwners(db, 0)
		if err != nil {
			return err
		}
		for _, owner := range owners {
			acct, err := loadStakeAccount(db, owner)
			if err != nil {
				return err
			}
			if !acct.Owes(oldest) {
				continue
			}
			idle = append(idle, owner)
			if len(idle) == limit {
				return nil
			}
		}
		return nil
	})
	return idle, err
}
