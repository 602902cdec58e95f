package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"perpstake/core/events"
	"perpstake/crypto"
	"perpstake/native/claims"
	"perpstake/native/emissions"
	"perpstake/native/staking"
	"perpstake/native/vault"
	"perpstake/observability"
	"perpstake/observability/metrics"
	perpotel "perpstake/observability/otel"
	"perpstake/storage"
)

// DefaultEpochSeconds makes one emission epoch last a day.
const DefaultEpochSeconds int64 = 86_400

// Config fixes the economic parameters of an engine.
type Config struct {
	// GenesisTime opens the first round and anchors the epoch clock.
	GenesisTime  int64
	EpochSeconds int64
	Params       staking.Params
	Schedule     emissions.Schedule

	// AutoClaimBacklog is the resolved-round backlog at which the resolver
	// starts claiming for stakers that still owe the oldest round. Zero
	// selects DefaultAutoClaimBacklog.
	AutoClaimBacklog int
	// AutoClaimBatch caps the accounts claimed per resolver tick. Zero
	// selects DefaultAutoClaimBatch.
	AutoClaimBatch int
}

func (c Config) autoClaimBacklog() int {
	if c.AutoClaimBacklog == 0 {
		return DefaultAutoClaimBacklog
	}
	return c.AutoClaimBacklog
}

func (c Config) autoClaimBatch() int {
	if c.AutoClaimBatch == 0 {
		return DefaultAutoClaimBatch
	}
	return c.AutoClaimBatch
}

// DefaultConfig returns the launch configuration anchored at genesis.
func DefaultConfig(genesis int64) Config {
	return Config{
		GenesisTime:      genesis,
		EpochSeconds:     DefaultEpochSeconds,
		Params:           staking.DefaultParams(),
		Schedule:         emissions.DefaultSchedule(0),
		AutoClaimBacklog: DefaultAutoClaimBacklog,
		AutoClaimBatch:   DefaultAutoClaimBatch,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.GenesisTime <= 0 {
		return fmt.Errorf("ledger: genesis time must be positive")
	}
	if c.EpochSeconds <= 0 {
		return fmt.Errorf("ledger: epoch length must be positive")
	}
	if c.AutoClaimBacklog < 0 || c.AutoClaimBacklog > staking.MaxResolvedRounds {
		return fmt.Errorf("ledger: auto-claim backlog must be within [0, %d]", staking.MaxResolvedRounds)
	}
	if c.AutoClaimBatch < 0 {
		return fmt.Errorf("ledger: auto-claim batch must not be negative")
	}
	if err := c.Params.Validate(); err != nil {
		return err
	}
	return c.Schedule.Validate()
}

// Engine runs every ledger operation as one atomic transaction over the round
// ledger, a stake account and the token vaults. Operations are serialised; a
// failed operation leaves storage exactly as it was.
type Engine struct {
	mu      sync.Mutex
	db      storage.Database
	cfg     Config
	clock   func() time.Time
	emitter events.Emitter
	logger  *slog.Logger
	metrics *metrics.StakingMetrics
	tracer  trace.Tracer
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithEmitter routes committed ledger events to emitter.
func WithEmitter(emitter events.Emitter) Option {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *metrics.StakingMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer records operation spans on tracer instead of the global one.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// New opens the engine over db, creating the round ledger on first use.
func New(db storage.Database, cfg Config, opts ...Option) (*Engine, error) {
	if db == nil {
		return nil, errors.New("ledger: database required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		db:      db,
		cfg:     cfg,
		clock:   time.Now,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		tracer:  perpotel.Tracer(),
	}
	for _, opt := range opts {
		opt(e)
	}

	existing, err := loadRoundLedger(db)
	switch {
	case errors.Is(err, errLedgerMissing):
		l := staking.NewRoundLedger(cfg.GenesisTime, cfg.Schedule.InceptionEpoch, cfg.Params.StakeDecimals, cfg.Params.RewardDecimals)
		if err := saveRoundLedger(db, l); err != nil {
			return nil, fmt.Errorf("ledger: initialise round ledger: %w", err)
		}
		e.logger.Info("round ledger initialised", slog.Int64("genesis", cfg.GenesisTime))
	case err != nil:
		return nil, fmt.Errorf("ledger: load round ledger: %w", err)
	default:
		if existing.StakeDecimals != cfg.Params.StakeDecimals || existing.RewardDecimals != cfg.Params.RewardDecimals {
			return nil, fmt.Errorf("ledger: stored decimals %d/%d differ from configured %d/%d",
				existing.StakeDecimals, existing.RewardDecimals, cfg.Params.StakeDecimals, cfg.Params.RewardDecimals)
		}
	}
	return e, nil
}

// Now returns the engine clock as unix seconds.
func (e *Engine) Now() int64 { return e.clock().Unix() }

// Epoch maps a unix timestamp onto the emission epoch counter.
func (e *Engine) Epoch(now int64) uint64 {
	if now <= e.cfg.GenesisTime {
		return 0
	}
	return uint64((now - e.cfg.GenesisTime) / e.cfg.EpochSeconds)
}

type txn struct {
	kv      *storage.Overlay
	ledger  *staking.RoundLedger
	vault   *vault.Ledger
	history *claims.History
	now     int64
	events  []events.Event
	after   []func()
}

func (tx *txn) emit(ev events.Event) { tx.events = append(tx.events, ev) }

// onCommit defers fn until the transaction is durable.
func (tx *txn) onCommit(fn func()) { tx.after = append(tx.after, fn) }

func (e *Engine) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.metrics.IncFailure(op)
	return err
}

// update runs fn inside a write transaction. Events and post-commit hooks
// only fire once the batch is written.
func (e *Engine) update(ctx context.Context, op string, fn func(tx *txn) error) error {
	_, span := perpotel.StartOperation(ctx, e.tracer, op, false)
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	overlay := storage.NewOverlay(e.db)
	l, err := loadRoundLedger(overlay)
	if err != nil {
		return e.fail(span, op, err)
	}
	tx := &txn{
		kv:      overlay,
		ledger:  l,
		vault:   vault.New(overlay),
		history: claims.NewHistory(overlay),
		now:     e.Now(),
	}
	if err := fn(tx); err != nil {
		overlay.Discard()
		return e.fail(span, op, err)
	}
	if err := saveRoundLedger(overlay, tx.ledger); err != nil {
		overlay.Discard()
		return e.fail(span, op, err)
	}
	if err := overlay.Commit(); err != nil {
		return e.fail(span, op, fmt.Errorf("ledger: commit %s: %w", op, err))
	}

	e.metrics.SetRoundStake(tx.ledger.CurrentRound.TotalStake, tx.ledger.NextRound.TotalStake)
	for _, hook := range tx.after {
		hook()
	}
	for _, ev := range tx.events {
		e.emitter.Emit(ev)
		observability.Events().RecordEvent(ev.EventType())
	}
	return nil
}

// view runs fn against committed state.
func (e *Engine) view(ctx context.Context, op string, fn func(db storage.Database) error) error {
	_, span := perpotel.StartOperation(ctx, e.tracer, op, true)
	defer span.End()
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := fn(e.db); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Ledger returns a snapshot of the round ledger.
func (e *Engine) Ledger(ctx context.Context) (*staking.RoundLedger, error) {
	var out *staking.RoundLedger
	err := e.view(ctx, "ledger", func(db storage.Database) error {
		l, err := loadRoundLedger(db)
		out = l
		return err
	})
	return out, err
}

// StakeAccount returns the stored account of owner. Owners that never staked
// get an empty account.
func (e *Engine) StakeAccount(ctx context.Context, owner crypto.Address) (*staking.StakeAccount, error) {
	var out *staking.StakeAccount
	err := e.view(ctx, "stake_account", func(db storage.Database) error {
		acct, err := loadStakeAccount(db, owner)
		out = acct
		return err
	})
	return out, err
}

// PendingReward previews what a claim by caller would settle right now
// without committing anything.
func (e *Engine) PendingReward(ctx context.Context, caller, owner crypto.Address) (staking.ClaimResult, error) {
	var out staking.ClaimResult
	err := e.view(ctx, "pending_reward", func(db storage.Database) error {
		l, err := loadRoundLedger(db)
		if err != nil {
			return err
		}
		acct, err := loadStakeAccount(db, owner)
		if err != nil {
			return err
		}
		out, err = staking.Claim(l, acct, caller, e.cfg.Params)
		return err
	})
	return out, err
}

// ClaimHistory lists the settled claims of owner, oldest first.
func (e *Engine) ClaimHistory(ctx context.Context, owner crypto.Address, cursor string, limit int) ([]claims.Record, string, error) {
	var (
		records []claims.Record
		next    string
	)
	err := e.view(ctx, "claim_history", func(db storage.Database) error {
		var err error
		records, next, err = claims.NewHistory(db).List(owner, cursor, limit)
		return err
	})
	return records, next, err
}

// Balance returns the token balance of addr.
func (e *Engine) Balance(ctx context.Context, addr crypto.Address, token vault.Token) (uint64, error) {
	var out uint64
	err := e.view(ctx, "balance", func(db storage.Database) error {
		var err error
		out, err = vault.New(db).Balance(addr, token)
		return err
	})
	return out, err
}

// Resolvable reports whether ResolveRound would currently succeed on timing.
func (e *Engine) Resolvable(ctx context.Context) (bool, error) {
	l, err := e.Ledger(ctx)
	if err != nil {
		return false, err
	}
	return l.Resolvable(e.Now())
}
