package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"shieldpool/internal/config"
	"shieldpool/internal/ledger"
	plog "shieldpool/internal/log"
	"shieldpool/internal/store"
	"shieldpool/internal/types"
	"shieldpool/internal/verifier"
)

const version = "0.3.0"

// Rate limit buckets. Public accounts are charged under accountBucket, so no
// account name can reach the bucket shared by private transfers.
const shieldedBucket = "shielded"

func accountBucket(acct types.AccountID) string { return "account/" + string(acct) }

var (
	// ErrRateLimited is returned when an account exceeds its submission rate.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrHalted is returned by every write once a change could not be
	// persisted. Memory and disk no longer agree and the node must be
	// restarted from the store.
	ErrHalted = errors.New("node halted after a persistence failure")
	// ErrSourceMismatch is returned for a mint whose Source is not the
	// authenticated submitter.
	ErrSourceMismatch = errors.New("mint source is not the submitter")
)

// stateStore is the persistence used by a node. *store.Store implements it.
type stateStore interface {
	Apply(op types.Operation, d ledger.StateDelta) error
	ApplyBlock(ops []types.Operation, res ledger.BlockResult) error
	Load() (ledger.Persisted, error)
	Ping() error
	Close() error
}

// node is a ledger backed by a leveldb store together with the daemon's
// metrics, health checks, rate limits and audit log.
//
// Writes are serialised so deltas reach the store in commit order. A failed
// write halts the node.
type node struct {
	cfg     *config.Config
	log     zerolog.Logger
	ledger  *ledger.Ledger
	store   stateStore
	metrics *MetricsCollector
	health  *HealthChecker
	limiter *AccountRateLimiter
	audit   *plog.Audit

	mu     sync.Mutex
	halted error
}

// openNode opens the store, restores the ledger from it and registers the
// health checks. A fresh store is initialised with the genesis root.
func openNode(cfg *config.Config, v verifier.Verifier, logger zerolog.Logger, audit *plog.Audit) (*node, error) {
	st, err := store.Open(store.Options{
		Path:        cfg.Store.Path,
		Cache:       cfg.Store.Cache,
		Handles:     cfg.Store.Handles,
		RootHistory: cfg.Ledger.RootHistory,
		Logger:      logger.With().Str("module", "store").Logger(),
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	l, err := ledger.New(ledger.Options{
		Depth:             cfg.Ledger.TreeDepth,
		RootHistory:       cfg.Ledger.RootHistory,
		Verifier:          v,
		VerifyParallelism: cfg.Ledger.VerifyParallelism,
		Logger:            logger.With().Str("module", "ledger").Logger(),
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	p, err := st.Load()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load state: %w", err)
	}
	if len(p.History) == 0 {
		err = st.Init(l.Root())
	} else {
		err = l.Restore(p)
	}
	if err != nil {
		st.Close()
		return nil, err
	}

	if audit == nil {
		audit, _ = plog.NewAudit("")
	}
	n := &node{
		cfg:     cfg,
		log:     logger,
		ledger:  l,
		store:   st,
		metrics: NewMetricsCollector(),
		health:  NewHealthChecker(version),
		limiter: NewAccountRateLimiter(cfg.Limits.PerAccount, time.Duration(cfg.Limits.WindowSecs)*time.Second, 0),
		audit:   audit,
	}
	n.health.RegisterComponent("store", n.storeCheck)
	n.health.RegisterComponent("accumulator", accumulatorCheck(l))
	n.metrics.RecordLedger(l.Stats())

	path := st.Path()
	if path == "" {
		path = "(memory)"
	}
	s := l.Stats()
	logger.Info().Str("store", path).Uint64("seq", s.Seq).Uint64("commitments", s.Commitments).
		Int("nullifiers", s.Nullifiers).Stringer("root", s.Root).Msg("node opened")
	return n, nil
}

func (n *node) Close() error {
	n.audit.Close()
	return n.store.Close()
}

// storeCheck reports the store unhealthy once the node halted.
func (n *node) storeCheck() error {
	n.mu.Lock()
	halted := n.halted
	n.mu.Unlock()
	if halted != nil {
		return halted
	}
	return n.store.Ping()
}

// halt stops the node after err failed to persist a committed change.
// Callers hold n.mu.
func (n *node) halt(err error) error {
	n.halted = fmt.Errorf("%w: %w", ErrHalted, err)
	n.metrics.IncrementCounter(MetricStoreErrors, nil)
	n.log.Error().Err(err).Msg("persistence failed, refusing further writes")
	return n.halted
}

// bucket returns the rate limit bucket of op.
func bucket(op types.Operation) string {
	switch o := op.(type) {
	case *types.Mint:
		return accountBucket(o.Source)
	case *types.Reclaim:
		return accountBucket(o.Destination)
	default:
		return shieldedBucket
	}
}

func (n *node) allow(op types.Operation) error {
	b := bucket(op)
	if n.limiter.Allow(b) {
		return nil
	}
	n.metrics.IncrementCounter(MetricRateLimited, map[string]string{"kind": op.Kind().String()})
	return fmt.Errorf("%w for %s", ErrRateLimited, b)
}

// submit applies op to the ledger and persists the resulting delta.
func (n *node) submit(ctx context.Context, op types.Operation) (ledger.StateDelta, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.halted != nil {
		return ledger.StateDelta{}, n.halted
	}
	if err := n.allow(op); err != nil {
		return ledger.StateDelta{}, err
	}

	start := time.Now()
	d, err := n.ledger.Submit(ctx, op)
	n.metrics.RecordSubmission(op.Kind(), time.Since(start), err)
	if err != nil {
		return d, err
	}

	if err := n.store.Apply(op, d); err != nil {
		return d, n.halt(fmt.Errorf("persist operation %d: %w", d.Seq, err))
	}
	n.metrics.RecordLedger(n.ledger.Stats())
	n.auditOp(op, d)
	return d, nil
}

// submitBlock applies ops as one block and persists the accepted deltas in a
// single batch.
func (n *node) submitBlock(ctx context.Context, ops []types.Operation) (ledger.BlockResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.halted != nil {
		return ledger.BlockResult{}, n.halted
	}

	allowed := make([]types.Operation, 0, len(ops))
	limited := make(map[int]error)
	for i, op := range ops {
		if err := n.allow(op); err != nil {
			limited[i] = err
			continue
		}
		allowed = append(allowed, op)
	}

	start := time.Now()
	res, err := n.ledger.SubmitBlock(ctx, allowed)
	if err != nil {
		return res, err
	}
	elapsed := time.Since(start)
	for i, r := range res.Results {
		n.metrics.RecordSubmission(allowed[i].Kind(), elapsed, r.Err)
	}

	if err := n.store.ApplyBlock(allowed, res); err != nil {
		return res, n.halt(fmt.Errorf("persist block: %w", err))
	}
	n.metrics.RecordLedger(n.ledger.Stats())
	for i, r := range res.Results {
		if r.Err == nil {
			n.auditOp(allowed[i], r.Delta)
		}
	}
	n.log.Debug().Int("operations", len(ops)).Int("accepted", len(res.Accepted())).
		Int("rate_limited", len(limited)).Bool("sealed", res.Sealed).Msg("block committed")

	// report results in submission order, rate limited ones included
	full := ledger.BlockResult{Root: res.Root, Sealed: res.Sealed, Results: make([]ledger.Result, len(ops))}
	next := 0
	for i := range ops {
		if err, ok := limited[i]; ok {
			full.Results[i] = ledger.Result{Err: err}
			continue
		}
		full.Results[i] = res.Results[next]
		next++
	}
	return full, nil
}

// auditOp records operations that move public value.
func (n *node) auditOp(op types.Operation, d ledger.StateDelta) {
	switch o := op.(type) {
	case *types.Mint:
		n.audit.Event("mint", map[string]interface{}{
			"seq":    d.Seq,
			"asset":  uint64(o.Asset),
			"amount": o.Amount,
			"source": string(o.Source),
			"root":   d.Root.String(),
		})
	case *types.Reclaim:
		n.audit.Event("reclaim", map[string]interface{}{
			"seq":         d.Seq,
			"asset":       uint64(o.Asset),
			"amount":      o.Amount,
			"destination": string(o.Destination),
			"nullifiers":  len(o.Nullifiers),
		})
	}
}

// applyPublic runs a public balance change and persists its delta.
func (n *node) applyPublic(event string, fields map[string]interface{}, change func() (ledger.StateDelta, error)) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.halted != nil {
		return n.halted
	}

	d, err := change()
	if err != nil {
		return err
	}
	if err := n.store.Apply(nil, d); err != nil {
		return n.halt(fmt.Errorf("persist %s %d: %w", event, d.Seq, err))
	}
	fields["seq"] = d.Seq
	n.audit.Event(event, fields)
	n.metrics.RecordLedger(n.ledger.Stats())
	return nil
}

// setBalance overwrites a public balance and persists the change.
func (n *node) setBalance(asset types.AssetID, acct types.AccountID, amount uint64) error {
	return n.applyPublic("set_balance", map[string]interface{}{
		"asset":   uint64(asset),
		"account": string(acct),
		"amount":  amount,
	}, func() (ledger.StateDelta, error) {
		return n.ledger.SetBalance(asset, acct, amount)
	})
}

// issue creates asset with its total supply held by acct.
func (n *node) issue(asset types.AssetID, acct types.AccountID, total uint64) error {
	return n.applyPublic("issue", map[string]interface{}{
		"asset":   uint64(asset),
		"account": string(acct),
		"total":   total,
	}, func() (ledger.StateDelta, error) {
		return n.ledger.Issue(asset, acct, total)
	})
}

// transfer moves a public balance of an issued asset between accounts.
func (n *node) transfer(asset types.AssetID, from, to types.AccountID, amount uint64) error {
	return n.applyPublic("transfer", map[string]interface{}{
		"asset":  uint64(asset),
		"from":   string(from),
		"to":     string(to),
		"amount": amount,
	}, func() (ledger.StateDelta, error) {
		return n.ledger.Transfer(asset, from, to, amount)
	})
}

// checkSource rejects mints whose Source is not submitter. An empty submitter
// trusts the Source of every mint.
func checkSource(ops []types.Operation, submitter types.AccountID) error {
	if submitter == "" {
		return nil
	}
	for i, op := range ops {
		if m, ok := op.(*types.Mint); ok && m.Source != submitter {
			return fmt.Errorf("operation %d: %w: %q, submitter %q", i, ErrSourceMismatch, m.Source, submitter)
		}
	}
	return nil
}

// loadVerifier loads the verifying keys named by cfg and pins their checksums.
func loadVerifier(cfg *config.Config, logger zerolog.Logger) (*verifier.Groth16Verifier, error) {
	keys, err := verifier.LoadKeys(cfg.Verifier.KeyDir, cfg.Ledger.TreeDepth)
	if err != nil {
		return nil, err
	}
	sums, err := cfg.Checksums()
	if err != nil {
		return nil, err
	}
	return verifier.NewGroth16Verifier(keys, verifier.Options{
		Depth:     cfg.Ledger.TreeDepth,
		Checksums: sums,
		CacheSize: cfg.Verifier.CacheSize,
		Logger:    logger.With().Str("module", "verifier").Logger(),
	})
}
