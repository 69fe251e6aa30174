package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mbd888/tradematch/internal/announce"
	"github.com/mbd888/tradematch/internal/config"
	"github.com/mbd888/tradematch/internal/matcher"
	"github.com/mbd888/tradematch/internal/model"
	"github.com/mbd888/tradematch/internal/syncutil"
	"github.com/mbd888/tradematch/internal/webclient"
)

// Manager supervises one Pipeline per account, for an operator running a
// farm of several accounts from a single process — the scenario
// LoadBalancingDelay's per-account staggering exists for. Register/Remove
// for the same accountID serialize; calls for different accounts run
// independently, mirroring the teacher's gateway.service.go locking its
// session-keyed critical sections with a sharded mutex rather than one
// global lock.
type Manager struct {
	pipelines map[uint64]*Pipeline

	// fast guards the in-memory pipelines map. slow guards the slower,
	// I/O-bound construct/teardown section (Pipeline.New dials the
	// announcement store) and honors context cancellation so a caller
	// isn't stuck behind a wedged registration.
	fast syncutil.ShardedMutex
	slow *syncutil.ContextShardedMutex
}

// NewManager builds an empty account manager.
func NewManager() *Manager {
	return &Manager{
		pipelines: make(map[uint64]*Pipeline),
		slow:      syncutil.NewContextShardedMutex(),
	}
}

// Register builds, starts, and tracks the Pipeline for accountID.
// accountIndex is this account's position in the load-balancing spread
// passed to Pipeline.Run. account, profile, confirmer, and blacklist are
// supplied by the embedding application per spec.md §9.
func (mgr *Manager) Register(
	ctx context.Context,
	cfg *config.Config,
	accountID uint64,
	guid string,
	configuredTypes []model.ItemType,
	account webclient.AccountHandle,
	profile announce.Profile,
	confirmer matcher.Confirmer,
	blacklist matcher.Blacklist,
	logger *slog.Logger,
	accountIndex int,
) error {
	key := strconv.FormatUint(accountID, 10)
	unlock, err := mgr.slow.LockContext(ctx, key)
	if err != nil {
		return fmt.Errorf("tradematchd: registering account %d: %w", accountID, err)
	}
	defer unlock()

	p, err := New(cfg, accountID, guid, configuredTypes, account, profile, confirmer, blacklist, logger)
	if err != nil {
		return fmt.Errorf("tradematchd: building pipeline for account %d: %w", accountID, err)
	}

	release := mgr.fast.Lock(key)
	mgr.pipelines[accountID] = p
	release()

	go func() {
		if runErr := p.Run(ctx, cfg.LoadBalancingDelay, accountIndex); runErr != nil && runErr != context.Canceled {
			logger.Warn("tradematchd: pipeline stopped", "account_id", accountID, "error", runErr)
		}
	}()
	return nil
}

// Remove stops and forgets accountID's Pipeline, if registered.
func (mgr *Manager) Remove(ctx context.Context, accountID uint64) error {
	key := strconv.FormatUint(accountID, 10)
	unlock, err := mgr.slow.LockContext(ctx, key)
	if err != nil {
		return fmt.Errorf("tradematchd: removing account %d: %w", accountID, err)
	}
	defer unlock()

	release := mgr.fast.Lock(key)
	p, ok := mgr.pipelines[accountID]
	delete(mgr.pipelines, accountID)
	release()

	if !ok {
		return nil
	}
	p.Matcher.Stop()
	return nil
}
