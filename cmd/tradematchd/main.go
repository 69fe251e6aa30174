// Command tradematchd is the composition root for the farming-automation
// pipeline: announce/heartbeat state and the Active Matcher for one
// account, per spec.md §2 and §4.4.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/mbd888/tradematch/internal/announce"
	"github.com/mbd888/tradematch/internal/config"
	"github.com/mbd888/tradematch/internal/directory"
	"github.com/mbd888/tradematch/internal/logging"
	"github.com/mbd888/tradematch/internal/matcher"
	"github.com/mbd888/tradematch/internal/model"
	"github.com/mbd888/tradematch/internal/traces"
	"github.com/mbd888/tradematch/internal/webclient"
	"github.com/mbd888/tradematch/internal/webratelimit"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Pipeline is the fully wired per-account dependency chain. New builds
// it in this order: rate limiter → web client → cacheable API-key
// resolver (which fetches through the web client) → announce engine →
// matcher.
type Pipeline struct {
	Engine  *announce.Engine
	Matcher *matcher.Matcher
	closeDB func() error
}

// New builds a Pipeline for one account. account, profile, confirmer,
// and blacklist belong to the out-of-scope account/session and
// operator-tooling subsystems (spec.md §9's cyclic-ownership note) and
// must be supplied by the embedding application; this composition root
// never constructs them itself.
func New(
	cfg *config.Config,
	accountID uint64,
	guid string,
	configuredTypes []model.ItemType,
	account webclient.AccountHandle,
	profile announce.Profile,
	confirmer matcher.Confirmer,
	blacklist matcher.Blacklist,
	logger *slog.Logger,
) (*Pipeline, error) {
	limiter := webratelimit.New(cfg.WebLimiterDelay, webratelimit.DefaultMaxConnections)
	invSem := webclient.NewInventorySemaphore(cfg.InventoryLimiterDelay)

	endpoints := webclient.DefaultEndpoints()
	web, err := webclient.New(cfg, account, endpoints, limiter, invSem, logger)
	if err != nil {
		return nil, err
	}

	apiKeys := webclient.NewAPIKeyResolver(web, false)
	directoryClient := directory.New(cfg.StatisticsServer, cfg.ConnectionTimeout, logger)

	store, closeDB, err := newAnnounceStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	engine := announce.NewEngine(accountID, guid, configuredTypes, store, directoryClient, web, apiKeys, profile, logger)
	m := matcher.NewMatcher(accountID, configuredTypes, account, web, directoryClient, apiKeys, profile, confirmer, blacklist, logger)

	return &Pipeline{Engine: engine, Matcher: m, closeDB: closeDB}, nil
}

// Run starts the Active Matcher's periodic loop and blocks until ctx is
// cancelled or the Matcher is stopped. The announce Engine has no loop of its own: it reacts to
// OnPersonaState/OnHeartBeat/OnLoggedOn calls driven by the (out-of-
// scope) session layer.
func (p *Pipeline) Run(ctx context.Context, loadBalancingDelay time.Duration, accountIndex int) error {
	defer func() {
		if p.closeDB != nil {
			_ = p.closeDB()
		}
	}()
	p.Matcher.Start(ctx, loadBalancingDelay, accountIndex)
	return ctx.Err()
}

// newAnnounceStore picks the Postgres-backed store when DatabaseURL is
// set, falling back to the in-memory store otherwise.
func newAnnounceStore(cfg *config.Config, logger *slog.Logger) (announce.Store, func() error, error) {
	if cfg.DatabaseURL == "" {
		return announce.NewMemoryStore(), nil, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	logger.Info("using postgres-backed announcement store")
	return announce.NewPostgresStore(db), db.Close, nil
}

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting tradematchd",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	shutdownTracer, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	// account, profile, confirmer, and blacklist are owned by the
	// embedding application's session layer, not this module; tradematchd
	// is a library entrypoint and is not meant to run standalone without
	// them wired in by whatever process links against Pipeline.New.
	logger.Error("tradematchd has no built-in account/session subsystem; " +
		"link this module into an application that supplies a concrete " +
		"AccountHandle, Profile, Confirmer, and Blacklist to Pipeline.New")
	os.Exit(1)
}
