// Command gokittd is the composition root: it wires the recipe registry,
// object store, channel log, topic analysis pipeline, proposal engine,
// access control, secret config, and maintenance scheduler into one
// long-running process, with signal-driven shutdown rather than a
// request/response or RPC-export lifecycle.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kittclouds/gokitt/internal/access"
	"github.com/kittclouds/gokitt/internal/admin"
	"github.com/kittclouds/gokitt/internal/channel"
	"github.com/kittclouds/gokitt/internal/errs"
	"github.com/kittclouds/gokitt/internal/proposal"
	"github.com/kittclouds/gokitt/internal/recipe"
	"github.com/kittclouds/gokitt/internal/secretconfig"
	"github.com/kittclouds/gokitt/internal/store"
	"github.com/kittclouds/gokitt/internal/topicanalysis"
)

// services holds every wired component for the process lifetime.
type services struct {
	cfg      Config
	logger   *slog.Logger
	registry *recipe.Registry
	store    *store.Store
	channels *channel.Log
	pipeline *topicanalysis.Pipeline
	proposal *proposal.Engine
	access   *access.Control
	secrets  *secretconfig.Store
	admin    *admin.Admin
}

func main() {
	configPath := flag.String("config", "", "path to gokittd.toml")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("gokittd: config load failed", "cause", err)
		os.Exit(1)
	}

	svc, err := wire(cfg, logger)
	if err != nil {
		logger.Error("gokittd: wiring failed", "cause", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("gokittd: ready", "data_dir", cfg.DataDir)
	svc.runMaintenanceLoop(ctx)
	logger.Info("gokittd: shutting down")
}

// wire constructs every component against one shared SQLite file,
// following C3/C4/C5's own layering: registry recipes must exist before
// the store is asked to validate anything against them, and the pipeline
// and access control both need the same *store.Store and *recipe.Registry
// the lower layers already built.
func wire(cfg Config, logger *slog.Logger) (*services, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, errs.ComputationError(err)
	}
	dsn := filepath.Join(cfg.DataDir, "gokitt.db")

	reg := recipe.NewRegistry()
	if err := topicanalysis.RegisterRecipes(reg); err != nil {
		return nil, err
	}
	if err := topicanalysis.RegisterMessageRecipe(reg); err != nil {
		return nil, err
	}
	if err := proposal.RegisterRecipe(reg); err != nil {
		return nil, err
	}
	if err := secretconfig.RegisterRecipe(reg); err != nil {
		return nil, err
	}

	s, err := store.New(dsn, reg, logger)
	if err != nil {
		return nil, err
	}

	channels := channel.New(s)

	analyzer := topicanalysis.AnalyzerFunc(func(ctx context.Context, messages []topicanalysis.Message, currentSubjects, existingKeywords []string) (*topicanalysis.AnalysisResult, error) {
		return nil, errs.AnalysisFailed(nil)
	})
	pipeline, err := topicanalysis.NewPipeline(s, reg, channels, analyzer, logger)
	if err != nil {
		return nil, err
	}

	proposalEngine := proposal.NewEngine(s, reg)
	accessControl := access.New(s, reg)

	var wrapKey []byte
	if cfg.SecretWrapKeyFile != "" {
		key, err := os.ReadFile(cfg.SecretWrapKeyFile)
		if err != nil {
			logger.Warn("gokittd: secret wrap key unavailable, secrets cannot be sealed or unsealed", "cause", err)
		} else {
			wrapKey = key
		}
	}
	secrets := secretconfig.New(s, reg, wrapKey)
	adm := admin.New(s, reg, logger)

	return &services{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		store:    s,
		channels: channels,
		pipeline: pipeline,
		proposal: proposalEngine,
		access:   accessControl,
		secrets:  secrets,
		admin:    adm,
	}, nil
}

// runMaintenanceLoop ticks admin.RunMaintenance at the configured
// interval until ctx is cancelled, mirroring the pack's pattern of a
// signal-aware root context gating a long-running background loop
// (steveyegge-beads' rootCtx/rootCancel) rather than a bare goroutine
// with no cancellation path.
func (svc *services) runMaintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(svc.cfg.MaintenanceEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := svc.admin.RunMaintenance(ctx, time.Now().UnixMilli())
			if err != nil {
				svc.logger.Warn("gokittd: maintenance pass reported errors", "cause", err)
			}
			svc.logger.Info("gokittd: maintenance complete",
				"summaries_pruned", report.SummariesPruned,
				"keywords_merged", report.KeywordsMerged,
				"keywords_deleted", report.KeywordsDeleted,
				"subjects_archived", report.SubjectsArchived,
				"subjects_deleted", report.SubjectsDeleted,
				"orphans_collected", report.OrphansCollected,
			)
		}
	}
}
