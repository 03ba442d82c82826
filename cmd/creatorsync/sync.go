package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"creatorsync/pkg/auth"
	"creatorsync/pkg/client"
	"creatorsync/pkg/config"
	"creatorsync/pkg/engine"
	"creatorsync/pkg/errors"
	"creatorsync/pkg/logger"
	"creatorsync/pkg/progress"
	"creatorsync/pkg/ratelimit"
	"creatorsync/pkg/retry"
	"creatorsync/pkg/signing"
	"creatorsync/pkg/state"
	"creatorsync/pkg/storage"
	"creatorsync/pkg/stream"
	"creatorsync/pkg/ui"
)

var (
	// Sync command flags
	outputDir    string
	concurrent   int
	rateLimit    int
	platformName string
	categories   []string
	cursorPolicy string
	overwrite    bool
	previews     bool
	maxPosts     int
	syncAll      bool
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync [usernames...]",
	Short: "Sync creator feeds into the local archive",
	Long: `Sync the given creators' feeds into the local archive.

Each feed is walked newest-first. Media already present in the archive is
recognized by fingerprint and skipped, and the walk stops at the cursor
saved by the previous run. The cursor only advances once a walk completes,
so an interrupted run never leaves a gap.

This command requires stored credentials (use 'creatorsync auth login').`,
	Example: `  # Sync one creator
  creatorsync sync somecreator

  # Sync several creators with more workers
  creatorsync sync alice bob --concurrent 8

  # Sync every active subscription
  creatorsync sync --all

  # Re-download everything, replacing the duplicate index
  creatorsync sync somecreator --overwrite

  # Include messages and archived posts
  creatorsync sync somecreator --categories posts,messages,archived`,
	Args: cobra.ArbitraryArgs,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringVarP(&outputDir, "output", "o", "", "base directory for the archive (default: current directory)")
	syncCmd.Flags().IntVar(&concurrent, "concurrent", 0, "number of concurrent downloads")
	syncCmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "requests per minute")
	syncCmd.Flags().StringVar(&platformName, "platform", "", "platform to sync (onlyfans, fansly)")
	syncCmd.Flags().StringSliceVar(&categories, "categories", nil, "feed categories to walk (posts, archived, messages, stories, highlights)")
	syncCmd.Flags().StringVar(&cursorPolicy, "cursor-policy", "", "cursor advance policy (best-effort, all-or-nothing)")
	syncCmd.Flags().BoolVar(&overwrite, "overwrite", false, "re-download everything, rebuilding the duplicate index")
	syncCmd.Flags().BoolVar(&previews, "previews", false, "also download preview variants of locked media")
	syncCmd.Flags().IntVar(&maxPosts, "max-posts", 0, "post cap for creators synced for the first time")
	syncCmd.Flags().BoolVar(&syncAll, "all", false, "sync every active subscription")
}

func syncFlags() map[string]interface{} {
	flags := make(map[string]interface{})
	if outputDir != "" {
		flags["output"] = outputDir
	}
	if concurrent > 0 {
		flags["concurrent"] = concurrent
	}
	if rateLimit > 0 {
		flags["rate-limit"] = rateLimit
	}
	if platformName != "" {
		flags["platform"] = platformName
	}
	if len(categories) > 0 {
		flags["categories"] = categories
	}
	if cursorPolicy != "" {
		flags["cursor-policy"] = cursorPolicy
	}
	if overwrite {
		flags["overwrite"] = true
	}
	if previews {
		flags["previews"] = true
	}
	if maxPosts > 0 {
		flags["max-posts"] = maxPosts
	}
	if logLevel != "info" {
		flags["log-level"] = logLevel
	}
	return flags
}

// appRuntime bundles everything a command needs after wiring.
type appRuntime struct {
	cfg     *config.Config
	log     logger.Logger
	engine  *engine.Engine
	emitter *progress.Emitter
}

// newRuntime loads configuration, retrieves credentials and wires the
// engine with its collaborators.
func newRuntime(flags map[string]interface{}) (*appRuntime, error) {
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Initialize(&logger.Options{
		Level: cfg.Logging.Level,
		File:  cfg.Logging.File,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger()

	platform := auth.Platform(cfg.Platform.Name)
	manager, err := auth.NewManager()
	if err != nil {
		return nil, fmt.Errorf("failed to open credential stores: %w", err)
	}
	creds, err := manager.Retrieve(platform)
	if err != nil {
		return nil, fmt.Errorf("no credentials for %s: %w (run 'creatorsync auth login')", platform, err)
	}

	var signer client.Signer
	if platform == auth.PlatformOnlyFans {
		signer = signing.NewProvider(creds.AuthID, cfg.Platform.RuleSources, log)
	} else {
		signer = signing.NewStaticSigner(creds.Session, creds.HeaderToken)
	}

	refill := time.Minute / time.Duration(cfg.RateLimit.RequestsPerMinute)
	limiter := ratelimit.NewTokenBucket(cfg.RateLimit.BurstSize, refill)

	apiClient, err := client.New(creds, signer, client.Options{
		BaseURL:         cfg.Platform.BaseURL,
		Timeout:         cfg.Download.DownloadTimeout,
		MinRequestDelay: cfg.RateLimit.MinRequestDelay,
		Limiter:         limiter,
		Logger:          log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build session client: %w", err)
	}

	layout, err := storage.NewLayout(cfg.Output.BaseDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare archive directory: %w", err)
	}
	states, err := state.NewStore(filepath.Join(cfg.Output.BaseDirectory, ".sync-state"), log)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare state directory: %w", err)
	}

	policy := retry.DefaultPolicy()
	if cfg.Download.RetryAttempts > 0 {
		policy.MaxAttempts = cfg.Download.RetryAttempts
	}
	if cfg.Download.MaxRateLimitWait > 0 {
		policy.MaxRateLimitWait = cfg.Download.MaxRateLimitWait
	}
	emitter := progress.NewEmitter(256)
	policy.OnWait = func(kind errors.Kind, delay time.Duration) {
		if kind == errors.KindRateLimited {
			emitter.Emit(progress.Event{Type: progress.EventRateLimitWait, Wait: delay})
		}
	}

	assembler := stream.NewAssembler(stream.NewClientFetcher(apiClient), stream.Options{
		Concurrency: cfg.Download.ConcurrentDownloads,
		Retry:       policy,
		Logger:      log,
	})

	eng, err := engine.New(engine.Deps{
		API:       apiClient,
		Fetcher:   apiClient,
		Assembler: assembler,
		Layout:    layout,
		States:    states,
		Config:    cfg,
		Emitter:   emitter,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}

	return &appRuntime{cfg: cfg, log: log, engine: eng, emitter: emitter}, nil
}

func runSync(cmd *cobra.Command, args []string) error {
	if !syncAll && len(args) == 0 {
		return fmt.Errorf("provide creator usernames or --all")
	}

	rt, err := newRuntime(syncFlags())
	if err != nil {
		ui.PrintError("Setup failed", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	renderer := ui.NewRenderer(rt.emitter)

	total := &engine.RunSummary{}
	var runErr error
	if syncAll {
		summary, err := rt.engine.SyncAll(ctx)
		if summary != nil {
			total = summary
		}
		runErr = err
	} else {
		for _, arg := range args {
			username := strings.TrimSpace(arg)
			summary, err := rt.engine.SyncCreator(ctx, username)
			if summary != nil {
				total.Categories = append(total.Categories, summary.Categories...)
				total.Downloaded += summary.Downloaded
				total.Skipped += summary.Skipped
				total.Failed += summary.Failed
			}
			if err != nil {
				if errors.IsFatal(err) || ctx.Err() != nil {
					runErr = err
					break
				}
				ui.PrintWarning("Sync failed for "+username, err.Error())
			}
		}
	}

	rt.emitter.Close()
	renderer.Wait()
	printSummary(total)

	if runErr != nil {
		if errors.IsFatal(runErr) {
			ui.PrintError("Session expired", "run 'creatorsync auth login' to refresh credentials")
		} else {
			ui.PrintError("Sync aborted", runErr.Error())
		}
		os.Exit(1)
	}
	return nil
}

func printSummary(summary *engine.RunSummary) {
	fmt.Println()
	ui.PrintInfo("Downloaded", fmt.Sprintf("%d", summary.Downloaded))
	ui.PrintInfo("Skipped", fmt.Sprintf("%d", summary.Skipped))
	ui.PrintInfo("Failed", fmt.Sprintf("%d", summary.Failed))

	failed := summary.FailedItems()
	if len(failed) == 0 {
		return
	}
	ui.PrintWarning("Permanently failed items")
	for _, item := range failed {
		fmt.Printf("  post %d media %d: %s (%s)\n", item.PostID, item.MediaID, item.Reason, item.Kind)
	}
}
