package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"camclass/pkg/auth"
	"camclass/pkg/checkpoint"
	"camclass/pkg/classifier"
	"camclass/pkg/config"
	errs "camclass/pkg/errors"
	"camclass/pkg/export"
	"camclass/pkg/logger"
	"camclass/pkg/metadata"
	"camclass/pkg/models"
	"camclass/pkg/runner"
	"camclass/pkg/walker"
)

var (
	// Run command flags
	resumeRun      bool
	forceRestart   bool
	checkpointPath string
	exportOnDone   bool
	exportFormat   string
	exportDest     string
	threshold      float64
	giveUpAfter    int
	endpoint       string
	accountName    string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <root>",
	Short: "Classify every image under a survey root",
	Long: `Walk the survey tree rooted at <root>, classify each image exactly
once, and record every outcome in the checkpoint before moving on.

An interrupted run (Ctrl-C, crash, or power loss) can be continued with
--resume: already-classified images are skipped and previously failed
ones are retried. A checkpoint for a different root is rejected rather
than merged.

Press Ctrl-C once to pause and save; press it again to cancel.`,
	Example: `  # Fresh run over a survey archive
  camclass run /surveys/2026-dry-season

  # Continue an interrupted run
  camclass run /surveys/2026-dry-season --resume

  # Discard prior progress and start over
  camclass run /surveys/2026-dry-season --force-restart

  # Classify, then export the report in one go
  camclass run /surveys/2026-dry-season --export --format html`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(args[0])
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&resumeRun, "resume", false, "resume from the last checkpoint")
	runCmd.Flags().BoolVar(&forceRestart, "force-restart", false, "ignore and clear an existing checkpoint")
	runCmd.Flags().StringVar(&checkpointPath, "checkpoint", "", "checkpoint file location")
	runCmd.Flags().BoolVar(&exportOnDone, "export", false, "export the report when the run completes")
	runCmd.Flags().StringVar(&exportFormat, "format", "", "export format (csv, html)")
	runCmd.Flags().StringVar(&exportDest, "destination", "", "export destination path")
	runCmd.Flags().Float64Var(&threshold, "threshold", 0, "confidence threshold below which predictions become Unidentified")
	runCmd.Flags().IntVar(&giveUpAfter, "give-up-after", 0, "mark an item skipped after failing in this many runs (0 retries forever)")
	runCmd.Flags().StringVar(&endpoint, "endpoint", "", "inference endpoint URL")
	runCmd.Flags().StringVarP(&accountName, "account", "a", "", "use a specific stored credential")
}

func runBatch(rootPath string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := logger.GetLogger()

	if err := resolveCredentials(cfg); err != nil {
		return err
	}

	store := checkpoint.NewStore(cfg.Checkpoint.Path)
	prior, err := resolvePriorState(store)
	if err != nil {
		return err
	}

	cls, err := classifier.NewHTTP(&cfg.Classifier)
	if err != nil {
		return err
	}

	w := walker.New(
		walker.WithExtensions(cfg.Walker.Extensions),
		walker.WithSegmentPattern(cfg.Walker.SegmentPattern),
	)

	r := runner.New(store, w, cls, metadata.NewEXIF(), runner.WithGiveUpAfter(cfg.Run.GiveUpAfter))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	run, err := r.Start(ctx, rootPath, prior)
	if err != nil {
		return describeStartError(err)
	}

	log.WithField("run_id", run.ID).Info("Run started")

	handleSignals(run)
	reportProgress(run)

	finalState := run.Wait()
	progress := run.Progress()

	fmt.Fprintf(os.Stderr, "\n%s: %d/%d processed (%d ok, %d failed, %d skipped)\n",
		finalState, progress.Processed, progress.Total,
		progress.Succeeded, progress.Failed, progress.Skipped)

	if err := run.Err(); err != nil {
		return fmt.Errorf("run stopped: %w", err)
	}

	if finalState == runner.StateCompleted && exportOnDone {
		return exportResults(run.Snapshot(), cfg)
	}

	return nil
}

// loadConfig builds the effective configuration from flags and files
func loadConfig() (*config.Config, error) {
	flags := make(map[string]interface{})
	if endpoint != "" {
		flags["endpoint"] = endpoint
	}
	if threshold > 0 {
		flags["threshold"] = threshold
	}
	if checkpointPath != "" {
		flags["checkpoint"] = checkpointPath
	}
	if exportFormat != "" {
		flags["format"] = exportFormat
	}
	if exportDest != "" {
		flags["export-destination"] = exportDest
	}
	if giveUpAfter > 0 {
		flags["give-up-after"] = giveUpAfter
	}
	if logLevel != "info" {
		flags["log-level"] = logLevel
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveCredentials fills in the inference token from stored credentials
// when the config does not provide one.
func resolveCredentials(cfg *config.Config) error {
	if cfg.Classifier.Token != "" && accountName == "" {
		return nil
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	var cred *auth.Credential
	if accountName != "" {
		cred, err = manager.Retrieve(accountName)
		if err != nil {
			return fmt.Errorf("credential %q not found; run 'camclass auth list'", accountName)
		}
	} else {
		cred, err = manager.RetrieveDefault()
		if err != nil {
			// An unauthenticated endpoint is legal; leave the token empty.
			return nil
		}
	}

	cfg.Classifier.Token = cred.Token
	if cfg.Classifier.Endpoint == "" && cred.Endpoint != "" {
		cfg.Classifier.Endpoint = cred.Endpoint
	}
	return nil
}

// resolvePriorState applies the --resume / --force-restart contract
func resolvePriorState(store *checkpoint.Store) (*checkpoint.RunState, error) {
	if forceRestart {
		if err := store.Clear(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if !store.Exists() {
		return nil, nil
	}

	if !resumeRun {
		return nil, fmt.Errorf("checkpoint exists at %s - use --resume to continue or --force-restart to start fresh", store.Path())
	}

	prior, err := store.Load()
	if err != nil {
		var typed *errs.Error
		if errors.As(err, &typed) && typed.Type == errs.ErrorTypeCorruptState {
			return nil, fmt.Errorf("checkpoint is corrupt (%v); use --force-restart or 'camclass checkpoint clear' to start fresh", err)
		}
		return nil, err
	}
	return prior, nil
}

// describeStartError turns typed start failures into actionable messages
func describeStartError(err error) error {
	var typed *errs.Error
	if errors.As(err, &typed) {
		switch typed.Type {
		case errs.ErrorTypeIncompatibleResume:
			return fmt.Errorf("%v", err)
		case errs.ErrorTypeRunAlreadyActive:
			return fmt.Errorf("%v; wait for it to finish or pause it first", err)
		}
	}
	return err
}

// handleSignals pauses on the first interrupt and cancels on the second
func handleSignals(run *runner.Run) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nPausing after the current image (Ctrl-C again to cancel)...")
		if err := run.Pause(); err != nil {
			return
		}
		<-sigCh
		fmt.Fprintln(os.Stderr, "Cancelling...")
		_ = run.Cancel()
	}()
}

// reportProgress logs counters periodically until the run stops
func reportProgress(run *runner.Run) {
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		log := logger.GetLogger()
		for {
			select {
			case <-run.Done():
				return
			case <-ticker.C:
				p := run.Progress()
				log.InfoWithFields("Progress", map[string]interface{}{
					"processed": p.Processed,
					"total":     p.Total,
					"failed":    p.Failed,
				})
			}
		}
	}()
}

// exportResults renders the report from a run state snapshot
func exportResults(state *checkpoint.RunState, cfg *config.Config) error {
	format, err := export.ParseFormat(cfg.Export.Format)
	if err != nil {
		return err
	}

	results := state.OrderedResults()
	if err := export.New(format).Export(results, cfg.Export.Destination); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Report written to %s (%d rows)\n", cfg.Export.Destination, len(results))
	return nil
}

// summarize counts results per status for checkpoint info output
func summarize(state *checkpoint.RunState) map[models.Status]int {
	counts := make(map[models.Status]int)
	for _, r := range state.Results {
		counts[r.Status]++
	}
	return counts
}
