package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"github.com/xkilldash9x/flow-automator/internal/bridge"
	"github.com/xkilldash9x/flow-automator/internal/browser"
	"github.com/xkilldash9x/flow-automator/internal/bus"
	"github.com/xkilldash9x/flow-automator/internal/config"
	"github.com/xkilldash9x/flow-automator/internal/download"
	"github.com/xkilldash9x/flow-automator/internal/observability"
	"github.com/xkilldash9x/flow-automator/internal/orchestrator"
	"github.com/xkilldash9x/flow-automator/internal/server"
)

const (
	shutdownTimeout = 30 * time.Second
	eventBuffer     = 64
)

type runOptions struct {
	restart bool
	noStart bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Attach to Chrome, process the queue and serve the control surface",
		Long: `Launches (or attaches to) Chrome, finds the Flow tab and processes the
prompt queue from where the last run stopped. While the control surface is
enabled the command keeps running after the queue is done, so the pipeline
can be driven with "flow-automator ctl". Interrupt to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAutomator(cmd.Context(), configFrom(cmd), observability.GetLogger(), opts)
		},
	}
	runCmd.Flags().BoolVar(&opts.restart, "restart", false, "reset unfinished prompts and start from the top")
	runCmd.Flags().BoolVar(&opts.noStart, "no-start", false, "do not start the pipeline; wait for a ctl command")
	runCmd.Flags().Bool("headless", false, "run Chrome headless")
	runCmd.Flags().String("remote-url", "", "DevTools URL of an already running Chrome")
	runCmd.Flags().String("addr", "", "control surface listen address")
	configFlag(runCmd, "headless", "browser.headless")
	configFlag(runCmd, "remote-url", "browser.remote_url")
	configFlag(runCmd, "addr", "server.addr")
	return runCmd
}

// runAutomator wires the store, event bus, browser, orchestrator and
// control surface, and runs them until ctx ends. Without the control
// surface it returns once the pipeline finishes.
func runAutomator(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts runOptions) error {
	st, err := openStore(ctx, cfg.Store(), logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("Error closing store.", zap.Error(err))
		}
	}()

	events := bus.NewEventBus(logger, eventBuffer)
	defer events.Shutdown()

	downloader, err := download.New(cfg.Download(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize downloader: %w", err)
	}

	// The manager reports attachments and page messages to the controller,
	// which is created once the manager exists. Neither callback can fire
	// before the first Target call.
	var ctrl *orchestrator.Controller
	mgr, err := browser.NewManager(ctx, cfg, logger, browser.Options{
		OnAttach: func(ctx context.Context, c bridge.Caller) {
			ctrl.SyncElements(ctx, c)
		},
		OnPageMessage: func(c bridge.Caller, msg schemas.PageMessage) {
			ctrl.HandlePageMessage(c, msg)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize browser manager: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser manager shutdown.", zap.Error(err))
		}
	}()

	ctrl, err = orchestrator.New(cfg.Pipeline(), orchestrator.Deps{
		Store:      st,
		Targets:    mgr,
		Events:     events,
		Downloader: downloader,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	serving := cfg.Server().Enabled
	if serving {
		srv, err := server.New(cfg.Server(), server.Deps{Pipeline: ctrl, Store: st, Events: events}, logger)
		if err != nil {
			return fmt.Errorf("failed to create control surface: %w", err)
		}
		g.Go(func() error { return srv.Run(gctx) })
	}

	g.Go(func() error {
		switch {
		case opts.restart:
			if err := ctrl.Restart(gctx); err != nil {
				return fmt.Errorf("failed to restart pipeline: %w", err)
			}
		case !opts.noStart:
			if err := ctrl.Start(); err != nil {
				return err
			}
		}
		if !serving {
			if err := ctrl.Wait(gctx); err == nil {
				logger.Info("Pipeline finished.", zap.String("state", string(ctrl.Status().State)))
				cancel()
			}
		}
		<-gctx.Done()

		stopCtx, stop := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer stop()
		return ctrl.Close(stopCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
