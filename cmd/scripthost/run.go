// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/grindstone/scripthost/internal/bridge"
	"github.com/grindstone/scripthost/internal/config"
	"github.com/grindstone/scripthost/internal/observability"
	"github.com/grindstone/scripthost/internal/reload"
	"github.com/grindstone/scripthost/internal/script/core"
	"github.com/grindstone/scripthost/pkg/errutil"
)

// runConfig holds configuration for the run command.
type runConfig struct {
	types    []string
	entity   uint32
	scene    uint64
	frames   int
	interval time.Duration
	editor   bool
}

// Validate checks that the configuration is valid.
func (cfg *runConfig) Validate(watch bool) error {
	if cfg.frames < 0 {
		return fmt.Errorf("frames must not be negative, got %d", cfg.frames)
	}
	if cfg.frames == 0 && !watch {
		return fmt.Errorf("frames=0 runs until interrupted and requires --watch")
	}
	if cfg.interval < 0 {
		return fmt.Errorf("interval must not be negative, got %s", cfg.interval)
	}
	return nil
}

// Default values for run command flags.
const (
	defaultFrames   = 1
	defaultInterval = 16 * time.Millisecond
)

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	cfg := &runConfig{}

	cmd := &cobra.Command{
		Use:   "run <module>...",
		Short: "Load modules and drive their lifecycle",
		Long: `Load each module, create an instance of its types, run OnAttach and
OnStart, then drive update frames. With --watch the modules are reloaded
when their sources change and frames=0 runs until interrupted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModules(cmd, cfg, args)
		},
	}

	cmd.Flags().StringSliceVar(&cfg.types, "type", nil, "type to instantiate (repeatable; default: every exported type)")
	cmd.Flags().Uint32Var(&cfg.entity, "entity", 0, "owning entity id injected into components")
	cmd.Flags().Uint64Var(&cfg.scene, "scene", 0, "scene id of the owning entity")
	cmd.Flags().IntVar(&cfg.frames, "frames", defaultFrames, "update frames to run (0 = until interrupted)")
	cmd.Flags().DurationVar(&cfg.interval, "interval", defaultInterval, "delay between frames")
	cmd.Flags().BoolVar(&cfg.editor, "editor", false, "drive OnEditorUpdate instead of OnUpdate")

	return cmd
}

func runModules(cmd *cobra.Command, rc *runConfig, paths []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if err := rc.Validate(cfg.Reload.Enabled); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session := newSession(cfg, logger)
	defer session.Close(context.Background())

	var (
		ready    atomic.Bool
		metrics  *observability.Metrics
		serveErr <-chan error
	)
	if cfg.Metrics.Addr != "" {
		server := observability.NewServer(cfg.Metrics.Addr, ready.Load)
		if serveErr, err = server.Start(); err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Stop(shutdownCtx); err != nil {
				slog.Warn("observability server shutdown error", "error", err)
			}
		}()
		metrics = server.Metrics()
	}

	var owner *core.EntityIdentity
	if cmd.Flags().Changed("entity") {
		owner = &core.EntityIdentity{Entity: rc.entity, Scene: core.SceneRef{ID: uintptr(rc.scene)}}
	}
	h := newHost(session, logger, owner, rc.types)
	defer h.shutdown(context.Background())

	var watcher *reload.Watcher
	if cfg.Reload.Enabled {
		watcher, err = newWatcher(cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = watcher.Close() }()
	}

	for _, path := range paths {
		key, err := h.load(ctx, path)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		if watcher != nil {
			abs, _ := session.Path(key)
			if err := watcher.Watch(key, abs); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
		}
	}
	ready.Store(true)
	if watcher != nil {
		watcher.Start()
	}

	mode := "runtime"
	if rc.editor {
		mode = "editor"
	}
	hooks := reload.Hooks{
		BeforeUnload: h.despawn,
		AfterLoad: func(key bridge.ModuleKey) {
			if err := h.spawn(key); err != nil {
				errutil.LogError(logger, "respawn after reload failed", err)
			}
		},
	}

	loop := &frameLoop{host: h, watcher: watcher, hooks: hooks, metrics: metrics, mode: mode, rc: rc}

	driveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(driveCtx)
	g.Go(func() error {
		defer cancel()
		return loop.drive(gctx)
	})
	if serveErr != nil {
		g.Go(func() error {
			select {
			case err, ok := <-serveErr:
				if ok && err != nil {
					return fmt.Errorf("observability server failed: %w", err)
				}
			case <-gctx.Done():
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return printSummary(cmd, h, session)
}

// frameLoop drives update frames on the goroutine that owns the session.
type frameLoop struct {
	host    *host
	watcher *reload.Watcher
	hooks   reload.Hooks
	metrics *observability.Metrics
	mode    string
	rc      *runConfig
}

func (l *frameLoop) drive(ctx context.Context) error {
	ticker := time.NewTicker(max(l.rc.interval, time.Millisecond))
	defer ticker.Stop()
	for {
		if l.watcher != nil {
			for _, res := range l.watcher.PerformPending(ctx, l.host, l.hooks) {
				recordReload(l.metrics, res.Err)
				if res.Err != nil {
					l.host.respawn(res.Key)
				}
			}
		}
		l.host.tick(l.rc.editor)
		if l.metrics != nil {
			l.metrics.FramesTotal.WithLabelValues(l.mode).Inc()
		}
		if l.rc.frames != 0 && l.host.frames >= l.rc.frames {
			return nil
		}
		select {
		case <-ctx.Done():
			slog.Info("frame loop stopped", "frames", l.host.frames)
			return nil
		case <-ticker.C:
		}
	}
}

func newWatcher(cfg *config.Config, logger *slog.Logger) (*reload.Watcher, error) {
	opts := cfg.Watcher()
	opts.Logger = logger
	w, err := reload.New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return w, nil
}

func recordReload(metrics *observability.Metrics, err error) {
	if metrics == nil {
		return
	}
	metrics.WatcherReloads.WithLabelValues(errutil.CodeOr(err, bridge.StatusSuccess)).Inc()
}

func printSummary(cmd *cobra.Command, h *host, session *bridge.Session) error {
	for _, info := range session.Modules() {
		cmd.Printf("%s\tgeneration=%d\ttypes=%d\thandles=%d\n",
			info.Name, info.Generation, len(info.Types), info.Handles)
	}
	cmd.Printf("frames=%d instances=%d failures=%d\n", h.frames, h.instances(), h.failed)
	return nil
}
