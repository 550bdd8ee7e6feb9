// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

// Package bridge hosts reloadable script modules behind opaque handles.
//
// A Session is the process-wide state of the bridge: the module table, the
// handle table and the contexts that are still draining after an unload.
// The native engine drives a Session from a single thread; the Boundary
// type flattens the Session API into sentinel-returning calls for callers
// that cannot receive Go errors.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/grindstone/scripthost/internal/handle"
	"github.com/grindstone/scripthost/internal/script/core"
	scriptlua "github.com/grindstone/scripthost/internal/script/lua"
)

const tracerName = "github.com/grindstone/scripthost/internal/bridge"

// Defaults applied by NewSession when the corresponding Config field is zero.
const (
	DefaultOwnerField         = "entity"
	DefaultUnloadMaxPasses    = 3
	DefaultUnloadPassInterval = 10 * time.Millisecond
)

// Config tunes a Session.
type Config struct {
	// OwnerField is the instance field that receives the owning entity.
	OwnerField string
	// CoreAliases are require names redirected to the core library.
	CoreAliases []string
	// UnloadMaxPasses bounds the collection passes of one unload.
	UnloadMaxPasses int
	// UnloadPassInterval spaces collection passes.
	UnloadPassInterval time.Duration
	// ReleaseHandles frees every handle of a context when it unloads
	// instead of leaving them pinned until the holder frees them.
	ReleaseHandles bool
	// Libraries are the Lua libraries opened in module states. Empty opens
	// the sandbox defaults.
	Libraries []string
	// BlockedGlobals are cleared in module states in addition to the
	// loaders the sandbox always removes.
	BlockedGlobals []string
}

func (c *Config) applyDefaults() {
	if c.OwnerField == "" {
		c.OwnerField = DefaultOwnerField
	}
	if len(c.CoreAliases) == 0 {
		c.CoreAliases = []string{core.ModuleName}
	}
	if c.UnloadMaxPasses <= 0 {
		c.UnloadMaxPasses = DefaultUnloadMaxPasses
	}
	if c.UnloadPassInterval <= 0 {
		c.UnloadPassInterval = DefaultUnloadPassInterval
	}
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithConfig replaces the session configuration.
func WithConfig(cfg Config) Option {
	return func(s *Session) {
		s.cfg = cfg
	}
}

// WithLibrary shares an existing core library. A Session that creates its
// own library closes it in Close.
func WithLibrary(lib *core.Library) Option {
	return func(s *Session) {
		s.lib = lib
	}
}

// WithPathResolver sets how load paths are turned into module locations.
func WithPathResolver(r PathResolver) Option {
	return func(s *Session) {
		s.paths = r
	}
}

// WithTracerProvider sets the tracer provider used for load and unload
// spans. The default is the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Session) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// Session owns every module loaded through it.
type Session struct {
	cfg      Config
	logger   *slog.Logger
	lib      *core.Library
	ownsLib  bool
	paths    PathResolver
	tracer   trace.Tracer
	states   *scriptlua.StateFactory
	resolver *scriptlua.Resolver

	mu         sync.Mutex
	modules    map[ModuleKey]*ModuleEntry
	draining   map[ModuleKey]*drainingContext
	handles    *handle.Table[*Object]
	generation uint32
}

// NewSession creates an empty session.
func NewSession(opts ...Option) *Session {
	s := &Session{
		modules:  make(map[ModuleKey]*ModuleEntry),
		draining: make(map[ModuleKey]*drainingContext),
		handles:  handle.NewTable[*Object](),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cfg.applyDefaults()
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.lib == nil {
		s.lib = core.NewLibrary(s.logger)
		s.ownsLib = true
	}
	if s.paths == nil {
		s.paths = AbsPathResolver{}
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	s.states = scriptlua.NewStateFactory(
		scriptlua.WithLibraries(s.cfg.Libraries...),
		scriptlua.WithBlockedGlobals(s.cfg.BlockedGlobals...))
	s.resolver = scriptlua.NewResolver(s.lib, s.cfg.CoreAliases, s.logger)

	return s
}

// Library returns the core library shared by every module of the session.
func (s *Session) Library() *core.Library {
	return s.lib
}

// Config returns the effective configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// LiveHandles returns the number of pinned handles across all contexts.
func (s *Session) LiveHandles() int {
	return s.handles.Len()
}

// nextGeneration returns a fresh, non-zero generation. Callers must hold
// the lock.
func (s *Session) nextGeneration() uint32 {
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	return s.generation
}

// Close unloads every module and releases the core library if the session
// created it. Outcomes other than Success are logged by Unload.
func (s *Session) Close(ctx context.Context) {
	for _, entry := range s.Modules() {
		s.Unload(ctx, entry.Key)
	}
	if s.ownsLib {
		s.lib.Close()
	}
}
