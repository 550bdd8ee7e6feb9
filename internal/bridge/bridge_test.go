// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package bridge_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grindstone/scripthost/internal/bridge"
	"github.com/grindstone/scripthost/internal/logging"
)

const (
	moversDir   = "testdata/movers"
	spinnerFile = "testdata/spinner.lua"
)

type fixture struct {
	session *bridge.Session
	logs    *bytes.Buffer
}

func newFixture(t *testing.T, cfg bridge.Config) *fixture {
	t.Helper()
	var buf bytes.Buffer
	logger := logging.Setup(logging.Options{Format: "json", Level: logging.LevelTrace, Writer: &buf})
	if cfg.UnloadPassInterval == 0 {
		cfg.UnloadPassInterval = time.Millisecond
	}
	s := bridge.NewSession(bridge.WithLogger(logger), bridge.WithConfig(cfg))
	t.Cleanup(func() { s.Close(context.Background()) })
	return &fixture{session: s, logs: &buf}
}

func newSession(t *testing.T) *bridge.Session {
	t.Helper()
	return newFixture(t, bridge.Config{}).session
}

func mustLoad(t *testing.T, s *bridge.Session, path string) bridge.ModuleKey {
	t.Helper()
	key, err := s.Load(context.Background(), path)
	require.NoError(t, err)
	require.NotZero(t, key)
	return key
}

func writeModule(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return dir
}

func quietLogger() *slog.Logger {
	return logging.Setup(logging.Options{Format: "text", Level: slog.LevelError + 4, Writer: &bytes.Buffer{}})
}
