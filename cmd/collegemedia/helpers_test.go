// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeConfig writes a YAML config file and isolates XDG lookups.
func writeConfig(t *testing.T, body string) *rootOptions {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return &rootOptions{configFile: path}
}

func envMap(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}
