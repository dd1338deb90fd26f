package main

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func setupEnv(t *testing.T, backend string) {
	dir := t.TempDir()
	t.Setenv("STRIKEKEEPER_STORE", backend)
	t.Setenv("STRIKEKEEPER_DB_PATH", filepath.Join(dir, "strikes-"+backend))
	t.Setenv("DASHBOARD_DIR", filepath.Join(dir, "dashboard"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("ENFORCEMENT_DENY", "")
	t.Setenv("DIRECTORY_FILE", "")
}

func TestStrikeCommands(t *testing.T) {
	for _, backend := range []string{"bolt", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			setupEnv(t, backend)

			for i := 1; i <= 2; i++ {
				out, err := execute(t, "issue", "42", "spamming links", "--moderator", "7")
				require.NoError(t, err)
				assert.Contains(t, out, fmt.Sprintf("Current Strikes: %d/3", i))
			}

			out, err := execute(t, "info", "42")
			require.NoError(t, err)
			assert.Contains(t, out, "Active Strikes: 2/3")
			assert.Contains(t, out, "Warning: Next strike will result in a timeout!")

			out, err = execute(t, "issue", "42", "again", "-m", "7")
			require.NoError(t, err)
			assert.Contains(t, out, "Punishment: 5 minutes timeout (violation #1)")

			out, err = execute(t, "summary")
			require.NoError(t, err)
			assert.Contains(t, out, "Unknown User (42)")
			assert.Contains(t, out, "Strikes: 3/3")

			out, err = execute(t, "remove", "42", "-m", "7")
			require.NoError(t, err)
			assert.Contains(t, out, "Current Strikes: 2/3")

			out, err = execute(t, "reset", "42", "-m", "7")
			require.NoError(t, err)
			assert.Contains(t, out, "Removed 2 strike(s) from 42; violations stay at 1")

			out, err = execute(t, "remove", "42")
			require.NoError(t, err)
			assert.Contains(t, out, "42 has no active strikes")

			out, err = execute(t, "sweep")
			require.NoError(t, err)
			assert.Contains(t, out, "Expired 0 strike(s)")

			out, err = execute(t, "audit", "-n", "3")
			require.NoError(t, err)
			assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 3)
		})
	}
}

func TestIssueRejectsSelfStrike(t *testing.T) {
	setupEnv(t, "bolt")

	_, err := execute(t, "issue", "7", "spam", "-m", "7")
	assert.ErrorContains(t, err, "moderators cannot strike themselves")
}

func TestIssueRejectsBadID(t *testing.T) {
	setupEnv(t, "bolt")

	_, err := execute(t, "issue", "abc", "spam", "-m", "7")
	assert.ErrorContains(t, err, "invalid user id")
}

func TestTableCommand(t *testing.T) {
	setupEnv(t, "bolt")

	out, err := execute(t, "table")
	require.NoError(t, err)
	assert.Contains(t, out, "Violation 1: 5 minutes")
	assert.Contains(t, out, "Violation 6: 1440 minutes")
	assert.Contains(t, out, "Beyond: 1440 minutes")
}

func TestFormatMinutes(t *testing.T) {
	assert.Equal(t, "60 minutes", formatMinutes(time.Hour))
}
