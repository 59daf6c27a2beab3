package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := Execute()
	return out.String(), err
}

func TestCLI_AdminAndExport(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-test-secret-0123456789")
	t.Setenv("SMTP_USERNAME", "")
	t.Setenv("MAIL_BACKEND", "log")
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "survey.db")

	out, err := runCLI(t, "create-admin", "--db", dbPath,
		"--name", "Ada", "--email", "Ada@Example.com", "--password", "secret1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Created admin Ada <ada@example.com>")

	_, err = runCLI(t, "create-admin", "--db", dbPath,
		"--name", "Ada", "--email", "ada@example.com", "--password", "secret1")
	assert.Error(t, err, "duplicate admin email should fail")

	out, err = runCLI(t, "pending", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No pending registrations.")

	csvPath := filepath.Join(dir, "out.csv")
	out, err = runCLI(t, "export", "--db", dbPath, "--out", csvPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Wrote 0 responses")

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "Submission Date,Full Name,Email"))
}

func TestCLI_RejectsMissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := runCLI(t, "pending", "--db", filepath.Join(t.TempDir(), "survey.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestCLI_ApproveNeedsMailUnlessLogged(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-test-secret-0123456789")
	t.Setenv("SMTP_USERNAME", "")
	t.Setenv("MAIL_BACKEND", "")

	_, err := runCLI(t, "approve", "missing-user", "--db", filepath.Join(t.TempDir(), "survey.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SMTP_USERNAME")
}
