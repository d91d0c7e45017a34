package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
)

const testRules = `
users:
  - id: user-1
    email: me@example.com
    rules:
      - name: Invoices
        subject: Invoice
        actions:
          - type: label
            label: Finance
`

const testMessage = "From: Billing <billing@vendor.com>\r\n" +
	"To: me@example.com\r\n" +
	"Subject: Invoice #42\r\n" +
	"Message-ID: <invoice-42@vendor.com>\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
	"\r\n" +
	"Your invoice is attached.\r\n"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommands_ImportRunHistory(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	dir := t.TempDir()

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"database:\n  path: "+filepath.Join(dir, "mailflow.db")+"\nlogging:\n  level: error\n"), 0o600))
	rulesPath := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte(testRules), 0o600))
	msgPath := filepath.Join(dir, "invoice.eml")
	require.NoError(t, os.WriteFile(msgPath, []byte(testMessage), 0o600))

	out, err := execute(t, "--config", cfgPath, "rules", "import", rulesPath)
	require.NoError(t, err)
	assert.Contains(t, out, "1 rules")

	out, err = execute(t, "--config", cfgPath, "rules", "list", "--user", "user-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Invoices")

	out, err = execute(t, "--config", cfgPath, "run", "--user", "user-1", msgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Invoices")
	assert.Contains(t, out, "LABEL label=Finance")

	out, err = execute(t, "--config", cfgPath, "run", "--user", "user-1", msgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "already recorded")

	out, err = execute(t, "--config", cfgPath, "history", "--user", "user-1")
	require.NoError(t, err)
	assert.Contains(t, out, "invoice-42@vendor.com")
	assert.Contains(t, out, "Invoices")

	_, err = execute(t, "--config", cfgPath, "run", "--user", "nobody", "--dir", dir)
	var userErr *common.UserError
	require.ErrorAs(t, err, &userErr)
	assert.Contains(t, userErr.UserMessage, `unknown user "nobody"`)
}

func TestEmlFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.eml", "a.EML", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.eml"), 0o750))

	paths, err := emlFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.EML"), filepath.Join(dir, "b.eml")}, paths)
}
