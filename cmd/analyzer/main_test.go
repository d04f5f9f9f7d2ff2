package main

import (
	"bytes"
	"context"
	"mule_analyzer/internal/config"
	"mule_analyzer/internal/domain"
	"mule_analyzer/internal/loader"
	"mule_analyzer/internal/processor"
	"mule_analyzer/internal/repository/memory"
	"mule_analyzer/internal/service"
	"mule_analyzer/pkg/crypto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useConfig writes cfg to a temp file and points the command flags at it.
func useConfig(t *testing.T, cfg *config.Config) {
	t.Helper()
	t.Setenv("MULE_SIGNING_KEY", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, cfg.Save(path))

	configPath, dataDir, outDir, logLevel = path, "", "", "error"
	t.Cleanup(func() { configPath, logLevel = "config.yaml", "" })
}

func TestSampleScreens(t *testing.T) {
	ctx := context.Background()
	txs := memory.NewTransactionRepository()
	for i, amount := range []float64{150000, 20, 120000} {
		require.NoError(t, txs.Save(ctx, &domain.Transaction{
			ID:        string(rune('a' + i)),
			AccountID: "A",
			Type:      domain.TypeCredit,
			Amount:    amount,
			Channel:   "UPI",
		}))
	}
	rules, err := screenRepository(ctx, []config.ScreenConfig{
		{ID: "large", Condition: `{"field":"amount","operator":">=","value":100000}`, Priority: 1},
		{ID: "upi", Condition: `{"field":"channel","operator":"==","value":"UPI"}`, Priority: 5},
	})
	require.NoError(t, err)

	var out bytes.Buffer
	err = sampleScreens(ctx, &out, &loader.Dataset{Transactions: txs}, processor.NewRuleEngine(rules, nil), 2)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Screens on 2 sampled transactions:", lines[0])
	assert.Equal(t, []string{"upi", "2"}, strings.Fields(lines[1]), "higher priority screen first")
	assert.Equal(t, []string{"large", "1"}, strings.Fields(lines[2]))
}

func TestVerifyCommand(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	signer := crypto.NewSigner("secret", nil)

	svc := service.NewExportService(dir, signer, 1, nil)
	require.NoError(t, svc.Submit(ctx, service.ExportJob{
		Name: "stats.json",
		Kind: service.ArtifactStats,
		Write: func(_ context.Context, path string) error {
			return os.WriteFile(path, []byte("{}\n"), 0644)
		},
	}))
	artifacts, err := svc.Close(ctx)
	require.NoError(t, err)
	_, err = svc.WriteManifest("manifest.json", "run-1", artifacts)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Output.Dir = dir
	cfg.Signing.Key = "secret"
	useConfig(t, cfg)

	var out bytes.Buffer
	verifyCmd.SetOut(&out)
	t.Cleanup(func() { verifyCmd.SetOut(nil) })

	require.NoError(t, runVerify(verifyCmd, nil))
	assert.Contains(t, out.String(), "stats.json")
	assert.Contains(t, out.String(), "Run run-1: 1 artifacts verified")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "stats.json"), []byte(`{"x":1}`), 0644))
	assert.ErrorIs(t, runVerify(verifyCmd, nil), crypto.ErrInvalidSignature)
}

func TestVerifyCommand_WrongKey(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	svc := service.NewExportService(dir, crypto.NewSigner("secret", nil), 1, nil)
	artifacts, err := svc.Close(ctx)
	require.NoError(t, err)
	_, err = svc.WriteManifest("manifest.json", "run-2", artifacts)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Output.Dir = dir
	cfg.Signing.Key = "other"
	useConfig(t, cfg)

	assert.ErrorIs(t, runVerify(verifyCmd, nil), crypto.ErrInvalidSignature)
}
