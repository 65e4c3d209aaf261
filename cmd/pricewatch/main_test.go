package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rewired-gh/pricewatch/internal/models"
	"github.com/rewired-gh/pricewatch/internal/pricesource"
)

func testConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := `
source:
  kind: simulated
  volatility: 0.01
  random_seed: 7
  symbols:
    AAPL: "150"
    MSFT: "320"
storage:
  driver: sqlite
  db_path: "` + filepath.ToSlash(filepath.Join(dir, "test.db")) + `"
logging:
  level: error
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAlertsLifecycle(t *testing.T) {
	cfg := testConfig(t)

	out, err := execute(t, "--config", cfg, "--json", "alerts", "add", "aapl", "gt", "1")
	if err != nil {
		t.Fatalf("alerts add: %v\n%s", err, out)
	}
	var created []models.Alert
	if err := json.Unmarshal([]byte(out), &created); err != nil || len(created) != 1 {
		t.Fatalf("unexpected add output %q: %v", out, err)
	}
	id := created[0].ID
	if created[0].Symbol != "AAPL" {
		t.Errorf("symbol = %s, want AAPL", created[0].Symbol)
	}

	if out, err := execute(t, "--config", cfg, "alerts", "add", "msft", "lt", "1"); err != nil {
		t.Fatalf("alerts add: %v\n%s", err, out)
	}
	out, err = execute(t, "--config", cfg, "--json", "alerts", "list", "--symbol", "aapl")
	if err != nil {
		t.Fatalf("alerts list --symbol: %v\n%s", err, out)
	}
	var bySymbol []models.Alert
	if err := json.Unmarshal([]byte(out), &bySymbol); err != nil || len(bySymbol) != 1 || bySymbol[0].ID != id {
		t.Errorf("expected only the AAPL alert, got %s", out)
	}

	if out, err := execute(t, "--config", cfg, "alerts", "get", id, "--owner", "someone-else"); err == nil {
		t.Errorf("get by another owner should fail, got %s", out)
	}

	if out, err := execute(t, "--config", cfg, "seed"); err != nil || !strings.Contains(out, "Seeded 2 of 2") {
		t.Fatalf("seed: %v\n%s", err, out)
	}

	// AAPL is seeded far above the 1.00 target, so the first cycle fires it.
	out, err = execute(t, "--config", cfg, "once")
	if err != nil {
		t.Fatalf("once: %v\n%s", err, out)
	}
	if !strings.Contains(out, "triggered "+id) {
		t.Errorf("expected the alert to trigger:\n%s", out)
	}

	out, err = execute(t, "--config", cfg, "--json", "alerts", "update", id, "--triggered=false", "--price", "100000")
	if err != nil {
		t.Fatalf("alerts update: %v\n%s", err, out)
	}
	var updated []models.Alert
	if err := json.Unmarshal([]byte(out), &updated); err != nil || updated[0].Triggered {
		t.Errorf("alert should be re-armed: %s", out)
	}

	if out, err := execute(t, "--config", cfg, "alerts", "delete", id); err != nil {
		t.Fatalf("alerts delete: %v\n%s", err, out)
	}
	out, err = execute(t, "--config", cfg, "--json", "alerts", "list")
	if err != nil {
		t.Fatalf("alerts list: %v", err)
	}
	if strings.Contains(out, id) {
		t.Errorf("deleted alert still listed:\n%s", out)
	}
}

func TestPricesCommand(t *testing.T) {
	cfg := testConfig(t)
	if _, err := execute(t, "--config", cfg, "seed"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	out, err := execute(t, "--config", cfg, "prices")
	if err != nil {
		t.Fatalf("prices: %v", err)
	}
	for _, want := range []string{"SYMBOL", "AAPL", "150.00", "MSFT", "320.00"} {
		if !strings.Contains(out, want) {
			t.Errorf("prices output missing %q:\n%s", want, out)
		}
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  driver: postgres\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "--config", path, "prices"); err == nil || !strings.Contains(err.Error(), "storage.driver") {
		t.Errorf("expected a storage.driver validation error, got %v", err)
	}
}

func TestBuildSource_SimulatedIsSeededAndRefreshed(t *testing.T) {
	a := &app{configPath: testConfig(t)}
	if err := a.loadConfig(); err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	ctx := context.Background()
	s, err := a.openStore(ctx)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer closeStore(s)

	src, err := a.buildSource(s)
	if err != nil {
		t.Fatalf("buildSource: %v", err)
	}
	sim, ok := src.(*pricesource.Simulated)
	if !ok {
		t.Fatalf("simulated kind should build a *pricesource.Simulated, got %T", src)
	}
	if n, err := sim.Seed(ctx); err != nil || n != 2 {
		t.Fatalf("Seed = %d, %v; want 2", n, err)
	}
	if err := src.RefreshAll(ctx); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	prices, err := s.ListPrices(ctx)
	if err != nil || len(prices) != 2 {
		t.Errorf("expected 2 stored prices, got %d (%v)", len(prices), err)
	}
}
