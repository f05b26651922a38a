package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "credit.toml")
	body := fmt.Sprintf(`
[store]
driver = "sqlite"
dsn = %q

[ledger]
currency = "usd"
default_initial_credits = "100.00"
default_markup_percentage = "15"
low_balance_threshold = "20.00"

[auth]
jwt_secret = "test-secret"

[logging]
level = "error"
`, filepath.Join(dir, "credit.db"))
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out
}

func TestCommands(t *testing.T) {
	cfg := writeConfig(t)

	if out := mustRun(t, "migrate", "--config", cfg); !strings.Contains(out, "up to date") {
		t.Errorf("migrate output = %q", out)
	}

	if _, err := run(t, "balance", "acme", "--config", cfg); err == nil {
		t.Error("balance of unknown client succeeded")
	}

	if out := mustRun(t, "provision", "acme", "Acme Ltd", "--config", cfg); !strings.Contains(out, "$100.00") {
		t.Errorf("provision output = %q", out)
	}

	if out := mustRun(t, "credit", "acme", "25.00", "-d", "top-up", "--config", cfg); !strings.Contains(out, "$125.00") {
		t.Errorf("credit output = %q", out)
	}

	if _, err := run(t, "debit", "acme", "500.00", "--config", cfg); err == nil || !strings.Contains(err.Error(), "insufficient funds") {
		t.Errorf("debit error = %v, want insufficient funds", err)
	}

	if out := mustRun(t, "debit", "acme", "110.00", "--config", cfg); !strings.Contains(out, "$15.00") {
		t.Errorf("debit output = %q", out)
	}

	if out := mustRun(t, "balance", "acme", "--config", cfg); !strings.Contains(out, "below threshold $20.00") {
		t.Errorf("balance output = %q", out)
	}

	out := mustRun(t, "history", "acme", "--json", "--config", cfg)
	var txs []struct {
		Type     string `json:"type"`
		Sequence int64  `json:"sequence"`
	}
	if err := json.Unmarshal([]byte(out), &txs); err != nil {
		t.Fatalf("history output %q: %v", out, err)
	}
	if len(txs) != 2 || txs[0].Type != "DEBIT" || txs[0].Sequence != 2 {
		t.Errorf("history = %+v", txs)
	}

	if out := mustRun(t, "history", "acme", "--type", "credit", "--config", cfg); !strings.Contains(out, "top-up") {
		t.Errorf("history table = %q", out)
	}

	if out := mustRun(t, "reconcile", "acme", "--config", cfg); !strings.Contains(out, "consistent: 2 transactions") {
		t.Errorf("reconcile output = %q", out)
	}

	if out := mustRun(t, "price", "acme", "40.00", "--config", cfg); !strings.Contains(out, "$46.00") {
		t.Errorf("price output = %q", out)
	}
}

func TestBadArguments(t *testing.T) {
	cfg := writeConfig(t)

	tests := []struct {
		name string
		args []string
	}{
		{"missing amount", []string{"credit", "acme", "--config", cfg}},
		{"bad amount", []string{"credit", "acme", "ten", "--config", cfg}},
		{"missing config", []string{"balance", "acme", "--config", filepath.Join(t.TempDir(), "nope.toml")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestServe(t *testing.T) {
	t.Setenv("CREDIT_ADDR", "127.0.0.1:0")
	a := &app{configPath: writeConfig(t)}
	if err := a.load(io.Discard); err != nil {
		t.Fatalf("load() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, ready) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve() returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
