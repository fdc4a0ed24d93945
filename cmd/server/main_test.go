package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/wufi/storefront-checkout/internal/app"
	"github.com/wufi/storefront-checkout/internal/checkout"
	"github.com/wufi/storefront-checkout/internal/config"
)

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

func TestConfigPrintMasksKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.DefaultConfig()
	cfg.Backend.PublishableKey = "pk_live_secret"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save config: %v", err)
	}

	out, err := execute(t, "--config", path, "config", "print")
	if err != nil {
		t.Fatalf("config print: %v", err)
	}
	if strings.Contains(out, "pk_live_secret") {
		t.Fatalf("publishable key leaked:\n%s", out)
	}
	if !strings.Contains(out, "listen_addr") {
		t.Fatalf("expected YAML output, got:\n%s", out)
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	out, err := execute(t, "--config", path, "config", "init")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "wrote") {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	if _, err := execute(t, "--config", path, "config", "init"); err == nil {
		t.Fatal("expected error when the file already exists")
	}
}

func TestInvalidConfigIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("backend:\n  mode: carrier-pigeon\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := execute(t, "--config", path, "config", "print")
	if err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("expected invalid config error, got %v", err)
	}
}

func TestDemoFormIsValid(t *testing.T) {
	cfg := config.DefaultConfig()
	a, err := app.New(cfg, app.Options{Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	s, _, err := a.Sessions().Open(context.Background(), "cart_demo_test")
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if err := prefill(s); err != nil {
		t.Fatalf("prefill: %v", err)
	}

	for _, id := range []checkout.StepID{checkout.StepAddress, checkout.StepDelivery, checkout.StepPayment} {
		step, ok := s.Step(id)
		if !ok {
			t.Fatalf("session has no %s step", id)
		}
		if errs := step.FieldErrors(); len(errs) > 0 {
			t.Errorf("%s: unexpected field errors %v", id, errs)
		}
	}
}

func TestDemoSimulation(t *testing.T) {
	cfg := config.DefaultConfig()
	demoSimulation(cfg, 42)
	if cfg.Backend.SimulatedJitter != demoJitter || cfg.Backend.SimulatedFailureRate != demoFailureRate {
		t.Fatalf("demo simulation not applied: %+v", cfg.Backend)
	}
	if cfg.Backend.SimulatedSeed != 42 {
		t.Fatalf("seed = %d, want 42", cfg.Backend.SimulatedSeed)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("demo config invalid: %v", err)
	}

	own := config.DefaultConfig()
	own.Backend.SimulatedFailureRate = 0.5
	demoSimulation(own, 0)
	if own.Backend.SimulatedFailureRate != 0.5 || own.Backend.SimulatedSeed != 0 {
		t.Fatalf("configured simulation overridden: %+v", own.Backend)
	}

	remote := config.DefaultConfig()
	remote.Backend.Mode = config.BackendHTTP
	demoSimulation(remote, 42)
	if remote.Backend.SimulatedJitter != "" || remote.Backend.SimulatedFailureRate != 0 {
		t.Fatalf("http backend got a simulation: %+v", remote.Backend)
	}
}
