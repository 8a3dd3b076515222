package app

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/alanyoungcy/truthledger/internal/config"
)

const (
	testKey  = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAddr = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveAuthority(t *testing.T) {
	tests := []struct {
		name       string
		authority  string
		key        string
		want       string
		wantSigner bool
		wantErr    string
	}{
		{name: "address only", authority: "0xabc", want: "0xabc"},
		{name: "key only", key: testKey, want: testAddr, wantSigner: true},
		{name: "key matches lowercase address", authority: strings.ToLower(testAddr), key: testKey, want: testAddr, wantSigner: true},
		{name: "key mismatch", authority: "0x0000000000000000000000000000000000000001", key: testKey, wantErr: "does not match"},
		{name: "neither", wantErr: "no ledger.authority"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.Ledger.Authority = tt.authority
			cfg.Authority.PrivateKey = tt.key

			got, signer, err := resolveAuthority(&cfg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveAuthority: %v", err)
			}
			if got != tt.want {
				t.Errorf("authority = %q, want %q", got, tt.want)
			}
			if (signer != nil) != tt.wantSigner {
				t.Errorf("signer present = %v, want %v", signer != nil, tt.wantSigner)
			}
		})
	}
}

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Store.Backend = "memory"
	cfg.Redis.Enabled = false
	cfg.Authority.PrivateKey = testKey
	return &cfg
}

func TestWire_MemoryBackend(t *testing.T) {
	ctx := context.Background()
	deps, cleanup, err := Wire(ctx, memoryConfig(), discardLogger())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if deps.Authority != testAddr {
		t.Errorf("Authority = %q, want %q", deps.Authority, testAddr)
	}
	if deps.Signer == nil {
		t.Error("Signer is nil")
	}
	if deps.Ledger == nil || deps.Accounts == nil || deps.Audit == nil {
		t.Fatal("ledger stores not wired")
	}
	if deps.EventLog != nil || deps.BlobWriter != nil || deps.Notifier != nil {
		t.Error("disabled sinks were wired")
	}
	if deps.Metrics == nil {
		t.Error("metrics enabled by default but not wired")
	}
	if len(deps.HealthChecks) != 0 {
		t.Errorf("HealthChecks = %d, want 0 for the memory backend", len(deps.HealthChecks))
	}

	// The no-op caches and the in-process bus must be usable.
	if _, err := deps.MappingCache.GetMapping(ctx, "post-1"); err == nil {
		t.Error("no-op mapping cache returned a hit")
	}
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := deps.SignalBus.Subscribe(subCtx, "ledger:*")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := deps.SignalBus.Publish(ctx, "ledger:market_created", []byte(`{}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := <-ch; string(got) != `{}` {
		t.Errorf("bus delivered %q", got)
	}
}

func TestArchiveMode_RequiresS3(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	a := New(cfg, discardLogger())
	deps, cleanup, err := Wire(ctx, cfg, a.logger)
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if err := a.ArchiveMode(ctx, deps); err == nil || !strings.Contains(err.Error(), "requires s3") {
		t.Errorf("ArchiveMode err = %v, want s3 requirement", err)
	}
}

func TestRun_UnknownMode(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mode = "trade"
	a := New(cfg, discardLogger())
	defer a.Close()

	err := a.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "unsupported mode") {
		t.Errorf("Run err = %v, want unsupported mode", err)
	}
}
