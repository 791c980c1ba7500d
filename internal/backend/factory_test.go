package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"finman/internal/config"
	"finman/internal/core"
	"finman/internal/ledger"
)

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := FromAppConfig(&config.Config{LedgerBackend: "sheets"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	cfg, err := FromAppConfig(&config.Config{LedgerBackend: "sqlite", SQLiteDBPath: "x.db", LedgerFile: "f.json"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Type != SQLiteBackend || cfg.SQLiteDBPath != "x.db" || cfg.LedgerFile != "f.json" {
		t.Fatalf("unexpected backend config: %+v", cfg)
	}
}

func TestCreateBackend(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name   string
		config Config
	}{
		{"json", Config{Type: JSONBackend, LedgerFile: filepath.Join(dir, "finances.json")}},
		{"sqlite", Config{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(dir, "finman.db")}},
		{"memory", Config{Type: MemoryBackend}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			result, err := NewFactory(nil).CreateBackend(ctx, tt.config)
			if err != nil {
				t.Fatalf("create backend: %v", err)
			}
			defer result.Cleanup()

			records := []core.Record{{Description: "x", Category: "y"}}
			if err := result.Store.SaveUser(ctx, "alice", records); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := result.Store.LoadUser(ctx, "alice")
			if err != nil || len(got) != 1 {
				t.Fatalf("load: %+v, %v", got, err)
			}
			if _, ok := result.Store.(ledger.UserLister); !ok {
				t.Fatal("every backend should list users")
			}
		})
	}
}

func TestCreateBackendErrors(t *testing.T) {
	f := NewFactory(nil)
	if _, err := f.CreateBackend(context.Background(), Config{Type: "sheets"}); err == nil {
		t.Fatal("expected error for invalid type")
	}
	if _, err := f.CreateBackend(context.Background(), Config{Type: JSONBackend}); err == nil {
		t.Fatal("expected error for missing ledger file")
	}

	seed := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(seed, []byte("{"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := f.CreateBackend(context.Background(), Config{Type: MemoryBackend, LedgerFile: seed})
	if !errors.Is(err, core.ErrCorruptStore) {
		t.Fatalf("expected corrupt seed error, got %v", err)
	}
}
