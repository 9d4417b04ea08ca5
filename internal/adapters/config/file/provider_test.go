package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/hubflow/internal/pkg/config"
)

func TestNewProvider_EmptyPath(t *testing.T) {
	if _, err := NewProvider("", nil); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestProvider_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9191\nstorage:\n  type: memory\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := NewProvider(path, nil)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	defer p.Close()

	cfg, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("port = %d, want 9191", cfg.Server.Port)
	}
	if p.Current() != cfg {
		t.Error("Current() does not return the loaded config")
	}
}

func TestProvider_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  type: memory\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, _ := NewProvider(path, nil)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *config.Config, 16)
	if err := p.Watch(ctx, func(cfg *config.Config) { changes <- cfg }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	updated := "storage:\n  type: memory\nflows:\n  - name: orders\n    connection: store\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	// A truncating write can be observed half-way, so wait for the final
	// content.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if len(cfg.Flows) == 1 && cfg.Flows[0].Name == "orders" {
				return
			}
		case <-deadline:
			t.Fatal("no reload with the new flows after write")
		}
	}
}
