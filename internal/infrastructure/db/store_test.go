package db

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/devlink/identity/internal/infrastructure/config"
	"github.com/devlink/identity/internal/infrastructure/db/memory"
)

func TestOpen_Memory(t *testing.T) {
	store, err := Open(context.Background(), config.StoreConfig{Driver: config.DriverMemory}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.StoreConfig{Driver: "sqlite"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error")
	}
}
