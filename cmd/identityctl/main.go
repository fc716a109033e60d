// Command identityctl runs one-off administrative tasks against the identity
// store: applying the role catalog, bootstrapping an administrator and
// hashing passwords.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/devlink/identity/internal/core/ports"
	"github.com/devlink/identity/internal/infrastructure/config"
	"github.com/devlink/identity/internal/infrastructure/db"
	"github.com/devlink/identity/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		openStore: openConfiguredStore,
		now:       time.Now,
	}
	if err := c.run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "identityctl:", err)
		os.Exit(1)
	}
}

func openConfiguredStore(ctx context.Context, stderr io.Writer) (ports.Store, error) {
	sc, err := config.LoadStore(ctx, envconfig.OsLookuper())
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{Level: "info", Output: stderr, Service: "identityctl"})
	return db.Open(ctx, *sc, log)
}
