package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/devlink/identity/internal/core/ports"
	"github.com/devlink/identity/internal/core/service"
	"github.com/devlink/identity/internal/infrastructure/seed"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

const usage = `usage: identityctl <command> [flags]

commands:
  seed            apply the built-in role catalog
  create-admin    create or promote an administrator
  hash-password   print a bcrypt hash of a password
`

type cli struct {
	stdin     io.Reader
	stdout    io.Writer
	stderr    io.Writer
	openStore func(ctx context.Context, stderr io.Writer) (ports.Store, error)
	now       func() time.Time
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(c.stderr, usage)
		return errors.New("missing command")
	}
	switch args[0] {
	case "seed":
		return c.seed(ctx, args[1:])
	case "create-admin":
		return c.createAdmin(ctx, args[1:])
	case "hash-password":
		return c.hashPassword(args[1:])
	case "help", "-h", "--help":
		fmt.Fprint(c.stdout, usage)
		return nil
	}
	fmt.Fprint(c.stderr, usage)
	return fmt.Errorf("unknown command %q", args[0])
}

func (c *cli) seed(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	file := fs.String("file", "", "role catalog YAML (defaults to the built-in catalog)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	catalog, err := loadCatalog(*file)
	if err != nil {
		return err
	}
	store, err := c.openStore(ctx, c.stderr)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	names, err := catalog.Apply(ctx, store.Roles())
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "applied roles: %s\n", strings.Join(names, ", "))
	return nil
}

func loadCatalog(path string) (*seed.Catalog, error) {
	if path == "" {
		return seed.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return seed.Parse(data)
}

func (c *cli) createAdmin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	email := fs.String("email", "", "administrator email")
	name := fs.String("name", "Administrator", "display name")
	cost := fs.Int("cost", 12, "bcrypt cost")
	fromStdin := fs.Bool("password-stdin", false, "read the password from stdin instead of prompting")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("-email is required")
	}

	password, err := c.password(*fromStdin, true)
	if err != nil {
		return err
	}
	store, err := c.openStore(ctx, c.stderr)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	user, created, err := seed.CreateAdmin(ctx, store, service.NewPasswordHasher(*cost), seed.AdminInput{
		Email:    *email,
		Password: password,
		Name:     *name,
	}, c.now().UTC())
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(c.stdout, "created admin %s (%s)\n", user.Email, user.ID)
	} else {
		fmt.Fprintf(c.stdout, "promoted %s (%s) to admin\n", user.Email, user.ID)
	}
	return nil
}

func (c *cli) hashPassword(args []string) error {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	cost := fs.Int("cost", 12, "bcrypt cost")
	fromStdin := fs.Bool("password-stdin", false, "read the password from stdin instead of prompting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	password, err := c.password(*fromStdin, false)
	if err != nil {
		return err
	}
	if err := service.ValidatePassword(password); err != nil {
		return err
	}
	hash, err := service.NewPasswordHasher(*cost).HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, hash)
	return nil
}

// password reads a password either as the first line of stdin or from the
// terminal without echo. confirm asks for it twice.
func (c *cli) password(fromStdin, confirm bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(c.stdin).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	first, err := c.prompt("Password: ")
	if err != nil {
		return "", err
	}
	if confirm {
		second, err := c.prompt("Confirm password: ")
		if err != nil {
			return "", err
		}
		if first != second {
			return "", errors.New("passwords do not match")
		}
	}
	return first, nil
}

func (c *cli) prompt(label string) (string, error) {
	fmt.Fprint(c.stderr, label)
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(c.stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}
