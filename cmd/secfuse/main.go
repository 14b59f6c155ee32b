// Command secfuse is the operator CLI: run migrations, manage users, and
// enqueue scanner exports by hand without going through the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/secfuse/secfuse/internal/auth"
	"github.com/secfuse/secfuse/internal/config"
	"github.com/secfuse/secfuse/internal/dedup"
	"github.com/secfuse/secfuse/internal/events"
	"github.com/secfuse/secfuse/internal/queue"
	"github.com/secfuse/secfuse/internal/store"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()

	var err error
	switch os.Args[1] {
	case "migrate":
		err = runMigrate(ctx, os.Args[2:])
	case "create-user":
		err = runCreateUser(ctx, os.Args[2:])
	case "enqueue":
		err = runEnqueue(ctx, os.Args[2:])
	case "version":
		fmt.Printf("secfuse v%s (built %s)\n", version, buildTime)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: secfuse <command> [flags]

Commands:
  migrate      Apply database migrations
  create-user  Create an API user
  enqueue      Enqueue a scanner export file for ingestion
  version      Show version information`)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}
	return config.Load(path)
}

func openStore(cfg *config.Config) (*store.Store, error) {
	return store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}, events.NewBus(nil), dedup.Policy{PreferRuntime: cfg.Dedup.RuntimeWins()})
}

func runMigrate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}
	fmt.Println("Migrations applied")
	return nil
}

func runCreateUser(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	email := fs.String("email", "", "User email (required)")
	name := fs.String("name", "", "Display name")
	password := fs.String("password", "", "Password (required)")
	role := fs.String("role", string(auth.RoleViewer), "Role: admin, user, or viewer")
	scopeAccounts := fs.String("scope-accounts", "", "Comma-separated account IDs the user may read (empty = all)")
	fs.Parse(args)

	if *email == "" || *password == "" {
		return fmt.Errorf("-email and -password are required")
	}
	switch auth.Role(*role) {
	case auth.RoleAdmin, auth.RoleUser, auth.RoleViewer:
	default:
		return fmt.Errorf("unknown role %q", *role)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	hash, err := auth.HashPassword(*password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	user := &auth.User{
		ID:       uuid.New().String(),
		Email:    *email,
		Name:     *name,
		Password: hash,
		Role:     auth.Role(*role),
	}
	if *scopeAccounts != "" {
		for _, acct := range strings.Split(*scopeAccounts, ",") {
			if acct = strings.TrimSpace(acct); acct != "" {
				user.ScopeAccounts = append(user.ScopeAccounts, acct)
			}
		}
	}

	if err := auth.NewPostgresUserStore(st.DB()).CreateUser(ctx, user); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	fmt.Printf("Created user %s (%s)\n", user.Email, user.ID)
	return nil
}

func runEnqueue(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	source := fs.String("source", "", "Scanner source name, e.g. trivy or asff (required)")
	file := fs.String("file", "", "Path to the raw scanner export (required)")
	fs.Parse(args)

	if *source == "" || *file == "" {
		return fmt.Errorf("-source and -file are required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	payload, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}

	q, err := queue.New(queue.Config{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer q.Close()

	id, err := q.Enqueue(ctx, *source, payload)
	if err != nil {
		return fmt.Errorf("enqueueing payload: %w", err)
	}
	fmt.Printf("Enqueued %s payload %s\n", *source, id)
	return nil
}
