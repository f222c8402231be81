// PocketSync is an offline-first sync daemon for personal finance data. It
// keeps a local SQLite cache in step with a per-user Firestore backend:
// mutations land locally first, queue for replay, and drain to the remote
// store whenever connectivity allows.
//
// Usage:
//
//	pocketsync daemon --user <id> [--config <path>]     # login + monitor + sync loop
//	pocketsync sync-once --user <id> [--config <path>]  # single sync pass then exit
//	pocketsync list --user <id> [--limit <n>]           # print recent transactions
//	pocketsync summary --user <id>                      # print financial summary
//	pocketsync status                                   # show config, DB and queue state
//	pocketsync reset-queue                              # re-arm failed queue entries
//	pocketsync purge --user <id>                        # delete all local data for a user
//	pocketsync version                                  # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mypocket/pocketsync/internal/config"
	"github.com/mypocket/pocketsync/internal/model"
	"github.com/mypocket/pocketsync/internal/netmon"
	"github.com/mypocket/pocketsync/internal/remote"
	"github.com/mypocket/pocketsync/internal/session"
	"github.com/mypocket/pocketsync/internal/store"
	syncp "github.com/mypocket/pocketsync/internal/sync"
	"github.com/mypocket/pocketsync/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "daemon":
		return runSync(os.Args[2:], true)
	case "sync-once":
		return runSync(os.Args[2:], false)
	case "list":
		return runList(os.Args[2:])
	case "summary":
		return runSummary(os.Args[2:])
	case "status":
		return runStatus(os.Args[2:])
	case "reset-queue":
		return runResetQueue(os.Args[2:])
	case "purge":
		return runPurge(os.Args[2:])
	case "version":
		fmt.Println("pocketsync", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q — run 'pocketsync' for usage", cmd)
	}
}

// printUsage shows help and exits non-zero.
func printUsage() error {
	fmt.Fprintln(os.Stderr, "PocketSync — offline-first personal finance sync")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  pocketsync daemon --user <id>      Run login + network monitor + sync loop")
	fmt.Fprintln(os.Stderr, "  pocketsync sync-once --user <id>   Single sync pass then exit")
	fmt.Fprintln(os.Stderr, "  pocketsync list --user <id>        Print recent transactions")
	fmt.Fprintln(os.Stderr, "  pocketsync summary --user <id>     Print financial summary")
	fmt.Fprintln(os.Stderr, "  pocketsync status                  Show config, DB and queue state")
	fmt.Fprintln(os.Stderr, "  pocketsync reset-queue             Re-arm failed queue entries")
	fmt.Fprintln(os.Stderr, "  pocketsync purge --user <id>       Delete all local data for a user")
	fmt.Fprintln(os.Stderr, "  pocketsync version                 Print version")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "All commands accept --config <path> and --verbose.")
	os.Exit(1)
	return nil // unreachable
}

// commonFlags registers the flags shared by every subcommand.
func commonFlags(fs *flag.FlagSet) (cfgPath *string, verbose *bool) {
	defaultCfg, _ := config.DefaultPath()
	cfgPath = fs.String("config", defaultCfg, "path to config.yaml")
	verbose = fs.Bool("verbose", false, "enable debug logging")
	return cfgPath, verbose
}

// newLogger installs a slog text logger at the requested level.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// app bundles the wired components every online subcommand needs.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	store   *store.Store
	remote  *remote.Adapter
	engine  *syncp.Engine
	session *session.Manager

	shutdownTel telemetry.ShutdownFunc
}

// buildApp loads the config and wires store, remote adapter, engine, and
// session manager. Callers must defer app.close.
func buildApp(ctx context.Context, cfgPath string, logger *slog.Logger) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	logger.Info("config loaded",
		"project", cfg.FirebaseProjectID,
		"probe_interval", cfg.ProbeInterval,
	)

	a := &app{cfg: cfg, log: logger, shutdownTel: func(context.Context) error { return nil }}

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(ctx, telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			a.shutdownTel = shutdownTel
		}
	}

	dbPath, err := resolveDBPath(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening local store at %q: %w", dbPath, err)
	}
	a.store = st
	logger.Info("local store opened", "path", dbPath)

	rem, err := remote.NewAdapter(ctx, cfg.FirebaseProjectID, cfg.CredentialsFile, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("initialising Firestore adapter: %w", err)
	}
	a.remote = rem

	a.engine = syncp.NewEngine(st, rem, model.LookupCategory, logger,
		syncp.WithReconnectDelay(cfg.ReconnectDelay),
	)
	a.session = session.NewManager(a.engine, logger)
	return a, nil
}

// close tears the app down in reverse of construction.
func (a *app) close() {
	if err := a.remote.Close(); err != nil {
		a.log.Error("closing Firestore adapter", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.log.Error("closing local store", "error", err)
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdownTel(flushCtx); err != nil {
		a.log.Error("telemetry shutdown error", "error", err)
	}
}

// resolveDBPath prefers the configured path over the platform default.
func resolveDBPath(cfg *config.Config) (string, error) {
	if cfg.DBPath != "" {
		return cfg.DBPath, nil
	}
	path, err := store.DefaultDBPath()
	if err != nil {
		return "", fmt.Errorf("resolving local store path: %w", err)
	}
	return path, nil
}

// --- Subcommands -------------------------------------------------------------

// runSync handles both "daemon" and "sync-once".
func runSync(args []string, daemon bool) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	userID := fs.String("user", "", "user ID to sync")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("--user is required")
	}
	logger := newLogger(*verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := buildApp(ctx, *cfgPath, logger)
	if err != nil {
		return err
	}
	defer a.close()

	// Establish initial connectivity before login so a fresh user gets the
	// synchronous initial download.
	logger.Info("probing Firestore…", "project", a.cfg.FirebaseProjectID)
	online := a.remote.Ping(ctx) == nil
	a.engine.HandleConnectivityChange(online)
	if !online {
		logger.Warn("Firestore unreachable, starting offline")
	}

	if err := a.session.Login(ctx, *userID); err != nil {
		return fmt.Errorf("logging in %q: %w", *userID, err)
	}

	if !daemon {
		if !online {
			return fmt.Errorf("cannot sync-once while offline")
		}
		if err := a.engine.PerformIncrementalSync(ctx, *userID); err != nil {
			return fmt.Errorf("sync pass: %w", err)
		}
		status, err := a.engine.GetSyncStatus(ctx)
		if err != nil {
			return err
		}
		logger.Info("sync complete", "pending_items", status.PendingItemsCount)
		return nil
	}

	return runDaemonLoop(ctx, a, *userID)
}

// runDaemonLoop runs the network monitor alongside a periodic incremental
// sync until the context is cancelled.
func runDaemonLoop(ctx context.Context, a *app, userID string) error {
	a.log.Info("daemon starting", "user", userID, "probe_interval", a.cfg.ProbeInterval)

	monitor := netmon.New(a.remote.Ping, a.cfg.ProbeInterval, a.engine.HandleConnectivityChange, a.log)
	monErr := make(chan error, 1)
	go func() { monErr <- monitor.Run(ctx) }()

	ticker := time.NewTicker(a.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-monErr
			a.session.Logout()
			a.log.Info("shutdown complete")
			return nil
		case err := <-monErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("network monitor: %w", err)
			}
			return nil
		case <-ticker.C:
			if err := a.engine.PerformIncrementalSync(ctx, userID); err != nil {
				a.log.Error("periodic sync failed", "error", err)
			}
		}
	}
}

// runList prints the most recent transactions for a user.
func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	userID := fs.String("user", "", "user ID to list")
	limit := fs.Int("limit", 20, "maximum number of transactions to print")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("--user is required")
	}
	logger := newLogger(*verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := buildApp(ctx, *cfgPath, logger)
	if err != nil {
		return err
	}
	defer a.close()

	records, err := a.engine.GetTransactions(ctx, *userID, *limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no transactions")
		return nil
	}
	for _, tx := range records {
		sign := "+"
		if tx.Kind == model.KindExpense {
			sign = "-"
		}
		fmt.Printf("%s  %s%8.2f  %-14s  %s [%s]\n",
			tx.Date.Format("2006-01-02"), sign, tx.Amount, tx.CategoryName, tx.Description, tx.SyncStatus)
	}
	return nil
}

// runSummary prints the financial summary for a user.
func runSummary(args []string) error {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	userID := fs.String("user", "", "user ID to summarise")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("--user is required")
	}
	logger := newLogger(*verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := buildApp(ctx, *cfgPath, logger)
	if err != nil {
		return err
	}
	defer a.close()

	sum, err := a.engine.GetFinancialSummary(ctx, *userID)
	if err != nil {
		return err
	}

	fmt.Printf("Balance:          %10.2f\n", sum.Balance)
	fmt.Printf("Total income:     %10.2f\n", sum.TotalIncome)
	fmt.Printf("Total expenses:   %10.2f\n", sum.TotalExpenses)
	fmt.Printf("This month in:    %10.2f\n", sum.ThisMonthIncome)
	fmt.Printf("This month out:   %10.2f\n", sum.ThisMonthExpenses)
	fmt.Printf("Transactions:     %10d\n", sum.TransactionCount)
	return nil
}

// runStatus prints the current configuration and queue state. Works fully
// offline: it never touches Firestore.
func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	newLogger(*verbose)

	fmt.Println("PocketSync Status")
	fmt.Println("─────────────────")

	var cfg *config.Config
	if _, err := os.Stat(*cfgPath); err == nil {
		loaded, loadErr := config.Load(*cfgPath)
		if loadErr == nil {
			cfg = loaded
			fmt.Printf("  Config:    %s ✓\n", *cfgPath)
			fmt.Printf("  Project:   %s\n", cfg.FirebaseProjectID)
			fmt.Printf("  Probe:     %s\n", cfg.ProbeInterval)
		} else {
			fmt.Printf("  Config:    %s (invalid: %v)\n", *cfgPath, loadErr)
		}
	} else {
		fmt.Printf("  Config:    not found (%s)\n", *cfgPath)
	}

	dbPath, err := resolveDBPathForStatus(cfg)
	if err != nil {
		return err
	}
	info, err := os.Stat(dbPath)
	if err != nil {
		fmt.Println("  Local DB:  not found")
		return nil
	}
	fmt.Printf("  Local DB:  %s (%s)\n", dbPath, humanSize(info.Size()))

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	counts, err := st.GetSyncQueueStatus(ctx)
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		fmt.Println("  Queue:     empty")
		return nil
	}
	fmt.Println("  Queue:")
	for _, c := range counts {
		fmt.Printf("    %-10s %-8s %d\n", c.Status, c.Operation, c.Count)
	}
	return nil
}

// resolveDBPathForStatus tolerates a missing config.
func resolveDBPathForStatus(cfg *config.Config) (string, error) {
	if cfg != nil && cfg.DBPath != "" {
		return cfg.DBPath, nil
	}
	path, err := store.DefaultDBPath()
	if err != nil {
		return "", fmt.Errorf("resolving local store path: %w", err)
	}
	return path, nil
}

// runResetQueue re-arms queue entries that exhausted their retries.
func runResetQueue(args []string) error {
	fs := flag.NewFlagSet("reset-queue", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger := newLogger(*verbose)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}
	dbPath, err := resolveDBPath(cfg)
	if err != nil {
		return err
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}
	defer st.Close()

	n, err := st.ResetFailedSyncItems(context.Background())
	if err != nil {
		return err
	}
	logger.Info("failed queue entries re-armed", "count", n)
	fmt.Printf("✓ %d failed entries reset to pending\n", n)
	return nil
}

// runPurge deletes all local data for a user: transactions, queue entries,
// and the sync watermark. The remote store is untouched.
func runPurge(args []string) error {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	userID := fs.String("user", "", "user ID to purge")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("--user is required")
	}
	logger := newLogger(*verbose)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}
	dbPath, err := resolveDBPath(cfg)
	if err != nil {
		return err
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}
	defer st.Close()

	if err := st.ClearUserData(context.Background(), *userID); err != nil {
		return err
	}
	logger.Info("local data purged", "user", *userID)
	fmt.Printf("✓ local data removed for %s (remote untouched)\n", *userID)
	return nil
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
