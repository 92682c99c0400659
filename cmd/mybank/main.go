package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mybank-labs/mybank/cmd/mybank/cli"
	"github.com/mybank-labs/mybank/internal/accounts"
	"github.com/mybank-labs/mybank/internal/app"
	"github.com/mybank-labs/mybank/internal/ledger"
	"github.com/mybank-labs/mybank/internal/users"
	"github.com/mybank-labs/mybank/jobs"
)

const usage = `usage: mybank <command> [flags]

commands:
  serve      run the HTTP API (default)
  migrate    apply the embedded schema and exit
  seed       load demo users, accounts and transactions
  generate   record random transactions on one account
  jobs       trigger a background job or show queue stats
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	command, args := "serve", os.Args[1:]
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	var code int
	switch command {
	case "serve":
		code = serve(ctx, cfg, logger)
	case "migrate":
		code = withRuntime(ctx, cfg, logger, func(rt *deps) int {
			logger.Info("schema up to date")
			return 0
		})
	case "seed":
		code = seed(ctx, cfg, logger, args)
	case "generate":
		code = generate(ctx, cfg, logger, args)
	case "jobs":
		code = jobsCommand(ctx, cfg, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		code = 2
	}
	if code != 0 {
		stop()
		os.Exit(code)
	}
}

func withRuntime(ctx context.Context, cfg *app.Config, logger *slog.Logger, fn func(rt *deps) int) int {
	rt, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap", slog.Any("error", err))
		return 1
	}
	defer rt.Close()
	return fn(rt)
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	return withRuntime(ctx, cfg, logger, func(rt *deps) int {
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		jobClient := jobs.NewClient(redisOpts)
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("asynq client close", slog.Any("error", err))
			}
		}()
		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("asynq inspector close", slog.Any("error", err))
			}
		}()

		router := app.NewRouter(app.RouterParams{
			Logger:          logger,
			Config:          cfg,
			UsersHandler:    users.NewHandler(logger, rt.users),
			AccountsHandler: accounts.NewHandler(logger, rt.accounts),
			LedgerHandler:   ledger.NewHandler(logger, rt.ledger, rt.idempotency),
			JobHandler:      jobs.NewHandler(inspector, jobClient, logger),
			Metrics:         rt.metrics,
			Database:        rt.pool,
		})

		server := &http.Server{
			Addr:         cfg.AppAddr,
			Handler:      router,
			ReadTimeout:  cfg.AppReadTimeout,
			WriteTimeout: cfg.AppWriteTimeout,
		}

		serverErr := make(chan error, 1)
		go func() {
			logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
			close(serverErr)
		}()

		code := 0
		select {
		case <-ctx.Done():
		case err, ok := <-serverErr:
			if ok {
				logger.Error("http server", slog.Any("error", err))
				code = 1
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown", slog.Any("error", err))
		}
		return code
	})
}

func seed(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	usersN := fs.Int("users", 5, "number of demo users")
	perUser := fs.Int("accounts", 2, "accounts per user")
	perAccount := fs.Int("transactions", 25, "random transactions per account")
	seedValue := fs.Uint64("seed", 1, "random seed")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	return withRuntime(ctx, cfg, logger, func(rt *deps) int {
		return cli.SeedCommand(ctx, rt.users, rt.accounts, rt.ledger, cli.SeedOptions{
			Users:                  *usersN,
			AccountsPerUser:        *perUser,
			TransactionsPerAccount: *perAccount,
			Seed:                   *seedValue,
		})
	})
}

func generate(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	account := fs.Int64("account", 0, "account id")
	count := fs.Int("count", 100, "number of transactions")
	seedValue := fs.Uint64("seed", 0, "random seed (0 picks one)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	return withRuntime(ctx, cfg, logger, func(rt *deps) int {
		return cli.GenerateCommand(ctx, rt.ledger, cli.GenerateOptions{
			AccountID: *account,
			Count:     *count,
			Seed:      *seedValue,
		})
	})
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: mybank jobs trigger <task> [--account N] [--repair] | mybank jobs stats")
		return 2
	}
	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer jobsCLI.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "jobs trigger: task name required")
			return 2
		}
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		account := fs.Int64("account", 0, "account id (0 reconciles every account)")
		repair := fs.Bool("repair", false, "overwrite drifted totals")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		return jobsCLI.TriggerCommand(ctx, cli.TriggerOptions{Name: args[1], AccountID: *account, Repair: *repair}, os.Stdout, os.Stderr)
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		scheduled, err := jobsCLI.ListScheduled(ctx, 10)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		for _, info := range scheduled {
			fmt.Printf("  %s %s at %s\n", info.ID, info.Type, info.NextProcessAt.Format(time.RFC3339))
		}
		return 0
	default:
		fmt.Fprintf(os.Stderr, "jobs: unknown subcommand %q\n", args[0])
		return 2
	}
}
