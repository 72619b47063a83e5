package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bono/internal/app"
	"github.com/Additional-Code/bono/internal/clock"
	"github.com/Additional-Code/bono/internal/config"
	"github.com/Additional-Code/bono/internal/migration"
	"github.com/Additional-Code/bono/internal/projection"
	"github.com/Additional-Code/bono/internal/seeder"
)

// NewRootCommand builds the root bono CLI command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "bono",
		Short: "Order batches, pickup numbers and the kitchen board",
	}

	root.AddCommand(newStartCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSeedCmd())
	root.AddCommand(newWorkerCmd())
	root.AddCommand(newBoardCmd())

	return root
}

// Execute runs the bono CLI until SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "start",
		Aliases: []string{"run"},
		Short:   "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilDone(cmd.Context(), fx.New(app.Module))
		},
	}
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, mig *migration.Migrator) error {
				if err := mig.Up(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Rollback migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			all, _ := cmd.Flags().GetBool("all")
			return withMigrator(cmd.Context(), func(ctx context.Context, mig *migration.Migrator) error {
				if err := mig.Down(ctx, steps, all); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
				return nil
			})
		},
	}
	downCmd.Flags().Int("steps", 1, "Number of migration steps to rollback")
	downCmd.Flags().Bool("all", false, "Rollback all applied migrations")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, mig *migration.Migrator) error {
				return mig.Status(ctx)
			})
		},
	}

	cmd.AddCommand(upCmd, downCmd, statusCmd)
	return cmd
}

func withMigrator(ctx context.Context, fn func(context.Context, *migration.Migrator) error) error {
	var mig *migration.Migrator
	opts := fx.Options(app.Core, migration.Module, fx.Populate(&mig))
	return runWithApp(ctx, opts, func(ctx context.Context) error {
		return fn(ctx, mig)
	})
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed demo users, the menu and the bono counter",
		RunE: func(cmd *cobra.Command, args []string) error {
			var seed *seeder.Seeder
			opts := fx.Options(app.Core, seeder.Module, fx.Populate(&seed))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if err := seed.All(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "seed data applied")
				return nil
			})
		},
	}
}

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage background workers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run worker engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilDone(cmd.Context(), fx.New(app.Worker))
		},
	})
	return cmd
}

func newBoardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Show the live kitchen board in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg config.Config
				log *zap.Logger
			)
			opts := fx.Options(app.Base, fx.Populate(&cfg, &log))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if server, _ := cmd.Flags().GetString("server"); server != "" {
					cfg.Board.ServerURL = server
				}
				if token, _ := cmd.Flags().GetString("token"); token != "" {
					cfg.Board.Token = token
				}
				return runBoard(ctx, cmd.OutOrStdout(), cfg.Board, log)
			})
		},
	}
	cmd.Flags().String("server", "", "Base URL of the bono API (overrides BOARD_SERVER_URL)")
	cmd.Flags().String("token", "", "Staff API token (overrides BOARD_TOKEN)")
	return cmd
}

func runBoard(ctx context.Context, out io.Writer, cfg config.Board, log *zap.Logger) error {
	client := projection.NewClient(cfg.ServerURL, cfg.Token, nil)
	board := projection.NewBoard(cfg.NewFlagTTL, clock.NewSystem())

	var mu sync.Mutex
	draw := func() {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprint(out, "\033[H\033[2J")
		fmt.Fprintf(out, "bono kitchen board  %s  (%d active)\n\n", time.Now().Format("15:04:05"), board.Len())
		if err := projection.Render(out, board.Snapshot()); err != nil {
			log.Warn("render board", zap.Error(err))
		}
	}

	// NEW flags expire by time, so redraw every second as well.
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				draw()
			}
		}
	}()

	return projection.Follow(ctx, client, board, cfg.RetryBackoff, log.Named("board"), draw)
}

func runUntilDone(ctx context.Context, application *fx.App) error {
	if err := application.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return application.Stop(stopCtx)
}

func runWithApp(ctx context.Context, opts fx.Option, fn func(context.Context) error) error {
	application := fx.New(opts, fx.NopLogger)
	if err := application.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = application.Stop(stopCtx)
	}()
	return fn(ctx)
}
