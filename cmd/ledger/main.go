// Package main starts a local ledger that speaks the subset of the Solana
// JSON-RPC API the GifHub client uses and runs the GIF program natively.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atinyakov/GifHub/internal/config"
	"github.com/atinyakov/GifHub/internal/db"
	"github.com/atinyakov/GifHub/internal/logger"
	"github.com/atinyakov/GifHub/internal/repository"
	"github.com/atinyakov/GifHub/internal/server/handler/jsonrpc"
	"github.com/atinyakov/GifHub/internal/service"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gifhub-ledger",
		Short: "Run a local ledger for the GIF program",
		Long: `gifhub-ledger answers getAccountInfo, getLatestBlockhash, sendTransaction
and getSignatureStatuses for the GIF program. State lives in PostgreSQL
when --database-dsn is set and in memory otherwise.`,
		Version:      cmp.Or(version, "N/A"),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := config.LoadLedger(cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), opts)
		},
	}
	config.LedgerFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, opts *config.Ledger) error {
	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(opts.LogLevel); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	zapLogger := log.Log

	programID, err := solana.PublicKeyFromBase58(opts.ProgramID)
	if err != nil {
		return fmt.Errorf("program id: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var repo service.LedgerRepository
	if opts.DatabaseDSN != "" {
		// Initialize PostgreSQL connection.
		postgresDB, err := db.InitPostgres(opts.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("init database: %w", err)
		}
		defer postgresDB.Close()

		db.StartRetentionCleaner(ctx, db.SQLPruner{DB: postgresDB}, opts.CleanInterval, opts.Retention, zapLogger)
		repo = repository.NewPostgresLedgerRepository(postgresDB)
	} else {
		mem := repository.NewMemoryLedgerRepository()
		db.StartRetentionCleaner(ctx, mem, opts.CleanInterval, opts.Retention, zapLogger)
		repo = mem
		zapLogger.Warn("no database configured, ledger state is kept in memory")
	}

	ledger := service.NewLedgerService(repo, programID, zapLogger)
	router := jsonrpc.NewRouter(&jsonrpc.Handler{Ledger: ledger, Logger: zapLogger}, zapLogger)

	server := &nethttp.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	zapLogger.Info("starting ledger RPC server",
		zap.String("addr", opts.Addr),
		zap.String("program", programID.String()),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); !errors.Is(err, nethttp.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
