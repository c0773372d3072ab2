// Package main starts the GifHub client: it connects to a wallet, talks
// to the GIF program over JSON-RPC and serves the board to a browser.
package main

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/cockroachdb/errors"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atinyakov/GifHub/internal/client/session"
	"github.com/atinyakov/GifHub/internal/client/store"
	"github.com/atinyakov/GifHub/internal/client/view"
	"github.com/atinyakov/GifHub/internal/client/wallet"
	"github.com/atinyakov/GifHub/internal/config"
	"github.com/atinyakov/GifHub/internal/logger"
	"github.com/atinyakov/GifHub/internal/server/handler/http"
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
		Use:   "gifhub",
		Short: "Browse and extend an on-chain GIF board",
		Long: `gifhub serves a web page for an on-chain GIF board. Connect a wallet,
initialize the board once, then append GIF links to it.`,
		Version:      cmp.Or(version, "N/A"),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := config.LoadClient(cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), opts)
		},
	}
	config.ClientFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, opts *config.Client) error {
	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(opts.LogLevel); err != nil {
		return errors.Wrap(err, "init logger")
	}
	zapLogger := log.Log

	programID, err := solana.PublicKeyFromBase58(opts.ProgramID)
	if err != nil {
		return errors.Wrap(err, "program id")
	}
	account, err := wallet.LoadKeypair(opts.StoreKeypair)
	if err != nil {
		return errors.Wrap(err, "store keypair")
	}

	// The wallet asks for consent on the terminal unless told otherwise.
	var approver wallet.Approver = wallet.NewPromptApprover(os.Stdin, os.Stderr)
	if opts.AutoApprove {
		approver = wallet.AutoApprover{}
	}
	provider := wallet.NewKeyfileProvider(wallet.KeyfileConfig{
		KeypairPath: opts.WalletKeypair,
		TrustPath:   opts.TrustFile,
		Origin:      "http://" + opts.Addr,
		Approver:    approver,
	})

	sessionStore := session.New(session.Options{Strict: opts.StrictSession}, zapLogger)
	gateway := wallet.NewGateway(provider, sessionStore, zapLogger)
	storeClient := store.New(rpc.New(opts.RPCURL), gateway, sessionStore, store.Config{
		ProgramID:      programID,
		Account:        account,
		Commitment:     rpc.CommitmentType(opts.Commitment),
		ConfirmTimeout: opts.ConfirmTimeout,
	}, zapLogger)
	controller := view.NewController(sessionStore, gateway, storeClient, zapLogger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := controller.Start(ctx); err != nil {
		return err
	}
	defer controller.Stop()

	// Build the router with middleware and routes.
	router := http.NewRouter(
		&http.UIHandler{Controller: controller, Logger: zapLogger},
		&http.APIHandler{Controller: controller, Logger: zapLogger},
		&http.EventsHandler{Controller: controller, Logger: zapLogger},
		zapLogger,
	)
	server := &nethttp.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	zapLogger.Info("starting UI server",
		zap.String("addr", opts.Addr),
		zap.String("rpc", opts.RPCURL),
		zap.String("account", account.PublicKey().String()),
	)
	return serve(ctx, server, zapLogger)
}

// serve runs server until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, server *nethttp.Server, log *zap.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); !errors.Is(err, nethttp.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
