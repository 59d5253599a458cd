// Command server runs the paper-trading ledger behind its HTTP front end.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/rxtech-lab/paper-trading/internal/config"
	"github.com/rxtech-lab/paper-trading/internal/engine"
	"github.com/rxtech-lab/paper-trading/internal/logger"
	"github.com/rxtech-lab/paper-trading/internal/quote"
	"github.com/rxtech-lab/paper-trading/internal/server"
	"github.com/rxtech-lab/paper-trading/internal/store"
)

func main() {
	cmd := &cli.Command{
		Name:  "paper-trading",
		Usage: "simulated crypto trading ledger priced against live market data",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to YAML config file",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.DefaultConfig()

	if path := cmd.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}

		cfg = loaded
	}

	appLogger, err := logger.NewLogger()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	accountStore, err := store.NewDuckDBStore(cfg.DatabasePath, appLogger)
	if err != nil {
		return err
	}
	defer accountStore.Close()

	tickerClient := quote.NewBinanceTickerClient(cfg.BinanceBaseURL)
	resolver := quote.NewResolver(tickerClient, cfg.QuoteTimeout(), appLogger)
	tradingEngine := engine.NewEngine(accountStore, resolver, appLogger)

	srv := server.NewServer(tradingEngine, accountStore, appLogger)
	if err := srv.Start(cfg.ListenAddr); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	appLogger.Info("shutting down", zap.String("addr", srv.Addr()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
