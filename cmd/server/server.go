package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	. "obreserve/internal/common"
	"obreserve/internal/config"
	"obreserve/internal/engine"
	"obreserve/internal/events"
	"obreserve/internal/metrics"
	"obreserve/internal/net"
	"obreserve/internal/store"
	"obreserve/internal/vault"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "obreserve-server",
		Short:        "Collateralized order book reserve",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.*)")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the reserve server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := setupLogging(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			return run(ctx, cfg)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if _, err := cfg.Engine(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			return cfg.Write(cmd.OutOrStdout())
		},
	})

	return root
}

func setupLogging(cfg config.Config) error {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogFormat == config.LogFormatConsole {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return nil
}

func run(ctx context.Context, cfg config.Config) error {
	engineCfg, err := cfg.Engine()
	if err != nil {
		return fmt.Errorf("reserve config: %w", err)
	}
	feeRate, err := cfg.FeeRate()
	if err != nil {
		return err
	}

	// Open the store and bring back the last saved state, if any.
	var st *store.Store
	if cfg.Store.InMemory {
		st, err = store.OpenInMemory()
	} else {
		st, err = store.Open(cfg.Store.Dir)
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close store")
		}
	}()

	saved, found, err := st.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	opts := []engine.Option{
		engine.WithLogger(log.Logger.With().Str("component", "engine").Logger()),
		engine.WithFeeRate(feeRate),
	}
	v := vault.NewMemory()
	var reserve *engine.Reserve
	if found {
		v = vault.Restore(saved.Vault)
		reserve, err = engine.Restore(engineCfg, saved.Reserve, v.Account(engineCfg.Reserve), opts...)
		log.Info().
			Int("buy_orders", len(saved.Reserve.Lists[EthToToken].Orders)).
			Int("sell_orders", len(saved.Reserve.Lists[TokenToEth].Orders)).
			Msg("state restored")
	} else {
		reserve, err = engine.New(engineCfg, v.Account(engineCfg.Reserve), opts...)
	}
	if err != nil {
		return err
	}

	srv := net.New(cfg.Server.Address, cfg.Server.Port, reserve, v,
		net.WithWorkers(cfg.Server.Workers),
		net.WithStore(st, cfg.Server.SnapshotInterval),
		net.WithFaucet(cfg.Vault.Faucet),
	)
	reporters := engine.Reporters{srv}

	// Metrics.
	if cfg.Metrics.Address != "" {
		m := metrics.New()
		for _, d := range Directions {
			ids, _ := reserve.GetOrderList(d)
			m.SetOpenOrders(d, len(ids))
		}
		reporters = append(reporters, m)

		httpSrv := &http.Server{Addr: cfg.Metrics.Address, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info().Str("address", cfg.Metrics.Address).Msg("serving metrics")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer httpSrv.Close()
	}

	// Events.
	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := events.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		reporters = append(reporters, pub)
		defer func() {
			if err := pub.Close(); err != nil {
				log.Error().Err(err).Msg("unable to close publisher")
			}
		}()
	}

	reserve.SetReporter(reporters)

	// Block on running the server.
	return srv.Run(ctx)
}
