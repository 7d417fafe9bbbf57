package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/DomeLiquid/lending/config"
	"github.com/DomeLiquid/lending/core"
	"github.com/DomeLiquid/lending/store"
	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type app struct {
	cfgPath     string
	metricsAddr string

	cfg      *config.Config
	log      zerolog.Logger
	clk      clock.Clock
	store    *store.Store
	registry *prometheus.Registry
	metrics  *core.Metrics
}

func rootCommand() *cobra.Command {
	a := &app{clk: clock.New()}
	root := &cobra.Command{
		Use:           "lendingctl",
		Short:         "Operate the collateralized lending engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgPath, "config", "c", "lending.toml", "path to a .toml or .yaml config")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while the command runs")

	root.AddCommand(
		initCommand(a),
		configureCommand(a),
		accrueCommand(a),
		healthCommand(a),
		planCommand(a),
		historyCommand(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return a.fail(cmd, err)
	}
	a.cfg = cfg
	a.log = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.RFC3339}).
		Level(cfg.LogLevel()).
		With().Timestamp().Logger()

	a.registry = prometheus.NewRegistry()
	a.metrics = core.NewMetrics(a.registry)
	if a.metricsAddr != "" {
		go a.serveMetrics(cmd.Context())
	}

	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		return a.fail(cmd, err)
	}
	a.store = st
	return nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// fail logs err once so cobra's own error printing can stay silenced.
func (a *app) fail(cmd *cobra.Command, err error) error {
	if a.cfg == nil {
		_, _ = io.WriteString(cmd.ErrOrStderr(), "lendingctl: "+err.Error()+"\n")
		return err
	}
	a.log.Error().Msgf("%s: %v", cmd.Name(), err)
	return err
}

func (a *app) serveMetrics(ctx context.Context) {
	server := &http.Server{
		Addr:              a.metricsAddr,
		Handler:           promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	a.log.Info().Msgf("serving metrics on %s", a.metricsAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.log.Error().Msgf("metrics server: %v", err)
	}
}

// engine restores an engine from the database. Prices come from the config.
func (a *app) engine(ctx context.Context) (*core.Engine, error) {
	state, err := a.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(state.Assets) == 0 {
		return nil, errors.New("database has no assets, run init first")
	}
	feed, err := a.cfg.PriceFeed(a.clk)
	if err != nil {
		return nil, err
	}
	assets, err := core.NewAssetRegistry()
	if err != nil {
		return nil, err
	}
	pools, err := core.NewPoolRegistry()
	if err != nil {
		return nil, err
	}

	e, err := core.NewEngine(a.cfg.EngineConfig(), assets, pools, feed,
		core.WithClock(a.clk),
		core.WithLogger(&a.log),
		core.WithStore(a.store),
		core.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, err
	}
	if err := e.Restore(state); err != nil {
		return nil, err
	}
	return e, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
