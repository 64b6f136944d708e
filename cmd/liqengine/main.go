package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"liqengine/internal/asset"
	"liqengine/internal/config"
	"liqengine/internal/engine"
	"liqengine/internal/event"
	"liqengine/internal/executor"
	"liqengine/internal/ingestion"
	"liqengine/internal/ledger"
	"liqengine/internal/observability"
	"liqengine/internal/oracle"
	"liqengine/internal/persistence"
	"liqengine/internal/query"
	"liqengine/internal/server"
)

func main() {
	log := observability.NewLogger("liqengine")
	log.Info().Msg("liquidation engine starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Oracle feeds ---
	converter := oracle.NewConverter()
	for _, sym := range asset.Symbols() {
		id, _ := asset.Lookup(sym)
		converter.RegisterFeed(sym+"-usd", id, oracle.SlotPrimary)
		converter.RegisterFeed(sym+"-usd-reserve", id, oracle.SlotReserve)
	}

	// --- Bootstrap ledger ---
	debtAsset, ok := asset.Lookup(cfg.DebtAsset)
	if !ok {
		log.Fatal().Str("asset", cfg.DebtAsset).Msg("unknown debt asset")
	}
	registry := ledger.NewRegistry()
	registry.Register(ledger.NewBook(cfg.LedgerID, ledger.Params{
		DebtAsset:    debtAsset,
		FeeRate:      cfg.FeeRate,
		DiscountRate: cfg.DiscountRate,
		MinDebt:      cfg.MinDebt,
	}, converter))
	log.Info().
		Str("ledger", cfg.LedgerID).
		Str("debt_asset", cfg.DebtAsset).
		Int64("fee_rate", cfg.FeeRate).
		Int64("discount_rate", cfg.DiscountRate).
		Msg("ledger registered")

	// --- Postgres (optional) ---
	var (
		db           *sql.DB
		queryService *query.Service
		resultsChan  chan engine.Result
	)
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres open")
		}
		defer db.Close()

		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping")
		}

		if err := persistence.NewMigrator(db, cfg.MigrationsDir, log).Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("run migrations")
		}

		queryService = query.NewService(db)
		resultsChan = make(chan engine.Result, cfg.ResultBuffer)
		log.Info().Msg("postgres connected, migrations applied")
	} else {
		log.Warn().Msg("LIQ_POSTGRES_DSN unset, history persistence disabled")
	}

	// --- NATS (optional) ---
	var (
		nc          *nats.Conn
		js          jetstream.JetStream
		publishChan chan event.Envelope
	)
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()

		js, err = jetstream.New(nc)
		if err != nil {
			log.Fatal().Err(err).Msg("jetstream init")
		}
		if err := ingestion.EnsureEventStream(ctx, js); err != nil {
			log.Fatal().Err(err).Msg("ensure event stream")
		}
		if err := ingestion.EnsurePriceStream(ctx, js); err != nil {
			log.Fatal().Err(err).Msg("ensure price stream")
		}

		publishChan = make(chan event.Envelope, cfg.PublishBuffer)
		log.Info().Str("url", cfg.NATSURL).Msg("nats connected")
	} else {
		log.Warn().Msg("LIQ_NATS_URL unset, event publishing disabled")
	}

	// --- Engine ---
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("engine config")
	}
	if engineCfg.FeeMode == engine.FeeModeSweep && engineCfg.FeeSink == uuid.Nil {
		engineCfg.FeeSink = uuid.New()
		log.Warn().Str("fee_sink", engineCfg.FeeSink.String()).
			Msg("LIQ_FEE_SINK unset, generated ephemeral fee sink")
	}

	eng, err := engine.New(engineCfg, engine.Deps{
		Registry:  registry,
		Converter: converter,
		Executor:  executor.NewSequencer(),
		Logger:    log,
		Metrics:   metrics,
		Sink:      newResultSink(log, metrics, resultsChan, publishChan),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build engine")
	}

	// --- Servers ---
	srv, err := server.New(cfg.GRPCAddr, cfg.HTTPAddr, server.Deps{
		Engine:  eng,
		Query:   queryService,
		Events:  publishChan,
		Health:  healthChecker,
		Metrics: metrics,
		Logger:  log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build server")
	}

	// --- Goroutine inventory ---
	errChan := make(chan error, 8)

	if resultsChan != nil {
		worker := persistence.NewHistoryWorker(db, resultsChan,
			cfg.PersistBatchSize, cfg.PersistFlushTimeout, log, metrics)
		go func() {
			errChan <- worker.Run(ctx)
		}()
	}

	var priceSub *ingestion.PriceSubscriber
	if js != nil {
		publisher := ingestion.NewEventPublisher(js, publishChan, log, metrics)
		go func() {
			errChan <- publisher.Run(ctx)
		}()

		priceSub = ingestion.NewPriceSubscriber(js, converter, log, metrics)
		if err := priceSub.Subscribe(ctx); err != nil {
			log.Fatal().Err(err).Msg("subscribe prices")
		}
	}

	go func() {
		errChan <- srv.StartGRPC(ctx)
	}()
	go func() {
		errChan <- srv.StartHTTP(ctx)
	}()
	go func() {
		errChan <- runMetricsServer(ctx, cfg.MetricsAddr, log)
	}()

	healthChecker.SetReady(true)
	log.Info().
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("liquidation engine ready")

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("goroutine failed, shutting down")
		}
	}

	cancel()
	if priceSub != nil {
		priceSub.Stop()
	}

	// Give workers a moment to run their final flushes.
	time.Sleep(500 * time.Millisecond)
	log.Info().Msg("liquidation engine stopped")
}

// newResultSink fans committed results out to persistence and publishing.
// The persist send BLOCKS so no result is lost; the publish send drops
// when the buffer is full, since consumers can reconcile from history.
func newResultSink(log zerolog.Logger, metrics *observability.Metrics,
	results chan<- engine.Result, events chan<- event.Envelope) engine.ResultSink {

	return engine.SinkFunc(func(r engine.Result) {
		if results != nil {
			results <- r
		}

		if events == nil {
			return
		}
		env, err := event.Wrap(&event.LiquidationExecuted{
			LiquidationID: r.ID,
			LedgerID:      r.Ledger,
			Position:      r.Position,
			Caller:        r.Caller,
			Recipient:     r.Recipient,
			Mode:          r.Mode.String(),
			SeizeAsset:    r.SeizeAsset.Symbol(),
			RepaidAmount:  r.RepaidAmount,
			DebtReduced:   r.DebtReduced,
			SeizedAmount:  r.SeizedAmount,
			FeeAmount:     r.FeeAmount,
			DebtRemaining: r.DebtRemaining,
			ExecutedAt:    r.ExecutedAt,
		})
		if err != nil {
			log.Error().Err(err).Msg("wrap liquidation event")
			return
		}
		select {
		case events <- env:
		default:
			metrics.PublishDrops.Inc()
			log.Warn().Str("liquidation", r.ID.String()).Msg("publish buffer full, event dropped")
		}
	})
}

func runMetricsServer(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
