package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/stock-ledger/internal/application/inventory"
	invdomain "github.com/jhoicas/stock-ledger/internal/domain/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/memory"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/messaging"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/metrics"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/postgres"
	httpRouter "github.com/jhoicas/stock-ledger/internal/interfaces/http"
	"github.com/jhoicas/stock-ledger/pkg/config"
	"github.com/jhoicas/stock-ledger/pkg/logger"
)

// stores adaptadores del almacén elegido por STORE_DRIVER.
type stores struct {
	tx        inventory.TxRunner
	stock     repository.StockRepository
	movements repository.StockMovementRepository
	products  repository.ProductRepository
	ping      func(context.Context) error
	close     func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}
	if err := cfg.Validate(); err != nil {
		panic(err.Error())
	}

	log := logger.New(logger.Config{
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		Service: cfg.App.Name,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("store", cfg.Store.Driver).
		Msg("iniciando aplicación")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("abrir almacén de cantidades")
	}
	defer st.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(reg)

	var publisher inventory.EventPublisher
	if cfg.Kafka.Enabled() {
		kp := messaging.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log.Zerolog())
		defer func() {
			if err := kp.Close(); err != nil {
				log.Warn().Err(err).Msg("cerrar publicador Kafka")
			}
		}()
		publisher = kp
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("eventos hacia Kafka")
	}

	policy, err := invdomain.ParseSupplierPolicy(cfg.Ledger.SupplierPolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("política de proveedor")
	}
	gate := invdomain.NewGate(invdomain.Policy{Supplier: policy})

	ledger := inventory.NewStockLedger(st.tx, gate,
		inventory.WithCommitTimeout(cfg.Ledger.CommitTimeout),
		inventory.WithLogger(log.Zerolog()),
	)
	guard := inventory.NewSubmissionGuard(cfg.Guard.CommittedTTL, recorder, log.Zerolog())
	monitor := inventory.NewReconciliationMonitor(cfg.Monitor.BufferSize, publisher, recorder, log.Zerolog())

	movementSvc := inventory.NewMovementService(inventory.MovementServiceDeps{
		Guard:     guard,
		Ledger:    ledger,
		Gate:      gate,
		Stock:     st.stock,
		Movements: st.movements,
		Products:  st.products,
		Monitor:   monitor,
		Recorder:  recorder,
		Logger:    log.Zerolog(),
	})

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "Stock Ledger API",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		if err := st.ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "service": cfg.App.Name})
		}
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name, "store": cfg.Store.Driver})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	httpRouter.Router(app, httpRouter.RouterDeps{
		Movements: movementSvc,
		JWTSecret: cfg.JWT.Secret,
	})
	if cfg.JWT.Secret == "" {
		log.Warn().Msg("JWT_SECRET vacío: la API no exige token y los movimientos quedan sin actor")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Listen(cfg.HTTP.Addr())
	})
	g.Go(func() error {
		return monitor.Start(gctx)
	})
	g.Go(func() error {
		return guard.Run(gctx, cfg.Guard.SweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("señal de apagado recibida, cerrando servidor...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("aplicación finalizada con error")
		st.close()
		os.Exit(1)
	}
	log.Info().Msg("aplicación detenida")
}

func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	if cfg.Store.Driver == config.DriverMemory {
		store := memory.NewStore()
		if cfg.Store.SeedFile != "" {
			products, err := memory.LoadSeed(cfg.Store.SeedFile)
			if err != nil {
				return nil, err
			}
			store.Seed(products)
			log.Info().Int("products", len(products)).Str("file", cfg.Store.SeedFile).Msg("semilla en memoria cargada")
		}
		log.Warn().Msg("almacén en memoria: los movimientos no sobreviven a un reinicio")
		return &stores{
			tx:        store,
			stock:     store.Stock(),
			movements: store.Movements(),
			products:  store.Products(),
			ping:      func(context.Context) error { return nil },
			close:     func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DB, log.Component("postgres"))
	if err != nil {
		return nil, err
	}
	return &stores{
		tx:        postgres.NewTxRunner(pool),
		stock:     postgres.NewStockRepository(pool),
		movements: postgres.NewStockMovementRepository(pool),
		products:  postgres.NewProductRepository(pool),
		ping:      pool.Ping,
		close:     pool.Close,
	}, nil
}
