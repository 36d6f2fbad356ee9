// Command keyledger-server runs the license activation ledger over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/keyledger/internal/config"
	"github.com/and161185/keyledger/internal/licensekey"
	"github.com/and161185/keyledger/internal/limiter"
	"github.com/and161185/keyledger/internal/metrics"
	"github.com/and161185/keyledger/internal/migrate"
	"github.com/and161185/keyledger/internal/repository"
	"github.com/and161185/keyledger/internal/repository/badgerdb"
	"github.com/and161185/keyledger/internal/repository/postgres"
	"github.com/and161185/keyledger/internal/server/httpapi"
	"github.com/and161185/keyledger/internal/service"
	"github.com/and161185/keyledger/internal/sysinfo"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

// main reads KEYLEDGER_* settings, applies flag overrides and serves until signaled.
func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	flag.StringVar(&cfg.Store, "store", cfg.Store, "ledger store: badger or postgres")
	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "badger data directory")
	flag.StringVar(&cfg.DSN, "dsn", cfg.DSN, "PostgreSQL DSN")
	flag.StringVar(&cfg.DeploymentID, "deployment-id", cfg.DeploymentID, "deployment identifier")
	flag.IntVar(&cfg.MaxFailures, "max-failures", cfg.MaxFailures, "failed activations before a block")
	flag.DurationVar(&cfg.FailureWindow, "failure-window", cfg.FailureWindow, "window for counting failures")
	flag.DurationVar(&cfg.BlockFor, "block-for", cfg.BlockFor, "block duration")
	flag.BoolVar(&cfg.Dev, "dev", cfg.Dev, "development logging")
	flag.Parse()

	logger := newLogger(cfg.Dev)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store),
		zap.String("deployment", cfg.DeploymentID),
	)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}
	if err := run(ctx, cfg, ln, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newLogger(dev bool) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if dev {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// stores bundles the ledger repository and the limiter sharing its backend.
type stores struct {
	repo  repository.ActivationRepository
	lim   limiter.Limiter
	close func()
}

func openStores(ctx context.Context, cfg config.Server, log *zap.Logger) (*stores, error) {
	switch cfg.Store {
	case config.StorePostgres:
		if err := migrate.Up(ctx, cfg.DSN); err != nil {
			return nil, err
		}
		db, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return &stores{
			repo:  postgres.NewActivationRepo(db),
			lim:   limiter.NewPG(db.Pool, cfg.FailureWindow, cfg.MaxFailures, cfg.BlockFor),
			close: db.Close,
		}, nil
	default:
		bcfg := badgerdb.DefaultConfig(cfg.DataDir)
		bcfg.Logger = log
		db, err := badgerdb.Open(bcfg)
		if err != nil {
			return nil, err
		}
		return &stores{
			repo:  badgerdb.NewActivationRepo(db),
			lim:   limiter.NewMemory(cfg.FailureWindow, cfg.MaxFailures, cfg.BlockFor),
			close: func() { _ = db.Close() },
		}, nil
	}
}

// run serves on ln until ctx is canceled.
func run(ctx context.Context, cfg config.Server, ln net.Listener, log *zap.Logger) error {
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer st.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.New(reg)

	ledger := service.NewLedgerService(st.repo, licensekey.NewSigner([]byte(cfg.Secret), nil), cfg.DeploymentID,
		service.WithLimiter(st.lim),
		service.WithMetrics(met),
		service.WithLogger(log.Named("ledger")),
	)
	if s, err := ledger.Status(ctx); err == nil && s.Found {
		log.Info("activation record loaded", zap.Int("years", s.Years), zap.Time("activationDate", s.ActivationDate))
	}

	srv := &http.Server{
		Handler:           httpapi.New(ledger, sysinfo.Probe{}, met, log.Named("http")).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
