// Package app builds the service graph shared by the binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduling/internal/availability"
	"github.com/hackgods/clinic-queue-scheduling/internal/config"
	"github.com/hackgods/clinic-queue-scheduling/internal/db"
	"github.com/hackgods/clinic-queue-scheduling/internal/memstore"
	"github.com/hackgods/clinic-queue-scheduling/internal/metrics"
	"github.com/hackgods/clinic-queue-scheduling/internal/notify"
	"github.com/hackgods/clinic-queue-scheduling/internal/payment"
	"github.com/hackgods/clinic-queue-scheduling/internal/queue"
	redisclient "github.com/hackgods/clinic-queue-scheduling/internal/redis"
	"github.com/hackgods/clinic-queue-scheduling/internal/refund"
	"github.com/hackgods/clinic-queue-scheduling/internal/slots"
)

type App struct {
	Config    config.Config
	Log       zerolog.Logger
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Doctors   availability.Store
	Repo      appointment.Repository
	Allocator *slots.Allocator
	Service   *appointment.Service
	Queue     *queue.Manager
	Metrics   *metrics.Metrics

	notifier *notify.Async
}

// New connects the configured store and Redis and wires the services. The
// postgres driver needs Redis; the memory driver falls back to in-process
// locks and pub/sub when Redis is unreachable.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Metrics: metrics.New()}

	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConn)
		cancel()
		if err != nil {
			return nil, err
		}
		a.PgPool = pool
		log.Info().Msg("connected to Postgres")

		if err := db.Migrate(ctx, pool); err != nil {
			a.Close()
			return nil, err
		}
		a.Doctors = availability.NewPgStore(pool)
		a.Repo = appointment.NewPgRepository(pool)

	case config.StoreDriverMemory:
		store := memstore.New()
		a.Doctors = store
		a.Repo = store
		log.Warn().Msg("using in-memory store, data is lost on restart")

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	a.Doctors = availability.WithDefaultDuration(a.Doctors, cfg.Booking.DefaultConsultation)

	var (
		locker redisclient.Locker
		bus    notify.Bus
	)
	rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	switch {
	case err == nil:
		a.Redis = rdb
		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
		bus = notify.NewRedisBus(rdb, log)
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	case cfg.StoreDriver == config.StoreDriverMemory:
		log.Warn().Err(err).Msg("redis unavailable, using in-process locks and pub/sub")
		locker = redisclient.NewLocalLocker()
		bus = notify.NewMemoryBus()
	default:
		a.Close()
		return nil, fmt.Errorf("redis connection: %w", err)
	}

	a.notifier = notify.NewAsync(
		notify.Multi{bus, notify.NewLogDispatcher(log)},
		cfg.Booking.NotificationTimeout,
		log,
	)

	loc := cfg.Location()
	a.Allocator = slots.NewAllocator(a.Doctors, a.Repo, loc, time.Now)
	a.Service = appointment.NewService(appointment.Deps{
		Repo:      a.Repo,
		Doctors:   a.Doctors,
		Allocator: a.Allocator,
		Locker:    locker,
		Notifier:  a.notifier,
		Gateway:   payment.NewLogGateway(log),
		Wallet:    payment.NewLogWallet(log),
		Policy:    refund.FromConfig(cfg.Refund),
		Config:    cfg.Booking,
		Metrics:   a.Metrics,
		Log:       log,
		Now:       time.Now,
	})
	a.Queue = queue.NewManager(a.Repo, a.Doctors, a.Service, a.notifier, bus, log)

	return a, nil
}

// Close drains pending notifications before releasing connections.
func (a *App) Close() {
	if a.notifier != nil {
		a.notifier.Wait()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Error().Err(err).Msg("error closing redis")
		}
	}
	if a.PgPool != nil {
		a.PgPool.Close()
	}
}
