package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"busticket/internal/clock"
	"busticket/internal/config"
	"busticket/internal/domain/booking"
	"busticket/internal/domain/inbox"
	"busticket/internal/domain/outbox"
	"busticket/internal/domain/seat"
	"busticket/internal/domain/ticket"
	"busticket/internal/domain/trip"
	"busticket/internal/infrastructure/kafka"
	"busticket/internal/infrastructure/memory"
	"busticket/internal/infrastructure/postgres"
	"busticket/internal/infrastructure/redis"
	"busticket/internal/inventory"
	"busticket/internal/seatlock"
	"busticket/internal/ticketing"
	"busticket/internal/usecase"

	pgxpool "github.com/jackc/pgx/v5/pgxpool"
	go_redis "github.com/redis/go-redis/v9"
)

const connectAttempts = 5

// Storage is one consistent set of repositories over a single backing store.
type Storage struct {
	Tx       usecase.Transactor
	Trips    trip.Repository
	Bookings booking.Repository
	Tickets  ticket.Repository
	Outbox   outbox.Repository
	Inbox    inbox.Repository
	Seats    seat.Store
}

type Factory struct {
	cfg      *config.Config
	log      *slog.Logger
	pgPool   *pgxpool.Pool
	redisCli *go_redis.Client
	storage  *Storage
}

func NewFactory(cfg *config.Config, log *slog.Logger) *Factory {
	return &Factory{
		cfg: cfg,
		log: log,
	}
}

func (f *Factory) Postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if f.pgPool != nil {
		return f.pgPool, nil
	}

	var pool *pgxpool.Pool
	var err error

	for i := 0; i < connectAttempts; i++ {
		pool, err = postgres.NewClient(ctx, postgres.Config{
			Host:     f.cfg.Postgres.Host,
			Port:     f.cfg.Postgres.Port,
			User:     f.cfg.Postgres.User,
			Password: f.cfg.Postgres.Password,
			DBName:   f.cfg.Postgres.DBName,
			MaxConns: f.cfg.Postgres.MaxConns,
		})
		if err == nil {
			break
		}
		f.log.Warn("failed to connect to postgres, retrying", "attempt", i+1, "max", connectAttempts, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to init postgres after retries: %w", err)
	}

	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	f.pgPool = pool
	return pool, nil
}

func (f *Factory) Redis(ctx context.Context) (*go_redis.Client, error) {
	if f.redisCli != nil {
		return f.redisCli, nil
	}

	client, err := redis.NewClient(ctx, redis.Config{
		Addr:     f.cfg.Redis.Addr,
		Password: f.cfg.Redis.Password,
		DB:       f.cfg.Redis.DB,
		Timeout:  f.cfg.Redis.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init redis: %w", err)
	}

	f.redisCli = client
	return client, nil
}

// Storage builds the repositories for the configured driver.
func (f *Factory) Storage(ctx context.Context) (*Storage, error) {
	if f.storage != nil {
		return f.storage, nil
	}

	switch f.cfg.Storage.Driver {
	case "memory":
		f.storage = &Storage{
			Tx:       memory.NewTx(),
			Trips:    memory.NewTripRepository(),
			Bookings: memory.NewBookingRepository(),
			Tickets:  memory.NewTicketRepository(),
			Outbox:   memory.NewOutboxRepository(clock.Real()),
			Inbox:    memory.NewInboxRepository(),
			Seats:    memory.NewSeatStore(clock.Real()),
		}
	default:
		pool, err := f.Postgres(ctx)
		if err != nil {
			return nil, err
		}
		f.storage = &Storage{
			Tx:       postgres.NewTxManager(pool),
			Trips:    postgres.NewTripRepository(pool),
			Bookings: postgres.NewBookingRepository(pool),
			Tickets:  postgres.NewTicketRepository(pool),
			Outbox:   postgres.NewOutboxRepository(pool),
			Inbox:    postgres.NewInboxRepository(pool),
			Seats:    postgres.NewSeatStore(pool),
		}
	}
	return f.storage, nil
}

// Deps assembles the booking core. With the postgres driver booking reads are
// cached in Redis.
func (f *Factory) Deps(ctx context.Context) (usecase.Deps, error) {
	st, err := f.Storage(ctx)
	if err != nil {
		return usecase.Deps{}, err
	}

	clk := clock.Real()
	inv := inventory.New(st.Seats, f.log)
	d := usecase.Deps{
		Tx:        st.Tx,
		Trips:     st.Trips,
		Bookings:  st.Bookings,
		Outbox:    st.Outbox,
		Inbox:     st.Inbox,
		Inventory: inv,
		Locks: seatlock.NewManager(inv, clk, seatlock.Config{
			TTL:           f.cfg.Booking.LockTTL,
			Wait:          f.cfg.Booking.LockWait,
			SweepInterval: f.cfg.Booking.SweepInterval,
		}, f.log),
		Tickets:  ticketing.NewIssuer(st.Tickets, clk),
		Payments: usecase.NewOutboxGateway(st.Outbox, clk),
		Clock:    clk,
		Log:      f.log,
		Policy: usecase.Policy{
			MaxSeatsPerBooking: f.cfg.Booking.MaxSeatsPerBooking,
			CancellationCutoff: f.cfg.Booking.CancellationCutoff,
		},
	}

	if f.cfg.Storage.Driver != "memory" {
		client, err := f.Redis(ctx)
		if err != nil {
			return usecase.Deps{}, err
		}
		d.Cache = redis.NewBookingCache(client, f.cfg.Booking.CacheTTL)
	}
	return d, nil
}

func (f *Factory) Producer() *kafka.Producer {
	return kafka.NewProducer(kafka.Config{
		Brokers: f.cfg.Kafka.Brokers,
		Topic:   f.cfg.Kafka.Topic,
	})
}

// Consumer reads the event topic in its own consumer group and hands over
// only the listed event types.
func (f *Factory) Consumer(groupID string, types ...string) *kafka.Consumer {
	if f.cfg.Kafka.GroupPrefix != "" {
		groupID = f.cfg.Kafka.GroupPrefix + "-" + groupID
	}
	return kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:     f.cfg.Kafka.Brokers,
		Topic:       f.cfg.Kafka.Topic,
		GroupID:     groupID,
		StartOffset: f.cfg.Kafka.StartOffset,
		Types:       types,
	}, f.log)
}

func (f *Factory) Close() {
	if f.pgPool != nil {
		f.pgPool.Close()
	}
	if f.redisCli != nil {
		f.redisCli.Close()
	}
}
