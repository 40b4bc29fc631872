package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dental-booking-agent/internal/appointments"
	"github.com/wolfman30/dental-booking-agent/internal/audit"
	"github.com/wolfman30/dental-booking-agent/internal/clients"
	appconfig "github.com/wolfman30/dental-booking-agent/internal/config"
	"github.com/wolfman30/dental-booking-agent/internal/messages"
	"github.com/wolfman30/dental-booking-agent/internal/messaging"
	"github.com/wolfman30/dental-booking-agent/internal/observability/metrics"
	"github.com/wolfman30/dental-booking-agent/internal/tenancy"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// ConnectPostgres opens the pgx pool and a database/sql handle sharing it.
func ConnectPostgres(ctx context.Context, databaseURL string) (*pgxpool.Pool, *sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil, errors.New("bootstrap: DATABASE_URL is required")
	}
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: parse database url: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return pool, stdlib.OpenDBFromPool(pool), nil
}

// Runtime holds the stores and services shared by every binary.
type Runtime struct {
	Config *appconfig.Config
	Logger *logging.Logger

	Pool  *pgxpool.Pool
	SQL   *sql.DB
	Redis *redis.Client

	Clock        *appointments.Clock
	Tenants      tenancy.Repository
	Clients      *clients.PostgresRepository
	ClientSvc    *clients.Service
	Appointments *appointments.PostgresRepository
	Booking      *appointments.Service
	Availability *appointments.AvailabilityEngine
	Messages     *messages.PostgresLog
	Audit        *audit.Store
	Sender       *messaging.CloudSender

	Registerer       prometheus.Registerer
	MessagingMetrics *metrics.MessagingMetrics
	AgentMetrics     *metrics.AgentMetrics
	JobMetrics       *metrics.JobMetrics
}

// NewRuntime connects to the stores and builds the shared services.
func NewRuntime(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	clock, err := appointments.NewClock(cfg.ClinicTimezone, cfg.LegacyDSTOffsets)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: clinic clock: %w", err)
	}

	pool, sqlDB, err := ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		Config:     cfg,
		Logger:     logger,
		Pool:       pool,
		SQL:        sqlDB,
		Redis:      BuildRedisClient(ctx, cfg, logger, true),
		Clock:      clock,
		Registerer: prometheus.DefaultRegisterer,
	}
	rt.MessagingMetrics = metrics.NewMessagingMetrics(rt.Registerer)
	rt.AgentMetrics = metrics.NewAgentMetrics(rt.Registerer)
	rt.JobMetrics = metrics.NewJobMetrics(rt.Registerer)
	bookingMetrics := metrics.NewBookingMetrics(rt.Registerer)

	var tenants tenancy.Repository = tenancy.NewPostgresRepository(pool)
	if rt.Redis != nil {
		tenants = tenancy.NewCachedRepository(tenants, rt.Redis, cfg.TenantCacheTTL, logger)
	}
	rt.Tenants = tenants

	rt.Clients = clients.NewPostgresRepository(pool)
	rt.ClientSvc = clients.NewService(rt.Clients, logger)
	rt.Appointments = appointments.NewPostgresRepository(pool)
	rt.Booking = appointments.NewService(rt.Appointments, clock, rt.ClientSvc, bookingMetrics, logger)
	rt.Availability = appointments.NewAvailabilityEngine(rt.Appointments, clock,
		appointments.WithBusinessHours(cfg.BusinessHoursStart, cfg.BusinessHoursEnd))
	rt.Messages = messages.NewPostgresLog(pool)
	rt.Audit = audit.NewStore(sqlDB, logger)
	rt.Sender = messaging.NewCloudSender(SenderConfig(cfg, rt.MessagingMetrics, logger))
	return rt, nil
}

// SenderConfig maps process configuration onto the channel sender.
func SenderConfig(cfg *appconfig.Config, m *metrics.MessagingMetrics, logger *logging.Logger) messaging.SenderConfig {
	return messaging.SenderConfig{
		BaseURL:    cfg.WhatsAppAPIBaseURL,
		APIVersion: cfg.WhatsAppAPIVersion,
		Default: tenancy.Credentials{
			PhoneNumberID: cfg.WhatsAppPhoneNumberID,
			AccessToken:   cfg.WhatsAppAccessToken,
		},
		Metrics: m,
		Logger:  logger,
	}
}

// Close releases the store connections.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
	if rt.SQL != nil {
		_ = rt.SQL.Close()
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
}
