package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// PoolConfig holds connection pool configuration.
type PoolConfig struct {
	// MaxOpenConns is the maximum number of open connections (0 = unlimited).
	MaxOpenConns int
	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int
	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration
	// ConnMaxIdleTime is the maximum idle time of a connection.
	ConnMaxIdleTime time.Duration
	// HealthCheckInterval is how often to ping the database (0 = never).
	HealthCheckInterval time.Duration
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:        25,
		MaxIdleConns:        5,
		ConnMaxLifetime:     30 * time.Minute,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 1 * time.Minute,
	}
}

// PoolStats reports pool usage.
type PoolStats struct {
	OpenConnections    int
	InUse              int
	Idle               int
	WaitCount          int64
	FailedHealthChecks int64
	LastHealthCheck    time.Time
}

type pool struct {
	db     *sql.DB
	config PoolConfig
	log    *slog.Logger

	mu              sync.RWMutex
	failedChecks    int64
	lastHealthCheck time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newPool(driverName, dsn string, config PoolConfig, log *slog.Logger) (*pool, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithCancel(context.Background())
	p := &pool{
		db:     db,
		config: config,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}

	if config.HealthCheckInterval > 0 {
		p.wg.Add(1)
		go p.healthCheckLoop()
	}
	return p, nil
}

func (p *pool) healthCheck(ctx context.Context) error {
	p.mu.Lock()
	p.lastHealthCheck = time.Now()
	p.mu.Unlock()

	if err := p.db.PingContext(ctx); err != nil {
		p.mu.Lock()
		p.failedChecks++
		p.mu.Unlock()
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

func (p *pool) healthCheckLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
			if err := p.healthCheck(ctx); err != nil {
				p.log.Warn("store health check failed", "error", err)
			}
			cancel()
		}
	}
}

func (p *pool) stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := p.db.Stats()
	return PoolStats{
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		WaitCount:          s.WaitCount,
		FailedHealthChecks: p.failedChecks,
		LastHealthCheck:    p.lastHealthCheck,
	}
}

func (p *pool) close() error {
	p.cancel()
	p.wg.Wait()
	return p.db.Close()
}
