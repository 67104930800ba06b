package sqlx

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	defaultMaxConnections   = 10
	defaultMinIdle          = 0
	defaultAcquireTimeout   = 30 * time.Second
	defaultIdleTimeout      = 5 * time.Minute
	defaultMaxLifetime      = 30 * time.Minute
	cleanupInterval         = 2 * time.Second
	cleanupYieldEvery       = 10
)

// PoolOption configures a Pool at construction. Options follow the
// functional-options shape the rest of this package's ambient stack
// uses (see config.go).
type PoolOption func(*poolConfig)

type poolConfig struct {
	maxConnections int
	minIdle        int
	acquireTimeout time.Duration
	idleTimeout    time.Duration
	maxLifetime    time.Duration
	logger         Logger
	clock          clockwork.Clock
	factory        Factory
	tracer         trace.Tracer
	dialect        Dialect
}

// WithMaxConnections bounds the number of connections the pool will
// ever hold open simultaneously.
func WithMaxConnections(n int) PoolOption {
	return func(c *poolConfig) { c.maxConnections = n }
}

// WithMinIdle keeps at least n idle connections warm, subject to
// maxConnections. The warm-up loop creates them in the background so
// NewPool returns immediately.
func WithMinIdle(n int) PoolOption {
	return func(c *poolConfig) { c.minIdle = n }
}

// WithAcquireTimeout bounds how long Acquire will wait for a slot or
// an idle connection before returning ErrPoolTimedOut.
func WithAcquireTimeout(d time.Duration) PoolOption {
	return func(c *poolConfig) { c.acquireTimeout = d }
}

// WithIdleTimeout marks a connection that has sat idle longer than d
// as expired; the cleanup loop evicts it down to minIdle.
func WithIdleTimeout(d time.Duration) PoolOption {
	return func(c *poolConfig) { c.idleTimeout = d }
}

// WithMaxLifetime caps how long a connection may live, idle or not,
// before it is retired on its next release.
func WithMaxLifetime(d time.Duration) PoolOption {
	return func(c *poolConfig) { c.maxLifetime = d }
}

// WithLogger attaches a Logger; the default is a no-op.
func WithLogger(l Logger) PoolOption {
	return func(c *poolConfig) { c.logger = l }
}

// WithClock injects a clockwork.Clock, letting tests fast-forward
// idle-timeout and max-lifetime eviction with clockwork.NewFakeClock.
func WithClock(clock clockwork.Clock) PoolOption {
	return func(c *poolConfig) { c.clock = clock }
}

// WithFactory overrides how the pool dials new raw connections. If
// omitted, NewPool derives one from dsn via dialect.ParseDSN and the
// registered drivers package (drivers/postgres, drivers/mysql,
// drivers/sqlite).
func WithFactory(f Factory) PoolOption {
	return func(c *poolConfig) { c.factory = f }
}

// WithDialect pins the dialect a pool reports from Dialect() and uses
// for statement rendering. Required alongside WithFactory, since
// without a DSN scheme to parse the pool has no other way to learn
// it — tests against drivers/mock are the primary caller.
func WithDialect(d Dialect) PoolOption {
	return func(c *poolConfig) { c.dialect = d }
}

// WithTracer attaches an OpenTelemetry tracer for Acquire spans; the
// default is otel.Tracer("github.com/honeynil/sqlx"), which is a
// no-op until a global TracerProvider is registered.
func WithTracer(tracer trace.Tracer) PoolOption {
	return func(c *poolConfig) { c.tracer = tracer }
}

// PooledConnection wraps a Connection checked out of a Pool, tracking
// the bookkeeping the pool needs on release: when it was created, when
// it was last handed back, and whether it is currently checked out.
type PooledConnection struct {
	*Connection
	createdAt  time.Time
	lastUsedAt time.Time
	acquired   bool
}

// Pool bounds concurrent access to a set of Connections. Acquire/
// Release implement the slot + idle-channel algorithm from spec §4.C:
// a semaphore.Weighted caps total connections, a buffered channel
// holds idle ones, and a background errgroup supervises warm-up and
// periodic eviction.
type Pool struct {
	dsn      string
	dialect  Dialect
	factory  Factory
	logger   Logger
	clock    clockwork.Clock
	tracer   trace.Tracer

	maxConnections int
	minIdle        int
	acquireTimeout time.Duration
	idleTimeout    time.Duration
	maxLifetime    time.Duration

	slots *semaphore.Weighted
	idle  chan *PooledConnection

	totalConnections atomic.Int64
	idleCount        atomic.Int64
	closed           atomic.Bool

	mu sync.Mutex

	supervisor *errgroup.Group
	cancel     context.CancelFunc
}

// NewPool parses dsn to determine the dialect, applies opts, and
// returns a Pool with its warm-up and cleanup loops already running
// under an internal errgroup.Group. Pass WithFactory to bypass DSN
// parsing entirely (used by tests against drivers/mock).
func NewPool(ctx context.Context, dsn string, opts ...PoolOption) (*Pool, error) {
	cfg := poolConfig{
		maxConnections: defaultMaxConnections,
		minIdle:        defaultMinIdle,
		acquireTimeout: defaultAcquireTimeout,
		idleTimeout:    defaultIdleTimeout,
		maxLifetime:    defaultMaxLifetime,
		logger:         defaultLogger(),
		clock:          clockwork.NewRealClock(),
		tracer:         otel.Tracer("github.com/honeynil/sqlx"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	dialect := cfg.dialect
	if cfg.factory == nil {
		d, err := ParseDSN(dsn)
		if err != nil {
			return nil, newPoolError(dsn, err)
		}
		dialect = d
		factory, err := defaultFactory(d, dsn)
		if err != nil {
			return nil, newPoolError(dsn, err)
		}
		cfg.factory = factory
	} else if dialect == "" {
		return nil, newPoolError(dsn, fmt.Errorf("WithFactory requires WithDialect"))
	}

	if dialect == DialectSQLite && isSQLiteMemoryDSN(dsn) {
		cfg.maxConnections = 1
		if cfg.minIdle > 1 {
			cfg.minIdle = 1
		}
	}

	if cfg.minIdle > cfg.maxConnections {
		return nil, newPoolError(dsn, fmt.Errorf("min idle %d exceeds max connections %d", cfg.minIdle, cfg.maxConnections))
	}

	supervisorCtx, cancel := context.WithCancel(ctx)
	g, supervisorCtx := errgroup.WithContext(supervisorCtx)

	p := &Pool{
		dsn:            dsn,
		dialect:        dialect,
		factory:        cfg.factory,
		logger:         cfg.logger,
		clock:          cfg.clock,
		tracer:         cfg.tracer,
		maxConnections: cfg.maxConnections,
		minIdle:        cfg.minIdle,
		acquireTimeout: cfg.acquireTimeout,
		idleTimeout:    cfg.idleTimeout,
		maxLifetime:    cfg.maxLifetime,
		slots:          semaphore.NewWeighted(int64(cfg.maxConnections)),
		idle:           make(chan *PooledConnection, cfg.maxConnections),
		supervisor:     g,
		cancel:         cancel,
	}

	g.Go(func() error {
		p.warmUp(supervisorCtx)
		return nil
	})
	g.Go(func() error {
		p.cleanupLoop(supervisorCtx)
		return nil
	})

	return p, nil
}

// driverFactories holds the registrations drivers/postgres,
// drivers/mysql, and drivers/sqlite each add via RegisterDriver in
// their package init(), keyed by dialect. Kept here rather than
// imported directly to avoid a drivers -> sqlx -> drivers cycle: the
// dependency runs drivers -> sqlx only, and registration flows back
// through this map at init time.
var driverFactories = map[Dialect]func(dsn string) Factory{}

// RegisterDriver installs the Factory constructor a drivers/* package
// provides for dialect. Called from that package's init(); importing
// the package for side effects (e.g. `import _ "github.com/honeynil/sqlx/drivers/postgres"`)
// is what makes NewPool able to dial dialect without an explicit
// WithFactory.
func RegisterDriver(dialect Dialect, newFactory func(dsn string) Factory) {
	driverFactories[dialect] = newFactory
}

func defaultFactory(dialect Dialect, dsn string) (Factory, error) {
	newFactory, ok := driverFactories[dialect]
	if !ok {
		return nil, fmt.Errorf("sqlx: no driver registered for dialect %s; pass WithFactory or import a drivers/* package", dialect)
	}
	return newFactory(dsn), nil
}

func (p *Pool) warmUp(ctx context.Context) {
	for i := 0; i < p.minIdle; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !p.slots.TryAcquire(1) {
			return
		}
		raw, err := p.factory(ctx)
		if err != nil {
			p.slots.Release(1)
			p.logger.WarnContext(ctx, "pool warm-up: factory failed", "error", err)
			return
		}
		now := p.clock.Now()
		pooled := &PooledConnection{
			Connection: newConnection(raw, p),
			createdAt:  now,
			lastUsedAt: now,
		}
		p.totalConnections.Add(1)
		p.idleCount.Add(1)
		select {
		case p.idle <- pooled:
		default:
			// idle channel capacity == maxConnections, so this never
			// blocks in practice; guard anyway.
			p.idleCount.Add(-1)
			p.totalConnections.Add(-1)
			_ = raw.Close()
			return
		}
	}
}

// Acquire checks out a Connection, creating one if the pool has spare
// capacity or waiting for one to be released otherwise, bounded by
// acquireTimeout.
func (p *Pool) Acquire(ctx context.Context) (*PooledConnection, error) {
	ctx, span := p.tracer.Start(ctx, "sqlx.pool.acquire", trace.WithAttributes(
		attribute.String("sqlx.dialect", string(p.dialect)),
	))
	defer span.End()

	pooled, err := p.acquire(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return pooled, err
}

func (p *Pool) acquire(ctx context.Context) (*PooledConnection, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	acquireCtx := ctx
	var cancel context.CancelFunc
	if p.acquireTimeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	for {
		select {
		case pooled := <-p.idle:
			p.idleCount.Add(-1)
			if p.closed.Load() {
				_ = pooled.Connection.Close()
				p.totalConnections.Add(-1)
				return nil, ErrPoolClosed
			}
			if p.expired(pooled) {
				_ = pooled.Connection.Close()
				p.totalConnections.Add(-1)
				p.slots.Release(1)
				continue
			}
			if err := pooled.Connection.raw.Ping(acquireCtx); err != nil {
				_ = pooled.Connection.Close()
				p.totalConnections.Add(-1)
				p.slots.Release(1)
				continue
			}
			pooled.acquired = true
			return pooled, nil
		default:
		}

		if p.slots.TryAcquire(1) {
			raw, err := p.factory(acquireCtx)
			if err != nil {
				p.slots.Release(1)
				return nil, newPoolError(p.dsn, err)
			}
			now := p.clock.Now()
			pooled := &PooledConnection{
				Connection: newConnection(raw, p),
				createdAt:  now,
				lastUsedAt: now,
				acquired:   true,
			}
			p.totalConnections.Add(1)
			return pooled, nil
		}

		select {
		case pooled := <-p.idle:
			p.idleCount.Add(-1)
			if p.closed.Load() {
				_ = pooled.Connection.Close()
				p.totalConnections.Add(-1)
				return nil, ErrPoolClosed
			}
			if p.expired(pooled) {
				_ = pooled.Connection.Close()
				p.totalConnections.Add(-1)
				p.slots.Release(1)
				continue
			}
			pooled.acquired = true
			return pooled, nil
		case <-acquireCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrPoolTimedOut
		}
	}
}

func (p *Pool) expired(pooled *PooledConnection) bool {
	now := p.clock.Now()
	if p.maxLifetime > 0 && now.Sub(pooled.createdAt) > p.maxLifetime {
		return true
	}
	if p.idleTimeout > 0 && now.Sub(pooled.lastUsedAt) > p.idleTimeout {
		return true
	}
	return false
}

// tryShrink atomically decrements totalConnections only if doing so
// would not take it below minIdle, reporting whether it shrank.
func (p *Pool) tryShrink() bool {
	for {
		cur := p.totalConnections.Load()
		if int(cur) <= p.minIdle {
			return false
		}
		if p.totalConnections.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

// Release returns a checked-out connection to the pool. A closed
// connection is always retired. An expired connection (past its idle
// timeout / max lifetime) is retired only if the pool is above
// minIdle; at or below the floor it is pushed back to idle instead,
// leaving the floor to the next eviction/acquire pass to reconsider
// rather than closing a connection the pool is required to keep warm.
func (p *Pool) Release(pooled *PooledConnection) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !pooled.acquired {
		return
	}
	pooled.acquired = false
	pooled.lastUsedAt = p.clock.Now()
	pooled.Connection.resetForPool()

	if p.closed.Load() || pooled.Connection.Closed() {
		_ = pooled.Connection.Close()
		p.totalConnections.Add(-1)
		p.slots.Release(1)
		return
	}

	if p.expired(pooled) && p.tryShrink() {
		_ = pooled.Connection.Close()
		p.slots.Release(1)
		return
	}

	select {
	case p.idle <- pooled:
		p.idleCount.Add(1)
	default:
		// idle channel is at capacity (== maxConnections); retire
		// rather than block a Release call.
		_ = pooled.Connection.Close()
		p.totalConnections.Add(-1)
		p.slots.Release(1)
	}
}

func (p *Pool) cleanupLoop(ctx context.Context) {
	ticker := p.clock.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.evictExpired(ctx)
		}
	}
}

func (p *Pool) evictExpired(ctx context.Context) {
	maxEvict := p.maxConnections/2 + 1
	evicted := 0

	for evicted < maxEvict {
		if int(p.totalConnections.Load()) <= p.minIdle {
			return
		}
		select {
		case pooled := <-p.idle:
			p.idleCount.Add(-1)
			if p.expired(pooled) {
				_ = pooled.Connection.Close()
				p.totalConnections.Add(-1)
				p.slots.Release(1)
				evicted++
			} else {
				// not expired: put it back and stop, channel order
				// is not strictly FIFO-relevant here.
				select {
				case p.idle <- pooled:
					p.idleCount.Add(1)
				default:
					_ = pooled.Connection.Close()
					p.totalConnections.Add(-1)
					p.slots.Release(1)
				}
				return
			}
		default:
			return
		}

		if evicted%cleanupYieldEvery == 0 {
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}
}

// BeginTx acquires a connection and starts a transaction on it,
// returning a PooledTransaction whose Commit/Rollback release the
// connection back to the pool.
func (p *Pool) BeginTx(ctx context.Context) (*PooledTransaction, error) {
	pooled, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := pooled.Connection.Begin(ctx)
	if err != nil {
		p.Release(pooled)
		return nil, err
	}
	return newPooledTransaction(tx, pooled, p), nil
}

// Stats reports a snapshot of the pool's current occupancy.
type Stats struct {
	Total int
	Idle  int
}

// Stats returns the pool's current total and idle connection counts.
func (p *Pool) Stats() Stats {
	return Stats{
		Total: int(p.totalConnections.Load()),
		Idle:  int(p.idleCount.Load()),
	}
}

// Dialect returns the dialect this pool was constructed for.
func (p *Pool) Dialect() Dialect { return p.dialect }

// Close stops the background loops and closes every idle connection.
// Connections still checked out are closed as they are released.
// Close is idempotent.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	_ = p.supervisor.Wait()

	// close(p.idle) must not race a concurrent Release's non-blocking
	// send on the same channel (a select send case panics on a closed
	// channel just like a plain send does), so both share p.mu.
	p.mu.Lock()
	close(p.idle)
	for pooled := range p.idle {
		_ = pooled.Connection.Close()
		p.totalConnections.Add(-1)
	}
	p.idleCount.Store(0)
	p.mu.Unlock()
	return nil
}
