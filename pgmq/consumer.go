package pgmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/honeynil/sqlx"
	"golang.org/x/sync/errgroup"
)

// Config configures a Consumer. Validated by NewConsumer per spec
// §4.G.
type Config struct {
	Queue string

	// Prefetch bounds the number of in-flight messages (the shared
	// channel's capacity). Must be > 0.
	Prefetch int

	// VT is the visibility timeout given to on_message to process a
	// message; also the deadline on_message runs under. Must be >= 1s.
	VT time.Duration

	AutoStart          bool
	EnableNotifyInsert bool

	QueueMinPullDelay time.Duration
	QueueMaxPullDelay time.Duration

	MessageRetryDelayStep time.Duration
	MessageMaxRetryDelay  time.Duration

	// OnMessage processes one message. A non-nil return or a deadline
	// exceeded (ctx) counts as failure.
	OnMessage func(ctx context.Context, msg Message) error

	OnFailToRead func(err error)
	OnAckFail    func(msg Message, err error)
	OnNackFail   func(msg Message, err error)
}

func (c *Config) validate() error {
	if c.Queue == "" {
		return fmt.Errorf("pgmq: consumer config: queue is required")
	}
	if c.Prefetch <= 0 {
		return fmt.Errorf("pgmq: consumer config: prefetch must be > 0")
	}
	if c.VT < time.Second {
		return fmt.Errorf("pgmq: consumer config: vt must be >= 1s")
	}
	if c.QueueMinPullDelay <= 0 || c.QueueMaxPullDelay <= 0 || c.QueueMinPullDelay >= c.QueueMaxPullDelay {
		return fmt.Errorf("pgmq: consumer config: queue_min_pull_delay must be < queue_max_pull_delay")
	}
	if c.MessageRetryDelayStep <= 0 || c.MessageMaxRetryDelay <= 0 || c.MessageRetryDelayStep >= c.MessageMaxRetryDelay {
		return fmt.Errorf("pgmq: consumer config: message_retry_delay_step must be < message_max_retry_delay")
	}
	if c.OnMessage == nil {
		return fmt.Errorf("pgmq: consumer config: on_message is required")
	}
	return nil
}

// Consumer is an adaptive long-running pull loop over a pgmq queue:
// fetch, consume, and (optionally) a LISTEN-driven wake-up task
// sharing a bounded channel of capacity Config.Prefetch. Grounded on
// the reviewed pool's reaper: a ticker/select idiom supervising
// background goroutines, generalized here to three cooperating tasks
// under one errgroup so Stop's cancellation and error propagation
// follow a single path.
type Consumer struct {
	client *Client
	cfg    Config

	vtBias        time.Duration
	listenChannel string

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc // stops the consume/notify tasks and unblocks draining
	cancelFetch context.CancelFunc // stops the fetch task from producing further
	fetchDone   chan struct{}      // closed once the fetch task has returned
	group       *errgroup.Group
	wake        chan struct{}
	ch          chan Message

	listenConn *sqlx.PooledConnection
}

// NewConsumer validates cfg and builds a Consumer over client. If
// cfg.AutoStart is set, Start is called immediately.
func NewConsumer(ctx context.Context, client *Client, cfg Config) (*Consumer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Consumer{
		client:        client,
		cfg:           cfg,
		vtBias:        cfg.VT * 2,
		listenChannel: fmt.Sprintf("pgmq.q_%s.INSERT", cfg.Queue),
	}
	if cfg.AutoStart {
		if err := c.Start(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Start launches the fetch/consume/notify tasks. A Consumer may be
// Start'ed again after Stop.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("pgmq: consumer for queue %q already running", c.cfg.Queue)
	}

	runCtx, cancel := context.WithCancel(ctx)
	fetchCtx, cancelFetch := context.WithCancel(runCtx)
	group, groupCtx := errgroup.WithContext(runCtx)

	c.cancel = cancel
	c.cancelFetch = cancelFetch
	c.fetchDone = make(chan struct{})
	c.group = group
	c.wake = make(chan struct{}, 1)
	c.ch = make(chan Message, c.cfg.Prefetch)

	if c.cfg.EnableNotifyInsert {
		conn, err := c.client.pool.Acquire(runCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("pgmq: acquire dedicated listen connection: %w", err)
		}
		c.listenConn = conn
		unsubscribe, err := conn.Listen(runCtx, c.listenChannel, func(string) { c.signalWake() })
		if err != nil {
			c.client.pool.Release(conn)
			c.listenConn = nil
			cancel()
			return fmt.Errorf("pgmq: listen on %s: %w", c.listenChannel, err)
		}
		group.Go(func() error {
			<-groupCtx.Done()
			_ = unsubscribe()
			return nil
		})
	}

	fetchDone := c.fetchDone
	group.Go(func() error {
		defer close(fetchDone)
		return c.fetchLoop(fetchCtx)
	})
	group.Go(func() error { return c.consumeLoop(groupCtx) })

	c.running = true
	return nil
}

func (c *Consumer) signalWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// fetchLoop implements spec §4.G's fetch task: read, push to the
// shared channel, reset back-off on any message; on an empty read
// (or a read error, treated as empty), double the back-off starting
// from QueueMinPullDelay, capped at QueueMaxPullDelay.
func (c *Consumer) fetchLoop(ctx context.Context) error {
	var delay time.Duration
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := c.client.Read(ctx, c.cfg.Queue, c.cfg.Prefetch, c.vtBias)
		if err != nil {
			if c.cfg.OnFailToRead != nil {
				c.cfg.OnFailToRead(err)
			}
			msgs = nil
		}

		if len(msgs) > 0 {
			for _, msg := range msgs {
				select {
				case c.ch <- msg:
				case <-ctx.Done():
					return nil
				}
			}
			delay = 0
			continue
		}

		delay = nextBackoff(delay, c.cfg.QueueMinPullDelay, c.cfg.QueueMaxPullDelay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-c.wake:
			timer.Stop()
			delay = 0
		case <-timer.C:
		}
	}
}

// nextBackoff doubles delay starting from min, capped at max. A zero
// delay (no read has failed yet) resets to min rather than doubling
// from zero.
func nextBackoff(delay, min, max time.Duration) time.Duration {
	if delay == 0 {
		return min
	}
	delay *= 2
	if delay > max {
		return max
	}
	return delay
}

// consumeLoop implements spec §4.G's consume task: sequential
// processing per message, vt-deadlined, ack on success and
// retry-delayed nack on failure or timeout.
func (c *Consumer) consumeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-c.ch:
			if !ok {
				return nil
			}
			c.processOne(ctx, msg)
		}
	}
}

func (c *Consumer) processOne(ctx context.Context, msg Message) {
	deadline, cancel := context.WithTimeout(ctx, c.cfg.VT)
	defer cancel()

	err := c.cfg.OnMessage(deadline, msg)
	if err == nil && deadline.Err() == nil {
		if ackErr := c.client.Ack(ctx, c.cfg.Queue, msg.ID); ackErr != nil && c.cfg.OnAckFail != nil {
			c.cfg.OnAckFail(msg, ackErr)
		}
		return
	}

	retryDelay := nackDelay(c.cfg.MessageRetryDelayStep, c.cfg.MessageMaxRetryDelay, msg.ReadCount)
	if nackErr := c.client.Nack(ctx, c.cfg.Queue, msg.ID, retryDelay); nackErr != nil && c.cfg.OnNackFail != nil {
		c.cfg.OnNackFail(msg, nackErr)
	}
}

// nackDelay computes min(step * read_ct, max), spec §4.G's nack
// back-off.
func nackDelay(step, max time.Duration, readCount int64) time.Duration {
	d := step * time.Duration(readCount)
	if d > max {
		return max
	}
	return d
}

// Stop drains in-flight work and halts all tasks: the fetch job is
// cancelled first (so it stops producing), then once it has
// confirmably returned the shared channel is closed so the consume
// job drains whatever is already buffered before it, too, observes
// cancellation. Closing the channel only after the sole producer has
// exited avoids a send-on-closed-channel panic; this is the same
// drain-then-stop intent as spec §4.G's ordering, adapted to Go's
// channel semantics. The Consumer may be Start'ed again afterward.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	group := c.group
	cancel := c.cancel
	cancelFetch := c.cancelFetch
	fetchDone := c.fetchDone
	ch := c.ch
	listenConn := c.listenConn
	c.running = false
	c.listenConn = nil
	c.mu.Unlock()

	cancelFetch()
	select {
	case <-fetchDone:
	case <-time.After(time.Second):
	}

	close(ch)
	time.Sleep(10 * time.Millisecond)
	cancel()

	err := group.Wait()
	if listenConn != nil {
		c.client.pool.Release(listenConn)
	}
	return err
}
