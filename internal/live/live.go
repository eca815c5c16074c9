package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/flowstack-labs/flowsql/internal/metric"
	"github.com/flowstack-labs/flowsql/pkg/core"
)

// Mode is the delivery mode of a view's feed.
type Mode string

// Feed modes. Push rides the messaging bus; poll falls back to
// executing the view's query on a timer when the streaming store is
// unhealthy.
const (
	ModePush Mode = "push"
	ModePoll Mode = "poll"
)

// Subject returns the tenant-qualified transport subject for a view.
func Subject(tenant, hash string) string {
	return "live." + tenant + "." + hash
}

// View identifies one output view to subscribe to.
type View struct {
	// Tenant owns the subscription; it is baked into the subject.
	Tenant string

	// Hash is the content hash of the view's upstream subgraph.
	Hash string

	// Store is the backing store probed by the health check.
	Store string

	// Poll fetches the current rows while the feed is in poll mode.
	// Wired to the preview path so polling rides the same safety
	// machinery as interactive previews. Nil disables polling.
	Poll func(ctx context.Context) (*core.RowBatch, error)
}

// Config configures the fan-out service.
type Config struct {
	// Bus is the fan-out transport (required).
	Bus Messaging

	// Health probes a backing store. The health-check loop is the only
	// place mode transitions happen. Nil means always healthy.
	Health func(ctx context.Context, store string) error

	// PollInterval between poll-mode fetches (default 2s).
	PollInterval time.Duration

	// HealthInterval between store probes (default 5s).
	HealthInterval time.Duration

	// BufferSize bounds each subscriber's channel (default 16). On
	// overflow the oldest batch is dropped; a slow consumer never
	// blocks the publisher.
	BufferSize int

	// Metrics defaults to a fresh isolated bundle when nil.
	Metrics *metric.Metrics

	// Logger defaults to a discard logger when nil.
	Logger *slog.Logger
}

// Service owns the per-view feeds.
type Service struct {
	bus            Messaging
	health         func(ctx context.Context, store string) error
	pollInterval   time.Duration
	healthInterval time.Duration
	bufSize        int
	metrics        *metric.Metrics
	logger         *slog.Logger

	mu    sync.Mutex
	views map[string]*view
}

// NewService creates a fan-out service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("live: messaging bus is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 5 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 16
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		bus:            cfg.Bus,
		health:         cfg.Health,
		pollInterval:   cfg.PollInterval,
		healthInterval: cfg.HealthInterval,
		bufSize:        cfg.BufferSize,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		views:          make(map[string]*view),
	}, nil
}

// view is the actor state for one live view. The owner goroutine is
// the only writer of mode and the only caller of fanout, so publish
// order is preserved per subscriber channel.
type view struct {
	key     string
	subject string
	store   string
	poll    func(ctx context.Context) (*core.RowBatch, error)

	inbox  chan core.RowBatch
	cancel context.CancelFunc
	done   chan struct{}
	mode   atomic.Value // Mode

	mu   sync.Mutex
	subs map[string]*Subscription
}

// Mode returns the view's current delivery mode.
func (v *view) Mode() Mode {
	return v.mode.Load().(Mode)
}

// Subscription is one consumer's handle on a view feed. The channel is
// closed on detach or teardown; a receive after that reports
// core.ErrSubscriptionClosed via Err.
type Subscription struct {
	id      string
	key     string
	subject string

	mu     sync.Mutex
	closed bool
	ch     chan core.RowBatch
}

// ID returns the subscriber id.
func (s *Subscription) ID() string { return s.id }

// Subject returns the tenant-qualified subject the feed rides on.
func (s *Subscription) Subject() string { return s.subject }

// Batches is the subscriber's delivery channel.
func (s *Subscription) Batches() <-chan core.RowBatch { return s.ch }

// Err reports why the channel is closed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrSubscriptionClosed
	}
	return nil
}

func (s *Subscription) deliver(batch core.RowBatch, m *metric.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- batch:
		m.LivePublished.Inc()
		return
	default:
	}
	// Full buffer: drop the oldest batch, then retry once.
	select {
	case <-s.ch:
		m.LiveDropped.Inc()
	default:
	}
	select {
	case s.ch <- batch:
		m.LivePublished.Inc()
	default:
		m.LiveDropped.Inc()
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Attach subscribes to a view. The first attach starts the owner
// goroutine and the single upstream feed; further attaches share it.
func (s *Service) Attach(v View) (*Subscription, error) {
	if v.Tenant == "" || v.Hash == "" {
		return nil, fmt.Errorf("live: view requires tenant and hash")
	}
	key := v.Tenant + "/" + v.Hash

	s.mu.Lock()
	defer s.mu.Unlock()

	vw, ok := s.views[key]
	if !ok {
		vw = &view{
			key:     key,
			subject: Subject(v.Tenant, v.Hash),
			store:   v.Store,
			poll:    v.Poll,
			inbox:   make(chan core.RowBatch, 64),
			done:    make(chan struct{}),
			subs:    make(map[string]*Subscription),
		}
		vw.mode.Store(ModePoll)

		unsub, err := s.bus.Subscribe(vw.subject, func(data []byte) { s.onMessage(vw, data) })
		if err != nil {
			return nil, fmt.Errorf("live: subscribing to %s: %w", vw.subject, err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		vw.cancel = cancel
		s.views[key] = vw
		s.metrics.LiveViews.Inc()
		s.logger.Info("starting live feed", slog.String("subject", vw.subject))
		go s.run(ctx, vw, unsub)
	}

	sub := &Subscription{
		id:      uuid.NewString(),
		key:     key,
		subject: vw.subject,
		ch:      make(chan core.RowBatch, s.bufSize),
	}
	vw.mu.Lock()
	vw.subs[sub.id] = sub
	vw.mu.Unlock()
	s.metrics.LiveSubscribers.Inc()
	return sub, nil
}

// Detach removes a subscriber. The last detach tears the feed down.
func (s *Service) Detach(sub *Subscription) {
	s.mu.Lock()
	vw, ok := s.views[sub.key]
	if !ok {
		s.mu.Unlock()
		sub.close()
		return
	}

	vw.mu.Lock()
	_, attached := vw.subs[sub.id]
	delete(vw.subs, sub.id)
	last := attached && len(vw.subs) == 0
	vw.mu.Unlock()

	if last {
		delete(s.views, sub.key)
		s.metrics.LiveViews.Dec()
	}
	s.mu.Unlock()

	if attached {
		s.metrics.LiveSubscribers.Dec()
	}
	sub.close()

	if last {
		s.logger.Info("tearing down live feed", slog.String("subject", vw.subject))
		vw.cancel()
		<-vw.done
	}
}

// Publish encodes a row batch and publishes it on the view's subject.
// Used by the ingestion side feeding push updates.
func (s *Service) Publish(ctx context.Context, tenant, hash string, batch core.RowBatch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("live: encoding batch: %w", err)
	}
	return s.bus.Publish(ctx, Subject(tenant, hash), data)
}

// Modes returns the current mode of a view, for observability.
func (s *Service) Modes() map[string]Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Mode, len(s.views))
	for key, vw := range s.views {
		out[key] = vw.Mode()
	}
	return out
}

// onMessage is the bus handler for a view. Push traffic is ignored
// while the feed is in poll mode so a degraded store cannot
// double-deliver against the poll loop.
func (s *Service) onMessage(vw *view, data []byte) {
	if vw.Mode() != ModePush {
		return
	}
	var batch core.RowBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		s.logger.Warn("discarding undecodable live batch",
			slog.String("subject", vw.subject), slog.Any("error", err))
		return
	}
	select {
	case vw.inbox <- batch:
	default:
		// Inbox overflow: drop the oldest so fresh rows win.
		select {
		case <-vw.inbox:
			s.metrics.LiveDropped.Inc()
		default:
		}
		select {
		case vw.inbox <- batch:
		default:
		}
	}
}

// run is the per-view owner goroutine.
func (s *Service) run(ctx context.Context, vw *view, unsub func() error) {
	defer close(vw.done)
	defer func() { _ = unsub() }()

	s.checkHealth(ctx, vw)

	pollTicker := time.NewTicker(s.pollInterval)
	defer pollTicker.Stop()
	healthTicker := time.NewTicker(s.healthInterval)
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-vw.inbox:
			s.fanout(vw, batch)
		case <-pollTicker.C:
			if vw.Mode() != ModePoll || vw.poll == nil {
				continue
			}
			batch, err := vw.poll(ctx)
			if err != nil {
				s.logger.Warn("poll fetch failed",
					slog.String("subject", vw.subject), slog.Any("error", err))
				continue
			}
			if batch != nil {
				s.fanout(vw, *batch)
			}
		case <-healthTicker.C:
			s.checkHealth(ctx, vw)
		}
	}
}

// checkHealth is the only mode transition point.
func (s *Service) checkHealth(ctx context.Context, vw *view) {
	if s.health == nil {
		vw.mode.Store(ModePush)
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, s.healthInterval)
	err := s.health(probeCtx, vw.store)
	cancel()

	prev := vw.Mode()
	switch {
	case err != nil && prev != ModePoll:
		// A failed probe downgrades the feed; it is not fatal.
		s.logger.Warn("store unhealthy, downgrading to poll",
			slog.String("subject", vw.subject), slog.Any("error", err))
		vw.mode.Store(ModePoll)
	case err == nil && prev != ModePush:
		s.logger.Info("store healthy, upgrading to push",
			slog.String("subject", vw.subject))
		vw.mode.Store(ModePush)
	}
}

func (s *Service) fanout(vw *view, batch core.RowBatch) {
	vw.mu.Lock()
	subs := make([]*Subscription, 0, len(vw.subs))
	for _, sub := range vw.subs {
		subs = append(subs, sub)
	}
	vw.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(batch, s.metrics)
	}
}
