package subscriber

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/b-open-io/cellindex/indexer"
	"github.com/b-open-io/cellindex/internal/loop"
	"github.com/b-open-io/cellindex/pubsub"
	"github.com/b-open-io/cellindex/query"
	"github.com/b-open-io/cellindex/store"
	"github.com/b-open-io/cellindex/types"
	"github.com/b-open-io/cellindex/ulogger"
)

const DefaultInterval = time.Second

// CellSource is the part of indexer.Indexer the subscriber polls.
type CellSource interface {
	TipNumber(ctx context.Context) (uint64, error)
	Collector(opts query.QueryOptions) (*indexer.CellCollector, error)
}

// MedianTimeSource reports the node's median time.
type MedianTimeSource interface {
	GetBlockchainInfo(ctx context.Context) (*types.BlockchainInfo, error)
}

type SubscribeOptions struct {
	Query query.QueryOptions
	// Name, together with a progress store, makes the subscription resume
	// from its saved position after a restart.
	Name string
}

// emitter is the polling state of one subscription. next is the first
// block not scanned yet; until primed it is set from the tip on the first
// tick.
type emitter struct {
	id     string
	topic  string
	name   string
	query  query.QueryOptions
	next   uint64
	primed bool
}

type Subscriber struct {
	source   CellSource
	median   MedianTimeSource
	pubsub   pubsub.PubSub
	progress store.Store
	logger   ulogger.Logger
	interval time.Duration

	mu            sync.Mutex
	emitters      map[string]*emitter
	subscriptions map[string]func()
	medianSubs    int

	pollMu sync.Mutex
	loop   *loop.Loop
}

type Option func(*Subscriber)

func WithLogger(l ulogger.Logger) Option {
	return func(s *Subscriber) {
		s.logger = l
	}
}

func WithInterval(d time.Duration) Option {
	return func(s *Subscriber) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithProgressStore persists the position of named subscriptions.
func WithProgressStore(st store.Store) Option {
	return func(s *Subscriber) {
		s.progress = st
	}
}

func New(source CellSource, median MedianTimeSource, ps pubsub.PubSub, opts ...Option) *Subscriber {
	initPrometheusMetrics()

	s := &Subscriber{
		source:        source,
		median:        median,
		pubsub:        ps,
		logger:        ulogger.New("subscriber"),
		interval:      DefaultInterval,
		emitters:      make(map[string]*emitter),
		subscriptions: make(map[string]func()),
	}
	for _, o := range opts {
		o(s)
	}
	s.loop = loop.New("subscriber", s.interval, s.Poll, s.logger)
	return s
}

func progressKey(name string) string {
	return "progress:" + name
}

// Subscribe registers a query. Its first events cover the blocks from
// opts.Query.FromBlock on, or, when FromBlock is unset, the blocks after
// the tip seen on the next tick. The subscription ends with ctx or
// Unsubscribe.
func (s *Subscriber) Subscribe(ctx context.Context, opts SubscribeOptions) (*Subscription[ChangeEvent], error) {
	if _, err := query.ToSearchKey(opts.Query); err != nil {
		return nil, err
	}

	e := &emitter{
		id:    uuid.NewString(),
		name:  opts.Name,
		query: opts.Query,
	}
	e.topic = topicPrefix + e.id

	if opts.Query.FromBlock != "" {
		from, err := types.ParseUint64(opts.Query.FromBlock)
		if err != nil {
			return nil, fmt.Errorf("%w: from block: %v", query.ErrInvalidQuery, err)
		}
		e.next, e.primed = from, true
	}
	if e.name != "" && s.progress != nil {
		next, found, err := store.GetJSON[uint64](ctx, s.progress, progressKey(e.name))
		if err != nil {
			return nil, fmt.Errorf("failed to load progress for %s: %w", e.name, err)
		}
		if found {
			s.logger.Infof("resuming %s from block %d", e.name, next)
			e.next, e.primed = next, true
		}
	}

	sub, err := newSubscription[ChangeEvent](ctx, s.pubsub, e.id, e.topic, s.logger)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.emitters[e.id] = e
	s.subscriptions[e.id] = sub.close
	s.mu.Unlock()

	context.AfterFunc(ctx, func() { s.remove(e.id) })
	return sub, nil
}

// SubscribeMedianTime delivers the node's median time once per tick.
func (s *Subscriber) SubscribeMedianTime(ctx context.Context) (*Subscription[MedianTimeEvent], error) {
	id := uuid.NewString()
	sub, err := newSubscription[MedianTimeEvent](ctx, s.pubsub, id, MedianTimeTopic, s.logger)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.medianSubs++
	s.subscriptions[id] = sub.close
	s.mu.Unlock()

	context.AfterFunc(ctx, func() { s.remove(id) })
	return sub, nil
}

func (s *Subscriber) Unsubscribe(h Handle) {
	s.remove(h.ID())
}

func (s *Subscriber) remove(id string) {
	s.mu.Lock()
	closeFn, ok := s.subscriptions[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.subscriptions, id)
	if _, isEmitter := s.emitters[id]; isEmitter {
		delete(s.emitters, id)
	} else {
		s.medianSubs--
	}
	s.mu.Unlock()

	closeFn()
}

// Subscriptions returns the number of live subscriptions.
func (s *Subscriber) Subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscriptions)
}

// Poll runs one tick. Every emitter is attempted even if an earlier one
// fails; the errors are joined.
func (s *Subscriber) Poll(ctx context.Context) error {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	prometheusPolls.Inc()

	tip, err := s.source.TipNumber(ctx)
	if err != nil {
		prometheusPollErrors.Inc()
		return fmt.Errorf("failed to get indexer tip: %w", err)
	}

	s.mu.Lock()
	emitters := make([]*emitter, 0, len(s.emitters))
	for _, e := range s.emitters {
		emitters = append(emitters, e)
	}
	wantMedian := s.medianSubs > 0
	s.mu.Unlock()

	var errs []error
	for _, e := range emitters {
		if err := s.pollEmitter(ctx, e, tip); err != nil {
			errs = append(errs, fmt.Errorf("subscription %s: %w", e.id, err))
		}
	}
	if wantMedian {
		if err := s.publishMedianTime(ctx, tip); err != nil {
			errs = append(errs, fmt.Errorf("median time: %w", err))
		}
	}

	if len(errs) > 0 {
		prometheusPollErrors.Inc()
	}
	return errors.Join(errs...)
}

func (s *Subscriber) pollEmitter(ctx context.Context, e *emitter, tip uint64) error {
	if !e.primed {
		e.next, e.primed = tip+1, true
		return s.saveProgress(ctx, e)
	}

	to := tip
	if e.query.ToBlock != "" {
		last, err := types.ParseUint64(e.query.ToBlock)
		if err != nil {
			return fmt.Errorf("%w: to block: %v", query.ErrInvalidQuery, err)
		}
		to = min(to, last)
	}
	if e.next > to {
		return nil
	}

	opts := e.query
	opts.FromBlock = types.Uint64ToHex(e.next)
	opts.ToBlock = types.Uint64ToHex(to)
	opts.Skip = 0
	collector, err := s.source.Collector(opts)
	if err != nil {
		return err
	}

	var cells []types.Cell
	for cell, err := range collector.Collect(ctx) {
		if err != nil {
			return err
		}
		cells = append(cells, *cell)
	}

	if len(cells) > 0 {
		payload, err := json.MarshalToString(ChangeEvent{
			SubscriptionID: e.id,
			FromBlock:      opts.FromBlock,
			ToBlock:        opts.ToBlock,
			Cells:          cells,
		})
		if err != nil {
			return err
		}
		if err := s.pubsub.Publish(ctx, e.topic, payload); err != nil {
			return fmt.Errorf("failed to publish change event: %w", err)
		}
		prometheusEventsPublished.Inc()
		s.logger.Debugf("subscription %s: %d cells in blocks %d-%d", e.id, len(cells), e.next, to)
	}

	e.next = to + 1
	return s.saveProgress(ctx, e)
}

func (s *Subscriber) saveProgress(ctx context.Context, e *emitter) error {
	if e.name == "" || s.progress == nil {
		return nil
	}
	return store.SetJSON(ctx, s.progress, progressKey(e.name), e.next)
}

func (s *Subscriber) publishMedianTime(ctx context.Context, tip uint64) error {
	info, err := s.median.GetBlockchainInfo(ctx)
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("node returned no blockchain info")
	}
	payload, err := json.MarshalToString(MedianTimeEvent{
		TipNumber:  types.Uint64ToHex(tip),
		MedianTime: info.MedianTime,
	})
	if err != nil {
		return err
	}
	if err := s.pubsub.Publish(ctx, MedianTimeTopic, payload); err != nil {
		return err
	}
	prometheusEventsPublished.Inc()
	return nil
}

// Start polls every interval until Stop or until ctx is done.
func (s *Subscriber) Start(ctx context.Context) {
	s.loop.Start(ctx)
}

// StartForever is Start, surviving panics in a tick.
func (s *Subscriber) StartForever(ctx context.Context) {
	s.loop.StartForever(ctx)
}

func (s *Subscriber) Stop() {
	s.loop.Stop()
}

func (s *Subscriber) Running() bool {
	return s.loop.Running()
}
