// Package report caches report responses per module, keyed by the
// canonical form of the request options.
package report

import (
	"context"
	"fmt"
	"sync"

	"sitekit_datastore/internal/fetch"
	"sitekit_datastore/internal/metrics"
	"sitekit_datastore/src/logger"

	"github.com/bytedance/sonic"
	"github.com/mohae/deepcopy"
	"github.com/rs/zerolog"
)

// OpGetReport is the operation name status is recorded under
const OpGetReport = "getReport"

// Options are the query options of one report request
type Options = map[string]any

// Backend is the part of the REST client the store needs
type Backend interface {
	Get(ctx context.Context, typ, identifier, datapoint string, params map[string]any, out any) error
}

// Definition declares the datapoint a report is read from
type Definition struct {
	Type       string
	Identifier string
	Datapoint  string
	// Validate rejects options before any request is made
	Validate func(Options) error
}

// Store caches responses of type R
type Store[R any] struct {
	def     Definition
	client Backend
	cache  Cache
	log    zerolog.Logger

	mu      sync.RWMutex
	reports map[string]R

	status   *fetch.Status
	resolver *fetch.Resolver
	action   *fetch.Action[Options, Options, R]
}

// Option configures a Store
type Option func(*options)

type options struct {
	ctx     context.Context
	cache   Cache
	metrics *metrics.Collectors
	status  *fetch.Status
}

// WithContext sets the context background resolution runs under
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// WithCache consults cache before the network and fills it afterwards
func WithCache(cache Cache) Option {
	return func(o *options) { o.cache = cache }
}

// WithMetrics records fetches into collectors
func WithMetrics(collectors *metrics.Collectors) Option {
	return func(o *options) { o.metrics = collectors }
}

// WithStatus shares a fetch status between stores
func WithStatus(status *fetch.Status) Option {
	return func(o *options) { o.status = status }
}

// New creates a report Store for def backed by client
func New[R any](def Definition, client Backend, opts ...Option) (*Store[R], error) {
	if def.Type == "" || def.Identifier == "" || def.Datapoint == "" {
		return nil, fmt.Errorf("report definition requires type, identifier and datapoint")
	}

	o := options{ctx: context.Background()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.status == nil {
		o.status = fetch.NewStatus()
	}

	s := &Store[R]{
		def:      def,
		client:   client,
		cache:    o.cache,
		log:      logger.With("report").With().Str("store", def.Identifier+"/"+def.Datapoint).Logger(),
		reports:  make(map[string]R),
		status:   o.status,
		resolver: fetch.NewResolver(o.ctx),
	}

	action, err := fetch.NewAction(o.ctx, fetch.Spec[Options, Options, R]{
		Name:    s.opName(),
		Params:  s.params,
		Call:    s.fetch,
		Receive: s.receive,
	}, s.status, o.metrics)
	if err != nil {
		return nil, err
	}
	s.action = action
	return s, nil
}

func (s *Store[R]) opName() string {
	return s.def.Type + "/" + s.def.Identifier + ":" + OpGetReport
}

func (s *Store[R]) params(options Options) (Options, error) {
	if options == nil {
		return nil, fetch.Preconditionf("options for %s report is required", s.def.Identifier)
	}
	if s.def.Validate != nil {
		if err := s.def.Validate(options); err != nil {
			return nil, fmt.Errorf("%w: %v", fetch.ErrPrecondition, err)
		}
	}
	return options, nil
}

// GetReport looks options up in the cache. On a miss it starts the
// fetch for options, once per key for the life of the store, and
// reports ok=false while it is loading. err is only set for invalid
// options. The returned report is a copy.
func (s *Store[R]) GetReport(options Options) (report R, ok bool, err error) {
	key, err := s.key(options)
	if err != nil {
		return report, false, err
	}

	s.mu.RLock()
	report, ok = s.reports[key]
	s.mu.RUnlock()
	if ok {
		return copyReport(report), true, nil
	}

	owned := cloneOptions(options)
	s.resolver.Trigger(key, func(ctx context.Context) { s.run(ctx, owned) })
	return report, false, nil
}

// ResolveReport is GetReport, waiting for the fetch to finish
func (s *Store[R]) ResolveReport(ctx context.Context, options Options) (R, error) {
	var zero R
	key, err := s.key(options)
	if err != nil {
		return zero, err
	}
	owned := cloneOptions(options)
	if err := s.resolver.Resolve(ctx, key, func(ctx context.Context) { s.run(ctx, owned) }); err != nil {
		return zero, err
	}

	s.mu.RLock()
	report, ok := s.reports[key]
	s.mu.RUnlock()
	if ok {
		return copyReport(report), nil
	}
	if err := s.ErrorForReport(options); err != nil {
		return zero, err
	}
	return zero, fmt.Errorf("%s report for %s is not available", s.def.Identifier, key)
}

// ErrorForReport returns the error of the last failed fetch for options
func (s *Store[R]) ErrorForReport(options Options) error {
	return s.status.ErrorFor(s.opName(), options)
}

// IsResolving reports whether a fetch for options is in progress
func (s *Store[R]) IsResolving(options Options) bool {
	key, err := fetch.Key(options)
	if err != nil {
		return false
	}
	return s.resolver.IsResolving(key)
}

// HasFinishedResolution reports whether options has been fetched,
// successfully or not
func (s *Store[R]) HasFinishedResolution(options Options) bool {
	key, err := fetch.Key(options)
	if err != nil {
		return false
	}
	return s.resolver.HasFinished(key)
}

// InvalidateReport drops the response held for options, here and in the
// shared cache, so the next read fetches from the server again.
func (s *Store[R]) InvalidateReport(ctx context.Context, options Options) error {
	key, err := fetch.Key(options)
	if err != nil {
		return fmt.Errorf("%w: %v", fetch.ErrPrecondition, err)
	}
	s.resolver.Invalidate(key)
	s.mu.Lock()
	delete(s.reports, key)
	s.mu.Unlock()

	if s.cache == nil {
		return nil
	}
	if err := s.cache.Delete(ctx, s.cacheKey(options)); err != nil {
		return fmt.Errorf("failed to invalidate %s report: %w", s.def.Identifier, err)
	}
	return nil
}

// Len returns the number of cached responses
func (s *Store[R]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}

// Wait blocks until background fetches have finished
func (s *Store[R]) Wait() {
	s.resolver.Wait()
}

// Close cancels background fetches and waits for them
func (s *Store[R]) Close() {
	s.resolver.Close()
}

func (s *Store[R]) key(options Options) (string, error) {
	if _, err := s.params(options); err != nil {
		return "", err
	}
	key, err := fetch.Key(options)
	if err != nil {
		return "", fmt.Errorf("%w: %v", fetch.ErrPrecondition, err)
	}
	return key, nil
}

func (s *Store[R]) run(ctx context.Context, options Options) {
	res, err := s.action.Run(ctx, options)
	if err != nil {
		s.log.Error().Err(err).Msg("report options rejected")
		return
	}
	if res.Err != nil {
		s.log.Warn().Err(res.Err).Msg("failed to resolve report")
	}
}

func (s *Store[R]) fetch(ctx context.Context, options Options) (R, error) {
	var out R
	cacheKey := s.cacheKey(options)

	if s.cache != nil {
		data, ok, err := s.cache.Get(ctx, cacheKey)
		if err != nil {
			s.log.Warn().Err(err).Msg("report cache read failed")
		}
		if ok {
			if err := sonic.Unmarshal(data, &out); err == nil {
				fetch.MarkCached(ctx)
				return out, nil
			}
			s.log.Warn().Str("key", cacheKey).Msg("discarding undecodable cache entry")
		}
	}

	if err := s.client.Get(ctx, s.def.Type, s.def.Identifier, s.def.Datapoint, options, &out); err != nil {
		return out, err
	}

	if s.cache != nil {
		data, err := sonic.Marshal(out)
		if err == nil {
			err = s.cache.Set(ctx, cacheKey, data)
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("report cache write failed")
		}
	}
	return out, nil
}

func (s *Store[R]) receive(report R, options Options) {
	key := fetch.MustKey(options)
	s.mu.Lock()
	s.reports[key] = report
	s.mu.Unlock()
}

func (s *Store[R]) cacheKey(options Options) string {
	return s.def.Type + "/" + s.def.Identifier + "/" + s.def.Datapoint + ":" + fetch.MustKey(options)
}

// cloneOptions detaches options from the caller's map before a
// background fetch reads it
func cloneOptions(options Options) Options {
	return deepcopy.Copy(options).(Options)
}

func copyReport[R any](report R) R {
	if c, ok := deepcopy.Copy(report).(R); ok {
		return c
	}
	return report
}
