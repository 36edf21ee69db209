// Package settings implements the settings store shared by every module:
// a saved copy mirroring the server, a working copy ahead of it, and the
// fetch lifecycle for reading and saving them.
package settings

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"sitekit_datastore/internal/fetch"
	"sitekit_datastore/internal/metrics"
	"sitekit_datastore/src/logger"

	"github.com/bytedance/sonic"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/mohae/deepcopy"
	"github.com/rs/zerolog"
)

// Operation names status is recorded under
const (
	OpGetSettings  = "getSettings"
	OpSaveSettings = "saveSettings"
)

// DefaultDatapoint is the REST datapoint settings live at
const DefaultDatapoint = "settings"

// Values is a settings bag keyed by setting name
type Values = map[string]any

// Backend is the part of the REST client the store needs
type Backend interface {
	Get(ctx context.Context, typ, identifier, datapoint string, params map[string]any, out any) error
	Set(ctx context.Context, typ, identifier, datapoint string, data any, out any) error
}

// Definition declares where a settings bag lives and which names it holds
type Definition struct {
	Type       string
	Identifier string
	Datapoint  string
	Fields     []string
}

type noArgs struct{}

// Store holds one settings bag
type Store struct {
	def    Definition
	fields map[string]struct{}
	client Backend
	log    zerolog.Logger

	mu       sync.RWMutex
	settings Values
	saved    Values
	// stale forces the next resolution to read from the server even
	// though settings are held locally
	stale bool

	status   *fetch.Status
	resolver *fetch.Resolver
	get      *fetch.Action[noArgs, noArgs, Values]
	save     *fetch.Action[noArgs, Values, Values]
}

// Option configures a Store
type Option func(*options)

type options struct {
	ctx     context.Context
	metrics *metrics.Collectors
	status  *fetch.Status
}

// WithContext sets the context background resolution runs under
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// WithMetrics records fetches into collectors
func WithMetrics(collectors *metrics.Collectors) Option {
	return func(o *options) { o.metrics = collectors }
}

// WithStatus shares a fetch status between stores
func WithStatus(status *fetch.Status) Option {
	return func(o *options) { o.status = status }
}

// New creates a Store for def backed by client
func New(def Definition, client Backend, opts ...Option) (*Store, error) {
	if def.Type == "" || def.Identifier == "" {
		return nil, fmt.Errorf("settings definition requires type and identifier, got %q/%q", def.Type, def.Identifier)
	}
	if len(def.Fields) == 0 {
		return nil, fmt.Errorf("settings definition %s/%s declares no fields", def.Type, def.Identifier)
	}
	if def.Datapoint == "" {
		def.Datapoint = DefaultDatapoint
	}

	o := options{ctx: context.Background()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.status == nil {
		o.status = fetch.NewStatus()
	}

	s := &Store{
		def:      def,
		fields:   make(map[string]struct{}, len(def.Fields)),
		client:   client,
		log:      logger.With("settings").With().Str("store", def.Type+"/"+def.Identifier).Logger(),
		status:   o.status,
		resolver: fetch.NewResolver(o.ctx),
	}
	for _, name := range def.Fields {
		s.fields[name] = struct{}{}
	}

	var err error
	s.get, err = fetch.NewAction(o.ctx, fetch.Spec[noArgs, noArgs, Values]{
		Name:   s.opName(OpGetSettings),
		Params: func(noArgs) (noArgs, error) { return noArgs{}, nil },
		Call: func(ctx context.Context, _ noArgs) (Values, error) {
			var out Values
			err := s.client.Get(ctx, def.Type, def.Identifier, def.Datapoint, nil, &out)
			return out, err
		},
		Receive: func(values Values, _ noArgs) { s.ReceiveGetSettings(values) },
	}, s.status, o.metrics)
	if err != nil {
		return nil, err
	}

	s.save, err = fetch.NewAction(o.ctx, fetch.Spec[noArgs, Values, Values]{
		Name: s.opName(OpSaveSettings),
		Params: func(noArgs) (Values, error) {
			s.mu.RLock()
			defer s.mu.RUnlock()
			if s.settings == nil {
				return nil, fetch.Preconditionf("%s has no settings to save", def.Identifier)
			}
			return clone(s.settings), nil
		},
		Call: func(ctx context.Context, values Values) (Values, error) {
			var out Values
			err := s.client.Set(ctx, def.Type, def.Identifier, def.Datapoint, values, &out)
			return out, err
		},
		Receive: func(values Values, _ noArgs) { s.ReceiveSaveSettings(values) },
	}, s.status, o.metrics)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// opName scopes op to this store so a shared Status keeps stores apart
func (s *Store) opName(op string) string {
	return s.def.Type + "/" + s.def.Identifier + ":" + op
}

// Definition returns what the store was created with
func (s *Store) Definition() Definition {
	return s.def
}

// Fields returns the registered setting names, sorted
func (s *Store) Fields() []string {
	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ----------------------------------------------------
// ================ Actions ================

// SetSettings merges values into the working copy
func (s *Store) SetSettings(values Values) error {
	if values == nil {
		return fetch.Preconditionf("values is required")
	}
	for name := range values {
		if err := s.checkField(name); err != nil {
			return err
		}
	}
	normalized, err := normalize(values)
	if err != nil {
		return fmt.Errorf("%w: %v", fetch.ErrPrecondition, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		s.settings = make(Values, len(normalized))
	}
	for k, v := range normalized {
		s.settings[k] = v
	}
	return nil
}

// SetSetting sets one field. nil is rejected as an unset value; falsy
// values such as false, 0 and "" are accepted.
func (s *Store) SetSetting(name string, value any) error {
	if err := s.checkField(name); err != nil {
		return err
	}
	if value == nil {
		return fetch.Preconditionf("value is required for %s", name)
	}
	return s.SetSettings(Values{name: value})
}

// SaveSettings sends the working copy to the server. On success both
// copies become the server's response. On failure the working copy is
// left as is and the error is recorded under the save operation.
func (s *Store) SaveSettings(ctx context.Context) error {
	res, err := s.save.Run(ctx, noArgs{})
	if err != nil {
		return err
	}
	if res.Err != nil {
		return fmt.Errorf("failed to save %s settings: %w", s.def.Identifier, res.Err)
	}
	s.log.Info().Msg("settings saved")
	return nil
}

// FetchSettings reads the settings from the server unconditionally
func (s *Store) FetchSettings(ctx context.Context) error {
	res, err := s.get.Run(ctx, noArgs{})
	if err != nil {
		return err
	}
	return res.Err
}

// ReceiveGetSettings applies a server read. Fields already present in
// the working copy win over the server's values.
func (s *Store) ReceiveGetSettings(values Values) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = clone(values)
	merged := clone(values)
	if merged == nil {
		merged = Values{}
	}
	for k, v := range s.settings {
		merged[k] = v
	}
	s.settings = merged
}

// ReceiveSaveSettings applies a save response; the server is authoritative
func (s *Store) ReceiveSaveSettings(values Values) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = clone(values)
	s.settings = clone(values)
}

// RollbackSettings discards the working copy in favour of the saved one
func (s *Store) RollbackSettings() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = clone(s.saved)
}

// InvalidateSettings lets the next read fetch from the server again.
// Unsaved edits in the working copy survive the refetch.
func (s *Store) InvalidateSettings() {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
	s.resolver.Invalidate(OpGetSettings)
}

// Close stops background resolution
func (s *Store) Close() {
	s.resolver.Close()
}

// Wait blocks until background resolution has finished
func (s *Store) Wait() {
	s.resolver.Wait()
}

// ----------------------------------------------------
// ================ Selectors ================

// Settings returns the working copy. The first call starts a background
// fetch when nothing is held locally; until it lands ok is false.
func (s *Store) Settings() (values Values, ok bool) {
	s.resolve()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return nil, false
	}
	return clone(s.settings), true
}

// ResolveSettings is Settings, waiting for the first fetch to finish
func (s *Store) ResolveSettings(ctx context.Context) (Values, error) {
	if err := s.resolver.Resolve(ctx, OpGetSettings, s.resolveGet); err != nil {
		return nil, err
	}
	values, ok := s.Settings()
	if !ok {
		if err := s.ErrorForGet(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("no settings available for %s", s.def.Identifier)
	}
	return values, nil
}

// SavedSettings returns the last copy received from the server
func (s *Store) SavedSettings() (Values, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.saved == nil {
		return nil, false
	}
	return clone(s.saved), true
}

// GetSetting reads one field from the working copy
func (s *Store) GetSetting(name string) (any, bool) {
	if _, ok := s.fields[name]; !ok {
		return nil, false
	}
	s.resolve()
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[name]
	if !ok {
		return nil, false
	}
	return deepcopy.Copy(v), true
}

// HaveSettingsChanged reports whether the working copy differs from the
// saved copy, optionally only for keys
func (s *Store) HaveSettingsChanged(keys ...string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	working, saved := s.settings, s.saved
	if len(keys) > 0 {
		working, saved = pick(working, keys), pick(saved, keys)
	}
	return !cmp.Equal(working, saved, cmpopts.EquateEmpty())
}

// IsDoingSaveSettings reports whether a save is in flight
func (s *Store) IsDoingSaveSettings() bool {
	return s.status.IsFetchingAny(s.opName(OpSaveSettings))
}

// IsFetchingSettings reports whether a read is in flight
func (s *Store) IsFetchingSettings() bool {
	return s.status.IsFetchingAny(s.opName(OpGetSettings))
}

// ErrorForSave returns the error of the last failed save, if it has not
// been followed by a successful one
func (s *Store) ErrorForSave() error {
	return s.status.ErrorFor(s.opName(OpSaveSettings), noArgs{})
}

// ErrorForGet returns the error of the last failed read
func (s *Store) ErrorForGet() error {
	return s.status.ErrorFor(s.opName(OpGetSettings), noArgs{})
}

// ClearSaveError forgets the last save error
func (s *Store) ClearSaveError() {
	s.status.ClearError(s.opName(OpSaveSettings), noArgs{})
}

// ----------------------------------------------------

func (s *Store) resolve() {
	s.resolver.Trigger(OpGetSettings, s.resolveGet)
}

// resolveGet fetches when nothing is held locally or the store was
// invalidated
func (s *Store) resolveGet(ctx context.Context) {
	s.mu.Lock()
	skip := s.settings != nil && !s.stale
	s.stale = false
	s.mu.Unlock()
	if skip {
		return
	}
	if err := s.FetchSettings(ctx); err != nil {
		s.log.Warn().Err(err).Msg("failed to resolve settings")
	}
}

func (s *Store) checkField(name string) error {
	if _, ok := s.fields[name]; !ok {
		return fetch.Preconditionf("%s is not a %s setting", name, s.def.Identifier)
	}
	return nil
}

func clone(values Values) Values {
	if values == nil {
		return nil
	}
	return deepcopy.Copy(values).(Values)
}

func pick(values Values, keys []string) Values {
	out := make(Values, len(keys))
	for _, k := range keys {
		if v, ok := values[k]; ok {
			out[k] = v
		}
	}
	return out
}

// normalize converts values to their JSON form so local edits compare
// equal to the same values decoded from the server
func normalize(values Values) (Values, error) {
	b, err := sonic.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("settings must be JSON serializable: %w", err)
	}
	var out Values
	if err := sonic.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("settings must be JSON serializable: %w", err)
	}
	return out, nil
}
