// Package modules wires the settings and report stores of every Site Kit
// module to one REST client. Consumers receive store handles from a
// Registry instead of looking them up by name at call time.
package modules

import (
	"context"
	"fmt"

	"sitekit_datastore/internal/fetch"
	"sitekit_datastore/internal/metrics"
	"sitekit_datastore/internal/report"
	"sitekit_datastore/internal/settings"
	"sitekit_datastore/src/logger"
)

// Backend is what every store of a module reads and writes through
type Backend interface {
	settings.Backend
	report.Backend
}

// Report is the loosely typed report store used by the registry
type Report = report.Store[any]

// Module bundles the stores of one module
type Module struct {
	Slug     string
	Name     string
	Settings *settings.Store
	// Report is nil when the module has no report datapoint
	Report *Report
}

// Registry holds every module built from a set of definitions
type Registry struct {
	modules map[string]*Module
	order   []string
	status  *fetch.Status
}

// Option configures a Registry
type Option func(*registryOptions)

type registryOptions struct {
	ctx         context.Context
	metrics     *metrics.Collectors
	cache       report.Cache
	definitions []Definition
}

// WithContext sets the context background resolution runs under
func WithContext(ctx context.Context) Option {
	return func(o *registryOptions) { o.ctx = ctx }
}

// WithMetrics records fetches of every store into collectors
func WithMetrics(collectors *metrics.Collectors) Option {
	return func(o *registryOptions) { o.metrics = collectors }
}

// WithReportCache shares report responses through cache
func WithReportCache(cache report.Cache) Option {
	return func(o *registryOptions) { o.cache = cache }
}

// WithDefinitions replaces the built-in Definitions
func WithDefinitions(defs ...Definition) Option {
	return func(o *registryOptions) { o.definitions = defs }
}

// NewRegistry builds the stores of every module against client
func NewRegistry(client Backend, opts ...Option) (*Registry, error) {
	o := registryOptions{ctx: context.Background(), definitions: Definitions()}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Registry{
		modules: make(map[string]*Module, len(o.definitions)),
		status:  fetch.NewStatus(),
	}
	for _, def := range o.definitions {
		if _, dup := r.modules[def.Slug]; dup {
			r.Close()
			return nil, fmt.Errorf("module %s registered twice", def.Slug)
		}
		m, err := r.build(client, def, o)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to build module %s: %w", def.Slug, err)
		}
		r.modules[def.Slug] = m
		r.order = append(r.order, def.Slug)
	}

	logger.Debug().Int("modules", len(r.order)).Msg("module registry ready")
	return r, nil
}

func (r *Registry) build(client Backend, def Definition, o registryOptions) (*Module, error) {
	store, err := settings.New(settings.Definition{
		Type:       "modules",
		Identifier: def.Slug,
		Fields:     def.Settings,
	}, client,
		settings.WithContext(o.ctx),
		settings.WithMetrics(o.metrics),
		settings.WithStatus(r.status),
	)
	if err != nil {
		return nil, err
	}
	m := &Module{Slug: def.Slug, Name: def.Name, Settings: store}

	if def.Report != nil {
		reportOpts := []report.Option{
			report.WithContext(o.ctx),
			report.WithMetrics(o.metrics),
			report.WithStatus(r.status),
		}
		if o.cache != nil {
			reportOpts = append(reportOpts, report.WithCache(o.cache))
		}
		m.Report, err = report.New[any](*def.Report, client, reportOpts...)
		if err != nil {
			store.Close()
			return nil, err
		}
	}
	return m, nil
}

// Module returns the stores of the module with slug
func (r *Registry) Module(slug string) (*Module, error) {
	m, ok := r.modules[slug]
	if !ok {
		return nil, fmt.Errorf("unknown module %q", slug)
	}
	return m, nil
}

// Slugs returns module slugs in registration order
func (r *Registry) Slugs() []string {
	return append([]string(nil), r.order...)
}

// Status returns the fetch status shared by every store
func (r *Registry) Status() *fetch.Status {
	return r.status
}

// Close stops background resolution in every store
func (r *Registry) Close() {
	for _, m := range r.modules {
		m.Settings.Close()
		if m.Report != nil {
			m.Report.Close()
		}
	}
}
