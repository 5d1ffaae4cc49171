package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Mobizinc/changegate/internal/types"
)

// Default timeout budgets. The per-fetch timeout is strictly shorter than
// the overall deadline so one hung call cannot consume the whole budget.
const (
	DefaultFetchTimeout   = 8 * time.Second
	DefaultOverallTimeout = 25 * time.Second
)

// Config wires a Collector.
type Config struct {
	Client         RecordFetcher
	Registry       *Registry
	FetchTimeout   time.Duration
	OverallTimeout time.Duration
	TargetInstance string
	StaleAfterDays int
	Logger         *slog.Logger
}

// Collector produces a fully-populated FactBundle for one change. It never
// returns an error: every failure degrades to a collection-error entry and
// fail-safe false checks.
type Collector struct {
	client         RecordFetcher
	registry       *Registry
	fetchTimeout   time.Duration
	overallTimeout time.Duration
	targetInstance string
	staleAfterDays int
	logger         *slog.Logger
}

// New creates a Collector, applying defaults for unset budgets.
func New(cfg Config) *Collector {
	c := &Collector{
		client:         cfg.Client,
		registry:       cfg.Registry,
		fetchTimeout:   cfg.FetchTimeout,
		overallTimeout: cfg.OverallTimeout,
		targetInstance: cfg.TargetInstance,
		staleAfterDays: cfg.StaleAfterDays,
		logger:         cfg.Logger,
	}
	if c.registry == nil {
		c.registry = NewRegistry()
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = DefaultFetchTimeout
	}
	if c.overallTimeout <= 0 {
		c.overallTimeout = DefaultOverallTimeout
	}
	if c.fetchTimeout >= c.overallTimeout {
		c.fetchTimeout = c.overallTimeout / 2
	}
	if c.staleAfterDays <= 0 {
		c.staleAfterDays = DefaultStaleAfterDays
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Registry exposes the routing table so callers can register additional
// component types.
func (c *Collector) Registry() *Registry {
	return c.registry
}

// Collect gathers environment health, change context, and component facts
// concurrently under the overall deadline. The returned bundle is always
// fully shaped: Checks contains every declared check for the component type
// (false unless proven true) and CollectionErrors lists everything that went
// wrong along the way.
func (c *Collector) Collect(ctx context.Context, req *types.ValidationRequest) *types.FactBundle {
	ctx, cancel := context.WithTimeout(ctx, c.overallTimeout)
	defer cancel()

	bundle := &types.FactBundle{
		ComponentType:    req.ComponentType,
		ComponentID:      req.ComponentID,
		CollectionErrors: []string{},
		Checks:           map[string]bool{},
	}

	var mu sync.Mutex
	addError := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		bundle.CollectionErrors = append(bundle.CollectionErrors, fmt.Sprintf(format, args...))
	}

	def, known := c.registry.Lookup(req.ComponentType)
	if !known {
		// Unknown component types still get environment and change context;
		// the empty check set makes the rules fallback emit WARNING.
		addError("unrecognized component type %q", req.ComponentType)
	} else {
		bundle.Checks = def.ZeroChecks()
	}

	var facts *types.ComponentFacts

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		env, err := fetchWithTimeout(gctx, c.fetchTimeout, func(fctx context.Context) (*types.EnvironmentHealth, error) {
			return fetchEnvironmentHealth(fctx, c.client, c.targetInstance, c.staleAfterDays)
		})
		if err != nil {
			addError("environment health unavailable: %v", err)
			return nil
		}
		mu.Lock()
		bundle.EnvironmentHealth = env
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		cc, err := fetchWithTimeout(gctx, c.fetchTimeout, func(fctx context.Context) (*types.ChangeContext, error) {
			return c.fetchChangeContext(fctx, req.ChangeID)
		})
		if err != nil {
			addError("change context unavailable: %v", err)
			return nil
		}
		mu.Lock()
		bundle.ChangeContext = cc
		mu.Unlock()
		return nil
	})

	if known {
		g.Go(func() error {
			f, err := fetchWithTimeout(gctx, c.fetchTimeout, func(fctx context.Context) (*types.ComponentFacts, error) {
				return def.Fetch(fctx, c.client, req.ComponentID)
			})
			if err != nil {
				addError("%s record unavailable: %v", req.ComponentType, err)
				return nil
			}
			if f == nil {
				addError("%s record %q not found", req.ComponentType, req.ComponentID)
				return nil
			}
			mu.Lock()
			facts = f
			mu.Unlock()
			return nil
		})
	}

	// Goroutines swallow their own errors, so Wait only reflects the deadline.
	_ = g.Wait()

	if facts != nil {
		bundle.ComponentFacts = facts
		for name, passed := range def.Derive(facts) {
			bundle.Checks[name] = passed
		}
	}

	if len(bundle.CollectionErrors) > 0 {
		c.logger.Warn("fact collection degraded",
			"change_id", req.ChangeID,
			"component_type", req.ComponentType,
			"errors", bundle.CollectionErrors)
	}
	return bundle
}

// fetchWithTimeout runs one fetch under the per-call timeout.
func fetchWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(fctx)
}

func (c *Collector) fetchChangeContext(ctx context.Context, changeSysID string) (*types.ChangeContext, error) {
	rec, err := c.client.GetRecord(ctx, "change_request", changeSysID,
		[]string{"sys_id", "number", "short_description", "state", "assigned_to", "start_date", "end_date"})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("change request %q not found", changeSysID)
	}
	return &types.ChangeContext{
		SysID:            rec.GetString("sys_id"),
		Number:           rec.GetString("number"),
		ShortDescription: rec.GetString("short_description"),
		State:            rec.GetString("state"),
		AssignedTo:       rec.GetString("assigned_to"),
		PlannedStart:     rec.GetString("start_date"),
		PlannedEnd:       rec.GetString("end_date"),
	}, nil
}
