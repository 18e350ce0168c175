package registry

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pluginmind/pluginmind/engine/core"
	"github.com/pluginmind/pluginmind/pkg/logger"
)

// Well-known service types. Analysis-type tags (document, chat, ...) are also
// valid service types.
const (
	TypePromptOptimizer = "prompt_optimizer"
	TypeAnalyzer        = "analyzer"
)

// Descriptor is the registry entry metadata for a plugin. Capabilities and
// service types are immutable for the life of the descriptor; Available is
// derived from the most recent health probe.
type Descriptor struct {
	ID           string   `json:"id"`
	Provider     string   `json:"provider"`
	Model        string   `json:"model"`
	Capabilities []string `json:"capabilities"`
	ServiceTypes []string `json:"service_types"`
	Priority     int      `json:"priority"`
	Available    bool     `json:"available"`
}

// HasServiceType reports whether the descriptor serves the given type.
func (d Descriptor) HasServiceType(serviceType string) bool {
	return slices.Contains(d.ServiceTypes, serviceType)
}

// HasCapability reports whether the descriptor advertises the capability.
func (d Descriptor) HasCapability(capability string) bool {
	return slices.Contains(d.Capabilities, capability)
}

func (d Descriptor) equalIgnoringAvailability(other Descriptor) bool {
	return d.ID == other.ID &&
		d.Provider == other.Provider &&
		d.Model == other.Model &&
		d.Priority == other.Priority &&
		equalSets(d.Capabilities, other.Capabilities) &&
		equalSets(d.ServiceTypes, other.ServiceTypes)
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := slices.Clone(a)
	bs := slices.Clone(b)
	sort.Strings(as)
	sort.Strings(bs)
	return slices.Equal(as, bs)
}

// InvokeOptions carries per-call parameters into a plugin.
type InvokeOptions struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// Usage is the token accounting reported by a provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the parsed provider response for a single invocation.
type Result struct {
	Content string
	Usage   Usage
}

// Service is the capability set every provider plugin implements.
type Service interface {
	Invoke(ctx context.Context, prompt string, opts InvokeOptions) (*Result, error)
	Health(ctx context.Context) bool
	Capabilities() []string
	Metadata() Descriptor
}

// Candidate pairs a plugin with its descriptor snapshot at selection time.
type Candidate struct {
	Service    Service
	Descriptor Descriptor
}

type entry struct {
	descriptor Descriptor
	service    Service
}

// Registry is the process-wide directory of AI service plugins. Read-mostly:
// selection takes a read lock, registration and health updates take the
// write lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty registry. Tests obtain a fresh instance per case; the
// server builds exactly one at startup.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a plugin under a unique id. Re-registering the same id is
// idempotent when the descriptors match; a conflicting descriptor fails with
// REGISTRY_CONFLICT.
func (r *Registry) Register(id string, service Service, descriptor Descriptor) error {
	if id == "" {
		return core.NewError(core.CodeRegistryConflict, "service id must not be empty")
	}
	if service == nil {
		return core.NewError(core.CodeRegistryConflict, "service must not be nil")
	}
	descriptor.ID = id
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[id]; ok {
		if !existing.descriptor.equalIgnoringAvailability(descriptor) {
			return core.NewError(core.CodeRegistryConflict,
				fmt.Sprintf("service %q already registered with a different descriptor", id))
		}
	}
	r.entries[id] = &entry{descriptor: descriptor, service: service}
	return nil
}

// Unregister removes a plugin, reporting whether it was present.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	delete(r.entries, id)
	return ok
}

// List returns descriptor snapshots ordered by priority ascending, then id.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.descriptor)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SelectAll returns the ordered candidate list for a service type: available
// plugins filtered by the preferred capability when any match, tie-broken by
// priority then id. When every candidate is unavailable the full list is
// returned so the caller can still attempt the best one.
func (r *Registry) SelectAll(serviceType, preferredCapability string) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pool []Candidate
	for _, e := range r.entries {
		if e.descriptor.HasServiceType(serviceType) {
			pool = append(pool, Candidate{Service: e.service, Descriptor: e.descriptor})
		}
	}
	if len(pool) == 0 {
		return nil
	}

	available := filterCandidates(pool, func(c Candidate) bool { return c.Descriptor.Available })
	if len(available) > 0 {
		pool = available
	}
	if preferredCapability != "" {
		withCapability := filterCandidates(pool, func(c Candidate) bool {
			return c.Descriptor.HasCapability(preferredCapability)
		})
		if len(withCapability) > 0 {
			pool = withCapability
		}
	}

	sort.Slice(pool, func(i, j int) bool {
		if pool[i].Descriptor.Priority != pool[j].Descriptor.Priority {
			return pool[i].Descriptor.Priority < pool[j].Descriptor.Priority
		}
		return pool[i].Descriptor.ID < pool[j].Descriptor.ID
	})
	return pool
}

// Select returns the preferred candidate for a service type, or
// NO_SERVICE_AVAILABLE when the registry holds nothing for it.
func (r *Registry) Select(serviceType, preferredCapability string) (Candidate, error) {
	candidates := r.SelectAll(serviceType, preferredCapability)
	if len(candidates) == 0 {
		return Candidate{}, core.NewError(core.CodeNoServiceAvailable,
			fmt.Sprintf("no service registered for type %q", serviceType))
	}
	return candidates[0], nil
}

// HealthCheckAll probes every registered plugin concurrently with a bounded
// per-probe timeout, updates availability flags, and returns the results.
// The call returns only when every probe has completed or timed out.
func (r *Registry) HealthCheckAll(ctx context.Context, probeTimeout time.Duration) map[string]bool {
	r.mu.RLock()
	services := make(map[string]Service, len(r.entries))
	for id, e := range r.entries {
		services[id] = e.service
	}
	r.mu.RUnlock()

	var resultsMu sync.Mutex
	results := make(map[string]bool, len(services))
	g, gctx := errgroup.WithContext(ctx)
	for id, svc := range services {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, probeTimeout)
			defer cancel()
			healthy := svc.Health(probeCtx)
			resultsMu.Lock()
			results[id] = healthy
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	for id, healthy := range results {
		if e, ok := r.entries[id]; ok {
			e.descriptor.Available = healthy
		}
	}
	// Anything missing from this probe window counts as unavailable.
	for id, e := range r.entries {
		if _, probed := results[id]; !probed {
			e.descriptor.Available = false
		}
	}
	r.mu.Unlock()

	log := logger.FromContext(ctx)
	var unhealthy []string
	for id, healthy := range results {
		if !healthy {
			unhealthy = append(unhealthy, id)
		}
	}
	if len(unhealthy) > 0 {
		sort.Strings(unhealthy)
		log.Warn("Health probe found unhealthy services", "services", strings.Join(unhealthy, ","))
	}
	return results
}

// HasHealthyService reports whether at least one available plugin serves the
// given type.
func (r *Registry) HasHealthyService(serviceType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.descriptor.Available && e.descriptor.HasServiceType(serviceType) {
			return true
		}
	}
	return false
}

// MarkAvailability sets the availability flag for a single plugin.
func (r *Registry) MarkAvailability(id string, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.descriptor.Available = available
	}
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func filterCandidates(in []Candidate, keep func(Candidate) bool) []Candidate {
	var out []Candidate
	for _, c := range in {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}
