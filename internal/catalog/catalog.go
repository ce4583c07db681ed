// Package catalog holds the static service catalog: prices, session
// durations, system prompts, provider preferences and guided-session scripts.
package catalog

import (
	"slices"
	"sort"
	"time"
)

// Provider names accepted in Service.Providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Step is one message of a guided session. A step carries canned Text or an
// LLM Prompt, and optionally an AudioURL played alongside it.
type Step struct {
	Text     string `yaml:"text" json:"text,omitempty"`
	Prompt   string `yaml:"prompt" json:"prompt,omitempty"`
	AudioURL string `yaml:"audio_url" json:"audio_url,omitempty"`
}

// Service is an immutable catalog entry.
type Service struct {
	ID                 string        `yaml:"id"`
	Name               string        `yaml:"name"`
	PriceCents         int64         `yaml:"price_cents"`
	Currency           string        `yaml:"currency"`
	Duration           time.Duration `yaml:"duration"`
	Prompt             string        `yaml:"prompt"`
	Providers          []string      `yaml:"providers"`
	Steps              []Step        `yaml:"steps"`
	CreditsPerPurchase int           `yaml:"credits_per_purchase"`
}

// Registry is the read-only view of the catalog handed to components.
type Registry interface {
	// Get returns the service with the given id.
	Get(id string) (Service, bool)
	// List returns all services ordered by price, then id.
	List() []Service
	// IDs returns every service id in List order.
	IDs() []string
}

type staticRegistry struct {
	byID  map[string]Service
	order []string
}

// NewStaticRegistry returns a Registry over a deep copy of services.
// Later entries with a duplicate id replace earlier ones.
func NewStaticRegistry(services []Service) Registry {
	r := &staticRegistry{byID: make(map[string]Service, len(services))}
	for _, s := range services {
		r.byID[s.ID] = cloneService(s)
	}
	for id := range r.byID {
		r.order = append(r.order, id)
	}
	sort.Slice(r.order, func(i, j int) bool {
		a, b := r.byID[r.order[i]], r.byID[r.order[j]]
		if a.PriceCents != b.PriceCents {
			return a.PriceCents < b.PriceCents
		}
		return a.ID < b.ID
	})
	return r
}

func (r *staticRegistry) Get(id string) (Service, bool) {
	s, ok := r.byID[id]
	if !ok {
		return Service{}, false
	}
	return cloneService(s), true
}

func (r *staticRegistry) List() []Service {
	out := make([]Service, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, cloneService(r.byID[id]))
	}
	return out
}

func (r *staticRegistry) IDs() []string {
	return slices.Clone(r.order)
}

func cloneService(s Service) Service {
	s.Providers = slices.Clone(s.Providers)
	s.Steps = slices.Clone(s.Steps)
	return s
}
