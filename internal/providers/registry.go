package providers

import (
	"fmt"
	"sort"
)

// Provider name constants. The set is closed; unknown names are rejected at
// registry lookup.
const (
	Strava = "strava"
	Fitbit = "fitbit"
	Garmin = "garmin"
	Whoop  = "whoop"
	Terra  = "terra"
)

// ErrUnknownProvider is returned for names outside the supported set or for
// providers without configured credentials.
type ErrUnknownProvider struct {
	Name string
}

func (e *ErrUnknownProvider) Error() string {
	return fmt.Sprintf("unknown or unconfigured provider: %s", e.Name)
}

// Registry holds the configured provider adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from per-provider credentials. Providers
// without credentials are simply not registered; callers get
// ErrUnknownProvider instead of half-configured adapters.
func NewRegistry(creds map[string]Credentials) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}

	constructors := map[string]func(Credentials) Adapter{
		Strava: NewStrava,
		Fitbit: NewFitbit,
		Garmin: NewGarmin,
		Whoop:  NewWhoop,
		Terra:  NewTerra,
	}

	for name, build := range constructors {
		c, ok := creds[name]
		if !ok || c.ClientID == "" || c.ClientSecret == "" {
			continue
		}
		r.adapters[name] = build(c)
	}

	return r
}

// Get returns the adapter for a provider name.
func (r *Registry) Get(name string) (Adapter, error) {
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, &ErrUnknownProvider{Name: name}
	}
	return adapter, nil
}

// Names returns the configured provider names, sorted for stable output.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register adds or replaces an adapter. Used by tests to install fakes.
func (r *Registry) Register(adapter Adapter) {
	r.adapters[adapter.Name()] = adapter
}
