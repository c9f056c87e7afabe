package config

import (
	"errors"
	"fmt"
)

// Config is the root configuration consumed at load time. Each entry in
// Filters is one independently-loaded external authorization filter
// configuration block; Routes carry the per-route override fragments.
type Config struct {
	// Filters are the external authorization filter configuration blocks.
	Filters []*ExtAuthzConfig `yaml:"filters" json:"filters"`

	// Routes are per-route override fragments, looked up by name.
	Routes []RouteConfig `yaml:"routes,omitempty" json:"routes,omitempty"`
}

// RouteConfig binds a per-route override fragment to a route name.
type RouteConfig struct {
	// Name is the route key.
	Name string `yaml:"name" json:"name"`

	// ExtAuthz is the per-route override fragment.
	ExtAuthz *RouteExtAuthzConfig `yaml:"extAuthz,omitempty" json:"extAuthz,omitempty"`
}

// Validate validates the root configuration.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if len(c.Filters) == 0 {
		return errors.New("at least one filter configuration block is required")
	}
	for i, f := range c.Filters {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("filters[%d]: %w", i, err)
		}
	}
	seen := make(map[string]bool, len(c.Routes))
	for i, r := range c.Routes {
		if r.Name == "" {
			return fmt.Errorf("routes[%d]: name is required", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("routes[%d]: duplicate route name %q", i, r.Name)
		}
		seen[r.Name] = true
		if r.ExtAuthz != nil {
			if err := r.ExtAuthz.Validate(); err != nil {
				return fmt.Errorf("routes[%d]: extAuthz: %w", i, err)
			}
		}
	}
	return nil
}
