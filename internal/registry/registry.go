// Package registry composes the exposed tool set from the core operations
// and the enabled capability providers. Composition runs once at startup
// and its result is immutable.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"remote-exec-mcp/internal/config"
)

// coreOwner marks tools owned by the always-present core set.
const coreOwner = "core"

// Provider declares an optional capability: the tools it contributes and
// the tool names it suppresses when active.
type Provider struct {
	Name       string
	Enabled    bool
	Tools      []string
	Suppresses []string
}

// ExposedToolSet is the immutable set of operation names the server
// registers. Each name appears at most once.
type ExposedToolSet struct {
	names map[string]struct{}
}

// Has reports whether a tool name is exposed.
func (s ExposedToolSet) Has(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Names returns the exposed names in sorted order.
func (s ExposedToolSet) Names() []string {
	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Compose builds the exposed set: the core tools, unioned with every
// enabled provider's tools, minus the union of all enabled providers'
// suppression rules. Suppression is pure set difference applied once after
// all unions, so the result is identical for any provider order.
//
// If any tool name is still claimed by more than one owner after
// suppression, composition fails: ambiguous ownership is never resolved by
// silent precedence.
func Compose(core []string, providers []Provider) (ExposedToolSet, error) {
	claims := make(map[string][]string)
	for _, name := range core {
		claims[name] = append(claims[name], coreOwner)
	}

	suppressed := make(map[string]struct{})
	for _, p := range providers {
		if !p.Enabled {
			continue
		}
		for _, name := range p.Tools {
			claims[name] = append(claims[name], p.Name)
		}
		for _, name := range p.Suppresses {
			suppressed[name] = struct{}{}
		}
	}

	exposed := make(map[string]struct{})
	var conflicts []string
	for name, owners := range claims {
		if _, ok := suppressed[name]; ok {
			continue
		}
		if len(owners) > 1 {
			sort.Strings(owners)
			conflicts = append(conflicts, fmt.Sprintf("%s (claimed by %s)", name, strings.Join(owners, ", ")))
			continue
		}
		exposed[name] = struct{}{}
	}

	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return ExposedToolSet{}, fmt.Errorf("%w: ambiguous tool ownership: %s",
			config.ErrConfiguration, strings.Join(conflicts, "; "))
	}
	return ExposedToolSet{names: exposed}, nil
}
