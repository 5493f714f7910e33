// Package endpoint names the upstream vendors the gateway can talk to and
// resolves the URL each of them is reached at.
package endpoint

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Kind is the wire dialect spoken by an endpoint. The set is closed.
type Kind int

const (
	KindOpenAI Kind = iota + 1
	KindQianWen
)

const (
	OpenAI  = "OpenAI"
	QianWen = "QianWen"
)

func (k Kind) String() string {
	switch k {
	case KindOpenAI:
		return OpenAI
	case KindQianWen:
		return QianWen
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind accepts the built-in endpoint names case-insensitively.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai":
		return KindOpenAI, true
	case "qianwen", "dashscope":
		return KindQianWen, true
	}
	return 0, false
}

func (k Kind) defaultURL() string {
	switch k {
	case KindOpenAI:
		return "https://api.openai.com/v1/chat/completions"
	case KindQianWen:
		return "https://dashscope.aliyuncs.com/api/v1/services/aigc/text-generation/generation"
	}
	return ""
}

// Alias declares an extra endpoint name that speaks the dialect of Base,
// typically a self-hosted or relayed OpenAI-compatible service.
type Alias struct {
	Base    string `yaml:"base"`
	URL     string `yaml:"url"`
	Framing string `yaml:"framing"`
}

// Endpoint is a resolved upstream target.
type Endpoint struct {
	Name    string
	Kind    Kind
	URL     string
	Framing string
}

// Registry resolves endpoint names. It is safe for concurrent use and is
// replaced wholesale when configuration reloads.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]Endpoint
}

// NewRegistry builds a registry from URL overrides keyed by endpoint name
// and alias declarations.
func NewRegistry(urls map[string]string, aliases map[string]Alias) (*Registry, error) {
	r := &Registry{}
	if err := r.Reload(urls, aliases); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload recomputes every endpoint. On error the previous set stays active.
func (r *Registry) Reload(urls map[string]string, aliases map[string]Alias) error {
	override := func(name string) string {
		for k, v := range urls {
			if strings.EqualFold(k, name) && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}

	next := make(map[string]Endpoint, 2+len(aliases))
	for _, k := range []Kind{KindOpenAI, KindQianWen} {
		url := override(k.String())
		if url == "" {
			url = k.defaultURL()
		}
		next[strings.ToLower(k.String())] = Endpoint{Name: k.String(), Kind: k, URL: url}
	}
	for name, a := range aliases {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return fmt.Errorf("endpoint: alias with empty name")
		}
		if _, builtin := ParseKind(name); builtin {
			return fmt.Errorf("endpoint: alias %q shadows a built-in endpoint", name)
		}
		kind, ok := ParseKind(a.Base)
		if !ok {
			return fmt.Errorf("endpoint: alias %q has unknown base %q", name, a.Base)
		}
		url := firstNonEmpty(override(name), a.URL, kind.defaultURL())
		next[key] = Endpoint{Name: name, Kind: kind, URL: url, Framing: a.Framing}
	}

	r.mu.Lock()
	r.endpoints = next
	r.mu.Unlock()
	return nil
}

// Resolve looks up an endpoint by name, ignoring case.
func (r *Registry) Resolve(name string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[strings.ToLower(strings.TrimSpace(name))]
	return ep, ok
}

// Names returns every known endpoint name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		names = append(names, ep.Name)
	}
	sort.Strings(names)
	return names
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
