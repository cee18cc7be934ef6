package language

import (
	"sort"
	"strings"
	"sync"
	"time"

	"playground-engine/internal/errors"
)

// Runtime names the kind of boundary that executes a language.
type Runtime string

const (
	RuntimeGoja      Runtime = "goja"
	RuntimeLua       Runtime = "lua"
	RuntimeSimulated Runtime = "simulated"
	RuntimeContainer Runtime = "container"
)

// Isolation tells callers what guarantee a language's runs carry.
type Isolation string

const (
	// Isolated runs execute in a boundary that can be torn down and that
	// has no ambient network or file access.
	Isolated Isolation = "isolated"
	// Simulated runs never evaluate the source; output is pattern-matched.
	Simulated Isolation = "simulated"
)

// Spec describes how one language is executed.
type Spec struct {
	Name          string        `json:"name"`
	Aliases       []string      `json:"aliases,omitempty"`
	Runtime       Runtime       `json:"runtime"`
	Isolation     Isolation     `json:"isolation"`
	Timeout       time.Duration `json:"-"`
	TimeoutMs     int64         `json:"timeoutMs"`
	MemoryLimitMB int64         `json:"memoryLimitMb"`

	// Container runtime only.
	Image      string   `json:"image,omitempty"`
	FileName   string   `json:"-"`
	CompileCmd []string `json:"-"`
	RunCommand []string `json:"-"`
}

// IsSimulated reports whether runs of this language are simulated.
func (s Spec) IsSimulated() bool {
	return s.Isolation == Simulated
}

// Registry maps language names and aliases to specs. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	specs   map[string]Spec
	aliases map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		specs:   map[string]Spec{},
		aliases: map[string]string{},
	}
}

// Register adds or replaces a spec.
func (r *Registry) Register(spec Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()

	spec.Name = normalize(spec.Name)
	spec.TimeoutMs = spec.Timeout.Milliseconds()
	r.specs[spec.Name] = spec
	for _, alias := range spec.Aliases {
		r.aliases[normalize(alias)] = spec.Name
	}
}

// Resolve looks a language up by name or alias.
func (r *Registry) Resolve(name string) (Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := normalize(name)
	if canonical, ok := r.aliases[key]; ok {
		key = canonical
	}
	spec, ok := r.specs[key]
	if !ok {
		return Spec{}, errors.Wrapf(errors.ErrUnsupportedLanguage, "%s", name)
	}
	return spec, nil
}

// All returns every registered spec sorted by name.
func (r *Registry) All() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]Spec, 0, len(r.specs))
	for _, spec := range r.specs {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// WithTimeout overrides the default timeout of a registered language.
// Zero durations are ignored.
func (r *Registry) WithTimeout(name string, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	spec, err := r.Resolve(name)
	if err != nil {
		return
	}
	spec.Timeout = timeout
	r.Register(spec)
}

var builtin = NewRegistry()

// Register adds a spec to the built-in set.
func Register(spec Spec) {
	builtin.Register(spec)
}

// Resolve looks a language up in the built-in set.
func Resolve(name string) (Spec, error) {
	return builtin.Resolve(name)
}

// AllSpecs returns the built-in set.
func AllSpecs() []Spec {
	return builtin.All()
}

// Default returns a copy of the built-in set that can be modified without
// affecting other engines.
func Default() *Registry {
	r := NewRegistry()
	for _, spec := range builtin.All() {
		r.Register(spec)
	}
	return r
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
