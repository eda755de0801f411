package action

import (
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Registry resolves actions by name and version.
//
// Readers never lock: every write builds a new catalog and swaps it in, so a
// dispatch sees either the old definition or the new one, never a mix.
type Registry struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[catalog]
	logger  *slog.Logger
}

type catalog struct {
	defs     map[string]map[float64]*Definition
	versions map[string][]float64 // ascending
}

func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{logger: logger}
	r.current.Store(&catalog{
		defs:     make(map[string]map[float64]*Definition),
		versions: make(map[string][]float64),
	})
	return r
}

// Register validates def and stores a private copy under [name][version].
// Registering an existing name/version replaces it (hot reload).
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return Validate(nil)
	}
	d := def.clone()
	if err := Validate(d); err != nil {
		r.logger.Error("ACTION_REJECTED", "action", d.Name, "err", err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	next := &catalog{
		defs:     maps.Clone(cur.defs),
		versions: maps.Clone(cur.versions),
	}

	byVersion := maps.Clone(cur.defs[d.Name])
	if byVersion == nil {
		byVersion = make(map[float64]*Definition)
	}
	_, replaced := byVersion[d.Version]
	byVersion[d.Version] = d
	next.defs[d.Name] = byVersion

	versions := slices.Collect(maps.Keys(byVersion))
	slices.Sort(versions)
	next.versions[d.Name] = versions

	r.current.Store(next)

	r.logger.Debug("ACTION_REGISTERED", "action", d.Name, "version", d.Version, "replaced", replaced)
	return nil
}

// Unregister removes one version; false if it was not registered.
func (r *Registry) Unregister(name string, version float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	if _, ok := cur.defs[name][version]; !ok {
		return false
	}

	next := &catalog{
		defs:     maps.Clone(cur.defs),
		versions: maps.Clone(cur.versions),
	}
	byVersion := maps.Clone(cur.defs[name])
	delete(byVersion, version)

	if len(byVersion) == 0 {
		delete(next.defs, name)
		delete(next.versions, name)
	} else {
		next.defs[name] = byVersion
		next.versions[name] = slices.DeleteFunc(slices.Clone(cur.versions[name]), func(v float64) bool { return v == version })
	}

	r.current.Store(next)
	return true
}

// Resolve finds a definition. A version <= 0 selects the highest registered one.
func (r *Registry) Resolve(name string, version float64) (*Definition, bool) {
	cat := r.current.Load()

	byVersion, ok := cat.defs[name]
	if !ok {
		return nil, false
	}
	if version <= 0 {
		versions := cat.versions[name]
		version = versions[len(versions)-1]
	}

	d, ok := byVersion[version]
	return d, ok
}

// Versions returns the registered versions of name in ascending order.
func (r *Registry) Versions(name string) []float64 {
	return slices.Clone(r.current.Load().versions[name])
}

// Definitions lists every registered definition ordered by name, then version.
func (r *Registry) Definitions() []*Definition {
	cat := r.current.Load()

	names := slices.Collect(maps.Keys(cat.defs))
	slices.SortFunc(names, strings.Compare)

	out := make([]*Definition, 0, len(names))
	for _, name := range names {
		for _, v := range cat.versions[name] {
			out = append(out, cat.defs[name][v])
		}
	}
	return out
}

// Len is the number of distinct action names.
func (r *Registry) Len() int {
	return len(r.current.Load().defs)
}

// Doc is the public description of one action version.
type Doc struct {
	Name                   string         `json:"name"`
	Description            string         `json:"description"`
	Version                float64        `json:"version"`
	Inputs                 DocInputs      `json:"inputs"`
	OutputExample          map[string]any `json:"outputExample"`
	BlockedConnectionTypes []string       `json:"blockedConnectionTypes,omitempty"`
}

type DocInputs struct {
	Required []string `json:"required"`
	Optional []string `json:"optional"`
}

// Documentation groups every definition by name, then by formatted version.
func (r *Registry) Documentation() map[string]map[string]Doc {
	out := make(map[string]map[string]Doc)
	for _, d := range r.Definitions() {
		byVersion, ok := out[d.Name]
		if !ok {
			byVersion = make(map[string]Doc)
			out[d.Name] = byVersion
		}
		byVersion[strconv.FormatFloat(d.Version, 'f', -1, 64)] = Doc{
			Name:        d.Name,
			Description: d.Description,
			Version:     d.Version,
			Inputs: DocInputs{
				Required: nonNil(d.Inputs.Required),
				Optional: nonNil(d.Inputs.Optional),
			},
			OutputExample:          d.OutputExample,
			BlockedConnectionTypes: d.BlockedConnectionTypes,
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}
