package action

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noop(_ context.Context, _ *Data, next Next) { next(nil) }

func def(name string, version float64) *Definition {
	return &Definition{
		Name:          name,
		Description:   "test action " + name,
		Version:       version,
		OutputExample: map[string]any{},
		Run:           noop,
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry(discardLogger())
	require.NoError(t, r.Register(def("status", 1)))
	require.NoError(t, r.Register(def("status", 2.5)))
	require.NoError(t, r.Register(def("status", 2)))

	tests := []struct {
		name    string
		action  string
		version float64
		want    float64
		found   bool
	}{
		{"latest when version omitted", "status", 0, 2.5, true},
		{"exact version", "status", 2, 2, true},
		{"unknown version", "status", 3, 0, false},
		{"unknown name", "missing", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := r.Resolve(tt.action, tt.version)
			require.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, d.Version)
			}
		})
	}

	assert.Equal(t, []float64{1, 2, 2.5}, r.Versions("status"))
}

func TestRegistryDefaultsVersion(t *testing.T) {
	r := NewRegistry(discardLogger())
	require.NoError(t, r.Register(def("randomNumber", 0)))

	d, ok := r.Resolve("randomNumber", DefaultVersion)
	require.True(t, ok)
	assert.Equal(t, DefaultVersion, d.Version)
}

func TestRegistryRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Definition)
	}{
		{"no name", func(d *Definition) { d.Name = "" }},
		{"no description", func(d *Definition) { d.Description = " " }},
		{"no run", func(d *Definition) { d.Run = nil }},
		{"no output example", func(d *Definition) { d.OutputExample = nil }},
		{"negative version", func(d *Definition) { d.Version = -1 }},
		{"empty input", func(d *Definition) { d.Inputs.Required = []string{""} }},
		{"input declared twice", func(d *Definition) {
			d.Inputs.Required = []string{"key"}
			d.Inputs.Optional = []string{"key"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(discardLogger())
			d := def("broken", 1)
			tt.mutate(d)

			err := r.Register(d)
			require.ErrorIs(t, err, ErrInvalidDefinition)
			assert.Equal(t, 0, r.Len(), "invalid definitions are never registered")
		})
	}

	t.Run("nil", func(t *testing.T) {
		r := NewRegistry(discardLogger())
		assert.ErrorIs(t, r.Register(nil), ErrInvalidDefinition)
	})
}

func TestRegistryStoresACopy(t *testing.T) {
	r := NewRegistry(discardLogger())
	d := def("copy", 1)
	d.Inputs.Required = []string{"a"}
	require.NoError(t, r.Register(d))

	d.Inputs.Required[0] = "mutated"
	d.Description = "mutated"

	got, ok := r.Resolve("copy", 0)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, got.Inputs.Required)
	assert.Equal(t, "test action copy", got.Description)
}

func TestRegistryHotReload(t *testing.T) {
	r := NewRegistry(discardLogger())
	first := def("reload", 1)
	first.Description = "first"
	require.NoError(t, r.Register(first))

	held, _ := r.Resolve("reload", 1)

	second := def("reload", 1)
	second.Description = "second"
	require.NoError(t, r.Register(second))

	now, _ := r.Resolve("reload", 1)
	assert.Equal(t, "second", now.Description)
	assert.Equal(t, "first", held.Description, "resolved definitions are immutable")
	assert.Equal(t, []float64{1}, r.Versions("reload"))
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry(discardLogger())
	require.NoError(t, r.Register(def("a", 1)))
	require.NoError(t, r.Register(def("a", 2)))

	assert.True(t, r.Unregister("a", 2))
	assert.False(t, r.Unregister("a", 2))

	d, ok := r.Resolve("a", 0)
	require.True(t, ok)
	assert.Equal(t, 1.0, d.Version)

	assert.True(t, r.Unregister("a", 1))
	_, ok = r.Resolve("a", 0)
	assert.False(t, ok)
	assert.Nil(t, r.Versions("a"))
}

func TestRegistryDefinitionsOrder(t *testing.T) {
	r := NewRegistry(discardLogger())
	require.NoError(t, r.Register(def("b", 2)))
	require.NoError(t, r.Register(def("a", 1)))
	require.NoError(t, r.Register(def("b", 1)))

	var got []string
	for _, d := range r.Definitions() {
		got = append(got, d.Name)
	}
	assert.Equal(t, []string{"a", "b", "b"}, got)
	assert.Equal(t, 2, r.Len())
}

func TestRegistryDocumentation(t *testing.T) {
	r := NewRegistry(discardLogger())
	d := def("status", 1)
	d.Inputs.Required = []string{"id"}
	require.NoError(t, r.Register(d))
	require.NoError(t, r.Register(def("status", 2.5)))

	docs := r.Documentation()
	require.Len(t, docs, 1)
	require.Contains(t, docs["status"], "1")
	require.Contains(t, docs["status"], "2.5")
	assert.Equal(t, []string{"id"}, docs["status"]["1"].Inputs.Required)
	assert.Equal(t, []string{}, docs["status"]["2.5"].Inputs.Optional)
}

func TestRegistryConcurrentReadWrite(t *testing.T) {
	r := NewRegistry(discardLogger())
	require.NoError(t, r.Register(def("hot", 1)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = r.Register(def("hot", 1))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				d, ok := r.Resolve("hot", 0)
				if assert.True(t, ok) {
					assert.NotNil(t, d.Run)
				}
			}
		}()
	}
	wg.Wait()
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{2.0, 2, true},
		{3, 3, true},
		{"1.5", 1.5, true},
		{"", 0, false},
		{"abc", 0, false},
		{-1.0, -1, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseVersion(tt.in)
		assert.Equal(t, tt.ok, ok, "input %v", tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestPresent(t *testing.T) {
	assert.False(t, Present(nil))
	assert.False(t, Present(""))
	assert.False(t, Present("   "))
	assert.True(t, Present("x"))
	assert.True(t, Present(0))
	assert.True(t, Present(false))
}
