package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names[T any](entries []Entry[T]) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func TestChainOrdering(t *testing.T) {
	tests := []struct {
		name  string
		adds  []Entry[int]
		order []string
	}{
		{
			name:  "ascending priority",
			adds:  []Entry[int]{{Name: "c", Priority: 30}, {Name: "a", Priority: 10}, {Name: "b", Priority: 20}},
			order: []string{"a", "b", "c"},
		},
		{
			name:  "ties keep insertion order",
			adds:  []Entry[int]{{Name: "first", Priority: 100}, {Name: "second", Priority: 100}, {Name: "early", Priority: 1}, {Name: "third", Priority: 100}},
			order: []string{"early", "first", "second", "third"},
		},
		{
			name:  "negative priorities",
			adds:  []Entry[int]{{Name: "zero", Priority: 0}, {Name: "minus", Priority: -5}},
			order: []string{"minus", "zero"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChain[int]()
			for _, e := range tt.adds {
				require.NoError(t, c.Add(e.Name, e.Priority, e.Handler))
			}
			assert.Equal(t, tt.order, names(c.Entries()))
		})
	}
}

func TestChainRejects(t *testing.T) {
	c := NewChain[func()]()

	assert.ErrorIs(t, c.Add("", 1, nil), ErrEmptyName)
	require.NoError(t, c.Add("x", 1, nil))
	assert.ErrorIs(t, c.Add("x", 2, nil), ErrDuplicateName)
	assert.Equal(t, 1, c.Len())
}

func TestChainRemove(t *testing.T) {
	c := NewChain[int]()
	require.NoError(t, c.Add("a", 1, 0))
	require.NoError(t, c.Add("b", 1, 0))

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
	assert.Equal(t, []string{"b"}, names(c.Entries()))
}

func TestChainEntriesIsACopy(t *testing.T) {
	c := NewChain[int]()
	require.NoError(t, c.Add("a", 1, 1))

	snap := c.Entries()
	require.NoError(t, c.Add("b", 0, 2))

	assert.Len(t, snap, 1)
	assert.Equal(t, 2, c.Len())
}
