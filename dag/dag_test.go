package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphOrderFollowsEdges(t *testing.T) {
	g := New()
	for _, name := range []string{"validate", "payment", "enrollment"} {
		_, err := g.AddNamed(name, name)
		require.NoError(t, err)
	}
	require.NoError(t, g.Link("payment", "enrollment", "payment_id"))

	order, err := g.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"validate", "payment", "enrollment"}, order)
	assert.Equal(t, []string{"payment"}, g.Predecessors("enrollment"))
	assert.Empty(t, g.Predecessors("validate"))
}

func TestGraphRejectsDuplicatesAndUnknownNodes(t *testing.T) {
	g := New()
	_, err := g.AddNamed("a", "A")
	require.NoError(t, err)

	_, err = g.AddNamed("a", "again")
	assert.Error(t, err)
	assert.Error(t, g.Link("a", "missing", ""))
	assert.Error(t, g.Link("a", "a", ""))
}

func TestGraphDetectsCycle(t *testing.T) {
	g := New()
	_, _ = g.AddNamed("a", "A")
	_, _ = g.AddNamed("b", "B")
	require.NoError(t, g.Link("a", "b", ""))
	require.NoError(t, g.Link("b", "a", ""))

	_, err := g.Order()
	assert.Error(t, err)
}

func TestExportToDot(t *testing.T) {
	g := New()
	_, _ = g.AddNamed("payment", "Create payment")
	_, _ = g.AddNamed("enrollment", "Create enrollment")
	require.NoError(t, g.Link("payment", "enrollment", "payment_id"))

	out, err := g.ExportToDot("purchase")
	require.NoError(t, err)
	assert.Contains(t, out, "digraph purchase")
	assert.Contains(t, out, "Create payment")
	assert.Contains(t, out, "payment_id")
}
