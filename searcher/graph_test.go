package searcher

import (
	"context"
	"strings"
	"testing"

	"github.com/awalterschulze/gographviz"
	"github.com/stretchr/testify/require"
)

func TestToDot(t *testing.T) {
	t.Run("empty graph before solving", func(t *testing.T) {
		p := newChainPlanner(&chainSim{})

		dot, err := p.ToDot(3)
		require.NoError(t, err)

		g, err := gographviz.Read([]byte(dot))
		require.NoError(t, err, "Output should be valid dot")
		require.Empty(t, g.Nodes.Nodes)
	})

	t.Run("whole tree", func(t *testing.T) {
		p := newChainPlanner(&chainSim{noisy: true}, WithMaxIterations(100))
		require.NoError(t, p.Solve(context.Background()))

		dot, err := p.ToDot(p.maxDepth)
		require.NoError(t, err)

		g, err := gographviz.Read([]byte(dot))
		require.NoError(t, err)
		require.True(t, g.Directed)
		require.Len(t, g.Nodes.Nodes, p.Nodes(), "Every tree node should be drawn")
		require.Len(t, g.Edges.Edges, p.Nodes()-1, "Tree should have one edge less than nodes")
		require.True(t, strings.Contains(dot, "N=100"), "Root label should show its visits")
	})

	t.Run("depth limit", func(t *testing.T) {
		p := newChainPlanner(&chainSim{}, WithMaxIterations(50))
		require.NoError(t, p.Solve(context.Background()))

		dot, err := p.ToDot(0)
		require.NoError(t, err)

		g, err := gographviz.Read([]byte(dot))
		require.NoError(t, err)
		require.Len(t, g.Nodes.Nodes, 1, "Only the root should be drawn")
		require.Empty(t, g.Edges.Edges)
	})

	t.Run("output is deterministic", func(t *testing.T) {
		p := newChainPlanner(&chainSim{noisy: true}, WithMaxIterations(100))
		require.NoError(t, p.Solve(context.Background()))

		first, err := p.ToDot(4)
		require.NoError(t, err)
		second, err := p.ToDot(4)
		require.NoError(t, err)

		require.Equal(t, first, second)
	})
}
