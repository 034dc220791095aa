package searcher

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/awalterschulze/gographviz"
	"github.com/pkg/errors"
)

// ToDot renders the subtree under the current root as a graphviz digraph,
// down to maxDepth levels below the root. Nodes show their visits, value and
// particle count, edges their action and observation.
func (p *Planner[S, A, O]) ToDot(maxDepth int) (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName("G"); err != nil {
		return "", errors.WithStack(err)
	}
	if err := g.SetDir(true); err != nil {
		return "", errors.WithStack(err)
	}
	if p.root == nil {
		return g.String(), nil
	}

	ids := 0
	var walk func(n *Node[S, A, O], depth int) (string, error)
	walk = func(n *Node[S, A, O], depth int) (string, error) {
		id := "n" + strconv.Itoa(ids)
		ids++
		label := fmt.Sprintf("\"N=%d\\nV=%.3f\\nB=%d\"", n.visits, n.value, n.belief.Len())
		if err := g.AddNode("G", id, map[string]string{"shape": "box", "label": label}); err != nil {
			return "", errors.WithStack(err)
		}
		if depth >= maxDepth {
			return id, nil
		}

		for _, action := range n.actions {
			for _, e := range sortedEdges(n, action) {
				childID, err := walk(n.children[e], depth+1)
				if err != nil {
					return "", err
				}
				attrs := map[string]string{"label": fmt.Sprintf("\"%v / %v\"", e.action, e.observation)}
				if err := g.AddEdge(id, childID, true, attrs); err != nil {
					return "", errors.WithStack(err)
				}
			}
		}
		return id, nil
	}

	if _, err := walk(p.root, 0); err != nil {
		return "", err
	}
	return g.String(), nil
}

// sortedEdges returns the edges leaving n through action, ordered by the
// printed form of their observation.
func sortedEdges[S any, A comparable, O comparable](n *Node[S, A, O], action A) []edge[A, O] {
	edges := make([]edge[A, O], 0)
	for e := range n.children {
		if e.action == action {
			edges = append(edges, e)
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		return fmt.Sprint(edges[i].observation) < fmt.Sprint(edges[j].observation)
	})
	return edges
}
