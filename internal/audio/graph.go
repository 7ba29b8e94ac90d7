// SPDX-License-Identifier: MIT

package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pmomusic/pmomusicd/internal/log"
)

// Graph owns a linear chain of nodes connected by edges, each running
// as its own cooperative task; nodes communicate only through
// channels, never shared mutable state.
type Graph struct {
	nodes []Node
	edges []Edge
}

// NewGraph builds a linear pipeline: nodes[0] -> edges[0] -> nodes[1]
// -> edges[1] -> ... -> nodes[n-1]. len(edges) must equal
// len(nodes)-1.
func NewGraph(nodes []Node, edges []Edge) *Graph {
	return &Graph{nodes: nodes, edges: edges}
}

// Run starts every node and blocks until all complete or ctx is
// cancelled. A panic inside any node is recovered and surfaced as an
// error rather than crashing the runtime.
func (g *Graph) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, len(g.nodes))

	for i, n := range g.nodes {
		var in, out Edge
		if i > 0 {
			in = g.edges[i-1]
		}
		if i < len(g.edges) {
			out = g.edges[i]
		}

		wg.Add(1)
		go func(i int, n Node, in, out Edge) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					l := log.WithComponent("audio.graph")
					l.Error().Interface("panic", r).Int("node", i).Msg("pipeline node panicked")
					errs[i] = fmt.Errorf("audio: pipeline node %d panicked: %v", i, r)
				}
			}()
			errs[i] = n.Run(ctx, in, out)
		}(i, n, in, out)
	}

	wg.Wait()
	for _, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}
