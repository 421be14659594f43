package models

import "fmt"

// NodeSpec is one agent node of a pipeline graph.
type NodeSpec struct {
	ID        string         `json:"id" validate:"required"`
	AgentType string         `json:"agent_type" validate:"required"`
	Config    map[string]any `json:"config,omitempty"`
}

// Edge is a dependency: To runs only after From completed.
type Edge struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
}

// PipelineGraph is the node/edge description of a pipeline.
// A valid graph is a finite DAG with at least one entry node.
type PipelineGraph struct {
	Nodes []NodeSpec `json:"nodes" validate:"required,min=1,dive"`
	Edges []Edge     `json:"edges" validate:"dive"`
}

// Validate checks the graph is a well-formed DAG and returns *ValidationErrors on violation.
func (g *PipelineGraph) Validate() error {
	verr := &ValidationErrors{}
	if len(g.Nodes) == 0 {
		verr.Add("graph.nodes", "ERR_REQUIRED", "graph must contain at least one node")
		return verr
	}
	index := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		if n.ID == "" {
			verr.Add(fmt.Sprintf("graph.nodes[%d].id", i), "ERR_REQUIRED", "node id is required")
			continue
		}
		if n.AgentType == "" {
			verr.Add(fmt.Sprintf("graph.nodes[%d].agent_type", i), "ERR_REQUIRED", "agent_type is required")
		}
		if _, dup := index[n.ID]; dup {
			verr.Add(fmt.Sprintf("graph.nodes[%d].id", i), "ERR_DUPLICATE", fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		index[n.ID] = i
	}
	for i, e := range g.Edges {
		if _, ok := index[e.From]; !ok {
			verr.Add(fmt.Sprintf("graph.edges[%d].from", i), "ERR_UNKNOWN_NODE", fmt.Sprintf("edge references unknown node %q", e.From))
		}
		if _, ok := index[e.To]; !ok {
			verr.Add(fmt.Sprintf("graph.edges[%d].to", i), "ERR_UNKNOWN_NODE", fmt.Sprintf("edge references unknown node %q", e.To))
		}
		if e.From == e.To {
			verr.Add(fmt.Sprintf("graph.edges[%d]", i), "ERR_CYCLE", fmt.Sprintf("self loop on node %q", e.From))
		}
	}
	if verr.Len() > 0 {
		return verr
	}
	if len(g.EntryNodes()) == 0 {
		verr.Add("graph", "ERR_NO_ENTRY", "graph has no entry node")
		return verr
	}
	if _, err := g.TopologicalOrder(); err != nil {
		verr.Add("graph", "ERR_CYCLE", err.Error())
		return verr
	}
	return nil
}

// EntryNodes returns the nodes with no incoming edge, in insertion order.
func (g *PipelineGraph) EntryNodes() []NodeSpec {
	incoming := make(map[string]bool, len(g.Nodes))
	for _, e := range g.Edges {
		incoming[e.To] = true
	}
	out := make([]NodeSpec, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if !incoming[n.ID] {
			out = append(out, n)
		}
	}
	return out
}

// Predecessors returns the ids of nodes with an edge into id, in edge order.
func (g *PipelineGraph) Predecessors(id string) []string {
	var out []string
	for _, e := range g.Edges {
		if e.To == id {
			out = append(out, e.From)
		}
	}
	return out
}

// TopologicalOrder orders nodes so every node follows its predecessors.
// Among ready nodes the one inserted first wins, so the order is deterministic.
func (g *PipelineGraph) TopologicalOrder() ([]NodeSpec, error) {
	indeg := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		indeg[n.ID] = 0
	}
	for _, e := range g.Edges {
		indeg[e.To]++
	}
	done := make([]bool, len(g.Nodes))
	out := make([]NodeSpec, 0, len(g.Nodes))
	for len(out) < len(g.Nodes) {
		picked := -1
		for i, n := range g.Nodes {
			if !done[i] && indeg[n.ID] == 0 {
				picked = i
				break
			}
		}
		if picked < 0 {
			return nil, fmt.Errorf("%w: graph contains a cycle", ErrInvalidGraph)
		}
		done[picked] = true
		n := g.Nodes[picked]
		out = append(out, n)
		for _, e := range g.Edges {
			if e.From == n.ID {
				indeg[e.To]--
			}
		}
	}
	return out, nil
}
