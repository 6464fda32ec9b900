package workflow

import "sort"

// ExecutionOrder computes the deterministic node execution order for a
// workflow.
//
// Edges are derived from the connections map. Memory connections invert the
// data-flow direction: the memory provider must run before its consumer, so
// a memory edge source->target contributes the scheduling edge target->source.
// All other connection types contribute source->target.
//
// Ordering is a Kahn topological sort with ties broken by lexicographic node
// ID, so the result depends only on the node/connection sets, not on input
// slice order. When the derived graph contains a cycle, the order falls back
// to node definition order and acyclic is false; callers should log a warning
// in that case.
func ExecutionOrder(w *Workflow) (order []string, acyclic bool) {
	indegree := make(map[string]int, len(w.Nodes))
	successors := make(map[string][]string, len(w.Nodes))
	for _, n := range w.Nodes {
		indegree[n.ID] = 0
	}

	addEdge := func(from, to string) {
		if _, ok := indegree[from]; !ok {
			return
		}
		if _, ok := indegree[to]; !ok {
			return
		}
		successors[from] = append(successors[from], to)
		indegree[to]++
	}

	for source, byType := range w.Connections {
		for connType, conns := range byType {
			for _, c := range conns {
				if connType == ConnectionMemory {
					addEdge(c.Node, source)
				} else {
					addEdge(source, c.Node)
				}
			}
		}
	}

	ready := make([]string, 0, len(indegree))
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order = make([]string, 0, len(indegree))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		released := false
		for _, succ := range successors[id] {
			indegree[succ]--
			if indegree[succ] == 0 {
				ready = append(ready, succ)
				released = true
			}
		}
		if released {
			sort.Strings(ready)
		}
	}

	if len(order) != len(indegree) {
		// Cycle after memory inversion: fall back to definition order.
		order = order[:0]
		for _, n := range w.Nodes {
			order = append(order, n.ID)
		}
		return order, false
	}
	return order, true
}

// IncomingConnections returns, for each node, the list of typed upstream
// edges feeding it. The engine uses this for per-node input assembly.
//
// Memory connections flow data against the connection direction: the
// connection's target is the memory provider and its source is the
// consumer, so a memory connection source->target feeds target's output
// into source.
func IncomingConnections(w *Workflow) map[string][]IncomingEdge {
	in := make(map[string][]IncomingEdge)
	for source, byType := range w.Connections {
		for connType, conns := range byType {
			for _, c := range conns {
				if connType == ConnectionMemory {
					in[source] = append(in[source], IncomingEdge{
						Source: c.Node,
						Type:   connType,
						Index:  c.Index,
					})
					continue
				}
				in[c.Node] = append(in[c.Node], IncomingEdge{
					Source: source,
					Type:   connType,
					Index:  c.Index,
				})
			}
		}
	}
	// Deterministic assembly order.
	for id := range in {
		edges := in[id]
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].Type != edges[j].Type {
				return edges[i].Type < edges[j].Type
			}
			if edges[i].Source != edges[j].Source {
				return edges[i].Source < edges[j].Source
			}
			return edges[i].Index < edges[j].Index
		})
	}
	return in
}

// IncomingEdge is a single typed upstream connection into a node.
type IncomingEdge struct {
	Source string
	Type   ConnectionType
	Index  int
}
