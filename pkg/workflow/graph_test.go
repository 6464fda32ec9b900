package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wfWithNodes(conns ConnectionsMap, ids ...string) *Workflow {
	w := &Workflow{ID: "wf-1", UserID: "u1", Name: "test", Active: true, Connections: conns}
	for _, id := range ids {
		w.Nodes = append(w.Nodes, Node{ID: id, Name: id, Type: NodeTypeAction, Subtype: "noop"})
	}
	return w
}

func TestExecutionOrder_LinearChain(t *testing.T) {
	w := wfWithNodes(ConnectionsMap{
		"node_a": {ConnectionMain: []Connection{{Node: "node_b"}}},
		"node_b": {ConnectionMain: []Connection{{Node: "node_c"}}},
	}, "node_a", "node_b", "node_c")

	order, acyclic := ExecutionOrder(w)
	require.True(t, acyclic)
	assert.Equal(t, []string{"node_a", "node_b", "node_c"}, order)
}

func TestExecutionOrder_MemoryEdgeInverted(t *testing.T) {
	// A --memory--> B means B provides memory to A, so B runs first.
	w := wfWithNodes(ConnectionsMap{
		"node_a": {ConnectionMemory: []Connection{{Node: "node_b"}}},
	}, "node_a", "node_b")

	order, acyclic := ExecutionOrder(w)
	require.True(t, acyclic)
	assert.Equal(t, []string{"node_b", "node_a"}, order)
}

func TestExecutionOrder_LexTiebreak(t *testing.T) {
	// Both node_x and node_b are roots feeding node_z; tie broken
	// lexicographically regardless of slice order.
	conns := ConnectionsMap{
		"node_x": {ConnectionMain: []Connection{{Node: "node_z"}}},
		"node_b": {ConnectionMain: []Connection{{Node: "node_z"}}},
	}

	w1 := wfWithNodes(conns, "node_x", "node_b", "node_z")
	w2 := wfWithNodes(conns, "node_z", "node_x", "node_b")

	order1, acyclic := ExecutionOrder(w1)
	require.True(t, acyclic)
	order2, _ := ExecutionOrder(w2)

	assert.Equal(t, []string{"node_b", "node_x", "node_z"}, order1)
	assert.Equal(t, order1, order2, "order must be stable under node re-ordering")
}

func TestExecutionOrder_CycleFallsBackToDefinitionOrder(t *testing.T) {
	w := wfWithNodes(ConnectionsMap{
		"node_a": {ConnectionMain: []Connection{{Node: "node_b"}}},
		"node_b": {ConnectionMain: []Connection{{Node: "node_a"}}},
	}, "node_b", "node_a")

	order, acyclic := ExecutionOrder(w)
	assert.False(t, acyclic)
	assert.Equal(t, []string{"node_b", "node_a"}, order)
}

func TestExecutionOrder_MemoryInversionCreatesCycle(t *testing.T) {
	// main A->B plus memory A->B: the memory edge schedules B before A
	// while main schedules A before B.
	w := wfWithNodes(ConnectionsMap{
		"node_a": {
			ConnectionMain:   []Connection{{Node: "node_b"}},
			ConnectionMemory: []Connection{{Node: "node_b"}},
		},
	}, "node_a", "node_b")

	order, acyclic := ExecutionOrder(w)
	assert.False(t, acyclic)
	assert.Equal(t, []string{"node_a", "node_b"}, order)
}

func TestIncomingConnections(t *testing.T) {
	w := wfWithNodes(ConnectionsMap{
		"node_a": {ConnectionMain: []Connection{{Node: "node_c"}}},
		"node_b": {
			ConnectionMain:   []Connection{{Node: "node_c", Index: 1}},
			ConnectionMemory: []Connection{{Node: "node_c"}},
		},
	}, "node_a", "node_b", "node_c")

	in := IncomingConnections(w)
	require.Len(t, in["node_c"], 2)

	// Sorted by type then source.
	assert.Equal(t, IncomingEdge{Source: "node_a", Type: ConnectionMain}, in["node_c"][0])
	assert.Equal(t, IncomingEdge{Source: "node_b", Type: ConnectionMain, Index: 1}, in["node_c"][1])

	// The memory edge feeds the provider's output back into the
	// connection source.
	require.Len(t, in["node_b"], 1)
	assert.Equal(t, IncomingEdge{Source: "node_c", Type: ConnectionMemory}, in["node_b"][0])
}
