package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateNodeID_Format(t *testing.T) {
	id := GenerateNodeID(NodeTypeAIAgent, "router")
	assert.Regexp(t, `^ai_agent_router_[0-9a-f]{8}$`, id)
	assert.True(t, ValidNodeID(id))
}

func TestValidNodeID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"typical generated id", "action_http_a1b2c3d4", true},
		{"leading underscore", "_internal-node", true},
		{"too short", "ab", false},
		{"leading digit", "1node", false},
		{"reserved word", "workflow", false},
		{"reserved word mixed case", "Execution", false},
		{"empty", "", false},
		{"illegal chars", "node.with.dots", false},
		{"hyphens allowed", "flow_if-else_12345678", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidNodeID(tt.id))
		})
	}
}

func TestEnsureUniqueNodeIDs_RegeneratesBadIDs(t *testing.T) {
	nodes := []Node{
		{ID: "", Name: "a", Type: NodeTypeAction, Subtype: "http"},
		{ID: "action_http_00000001", Name: "b", Type: NodeTypeAction, Subtype: "http"},
		{ID: "action_http_00000001", Name: "c", Type: NodeTypeAction, Subtype: "http"},
		{ID: "input", Name: "d", Type: NodeTypeFlow, Subtype: "if"},
	}

	out := EnsureUniqueNodeIDs(nodes)
	require.Len(t, out, 4)

	seen := map[string]struct{}{}
	for _, n := range out {
		assert.True(t, ValidNodeID(n.ID), "id %q should be valid", n.ID)
		_, dup := seen[n.ID]
		assert.False(t, dup, "id %q duplicated", n.ID)
		seen[n.ID] = struct{}{}
	}

	// The first valid occurrence keeps its ID.
	assert.Equal(t, "action_http_00000001", out[1].ID)
	// The colliding one is regenerated.
	assert.NotEqual(t, "action_http_00000001", out[2].ID)
}

func TestEnsureUniqueNodeIDs_Idempotent(t *testing.T) {
	nodes := []Node{
		{ID: "", Name: "a", Type: NodeTypeTrigger, Subtype: "cron"},
		{ID: "bad id!", Name: "b", Type: NodeTypeAction, Subtype: "http"},
		{ID: "memory_buffer_deadbeef", Name: "c", Type: NodeTypeMemory, Subtype: "buffer"},
	}

	once := EnsureUniqueNodeIDs(nodes)
	ids := make([]string, len(once))
	for i, n := range once {
		ids[i] = n.ID
	}

	twice := EnsureUniqueNodeIDs(once)
	for i, n := range twice {
		assert.Equal(t, ids[i], n.ID, "second pass must not change node %d", i)
	}
}
