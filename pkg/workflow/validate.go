package workflow

import (
	"fmt"

	"github.com/relayfleet/relay/pkg/errors"
)

// Validate checks structural invariants of a workflow definition: node
// identity, name uniqueness, and connection integrity. It does not check
// executor availability; the engine's executor factory does that separately.
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return &errors.ValidationError{Field: "id", Message: "workflow ID cannot be empty"}
	}
	if len(w.Nodes) == 0 {
		return &errors.ValidationError{Field: "nodes", Message: "workflow must contain at least one node"}
	}

	ids := make(map[string]struct{}, len(w.Nodes))
	names := make(map[string]struct{}, len(w.Nodes))
	for _, n := range w.Nodes {
		if !ValidNodeID(n.ID) {
			return &errors.ValidationError{
				Field:      "nodes",
				Message:    fmt.Sprintf("node ID %q is invalid or reserved", n.ID),
				Suggestion: "run EnsureUniqueNodeIDs before saving",
			}
		}
		if _, dup := ids[n.ID]; dup {
			return &errors.ValidationError{
				Field:      "nodes",
				Message:    fmt.Sprintf("duplicate node ID %q", n.ID),
				Suggestion: "run EnsureUniqueNodeIDs before saving",
			}
		}
		ids[n.ID] = struct{}{}

		if n.Name == "" {
			return &errors.ValidationError{Field: "nodes", Message: fmt.Sprintf("node %s has no name", n.ID)}
		}
		if _, dup := names[n.Name]; dup {
			return &errors.ValidationError{
				Field:   "nodes",
				Message: fmt.Sprintf("duplicate node name %q", n.Name),
			}
		}
		names[n.Name] = struct{}{}

		if !validNodeType(n.Type) {
			return &errors.ValidationError{
				Field:   "nodes",
				Message: fmt.Sprintf("node %s has unknown type %q", n.ID, n.Type),
			}
		}
		if n.OnError != "" && n.OnError != ErrorPolicyStop && n.OnError != ErrorPolicyContinue && n.OnError != ErrorPolicyRetry {
			return &errors.ValidationError{
				Field:   "nodes",
				Message: fmt.Sprintf("node %s has unknown on_error policy %q", n.ID, n.OnError),
			}
		}
	}

	for source, byType := range w.Connections {
		if _, ok := ids[source]; !ok {
			return &errors.ValidationError{
				Field:   "connections",
				Message: fmt.Sprintf("connection source %q references unknown node", source),
			}
		}
		for connType, conns := range byType {
			if !validConnectionType(connType) {
				return &errors.ValidationError{
					Field:   "connections",
					Message: fmt.Sprintf("unknown connection type %q from node %s", connType, source),
				}
			}
			for _, c := range conns {
				if _, ok := ids[c.Node]; !ok {
					return &errors.ValidationError{
						Field:   "connections",
						Message: fmt.Sprintf("connection target %q references unknown node", c.Node),
					}
				}
				if c.Index < 0 {
					return &errors.ValidationError{
						Field:   "connections",
						Message: fmt.Sprintf("connection %s -> %s has negative index", source, c.Node),
					}
				}
			}
		}
	}

	return nil
}

func validNodeType(t NodeType) bool {
	for _, known := range NodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

func validConnectionType(t ConnectionType) bool {
	for _, known := range ConnectionTypes {
		if t == known {
			return true
		}
	}
	return false
}
