package workflow

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// nodeIDPattern is the shape every node ID must satisfy.
var nodeIDPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]{2,99}$`)

// reservedNodeIDs are names that would collide with engine-internal keys in
// assembled input maps and templates.
var reservedNodeIDs = map[string]struct{}{
	"start":      {},
	"end":        {},
	"input":      {},
	"output":     {},
	"context":    {},
	"workflow":   {},
	"execution":  {},
	"node":       {},
	"connection": {},
}

// GenerateNodeID produces a fresh node ID of the form {type}_{subtype}_{8-hex}.
func GenerateNodeID(nodeType NodeType, subtype string) string {
	buf := make([]byte, 4)
	// crypto/rand.Read only fails when the platform entropy source is broken.
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("workflow: entropy source unavailable: %v", err))
	}
	return sanitizeIDSegment(strings.ToLower(string(nodeType))) + "_" +
		sanitizeIDSegment(strings.ToLower(subtype)) + "_" +
		hex.EncodeToString(buf)
}

// sanitizeIDSegment replaces characters that would break the node ID pattern.
func sanitizeIDSegment(s string) string {
	if s == "" {
		return "node"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// ValidNodeID reports whether id satisfies the node ID pattern and is not
// reserved.
func ValidNodeID(id string) bool {
	if !nodeIDPattern.MatchString(id) {
		return false
	}
	_, reserved := reservedNodeIDs[strings.ToLower(id)]
	return !reserved
}

// EnsureUniqueNodeIDs assigns fresh IDs to nodes whose IDs are missing,
// invalid, reserved, or colliding with an earlier node. Valid unique IDs are
// left untouched, which makes the operation idempotent. The input slice is
// modified in place and returned.
func EnsureUniqueNodeIDs(nodes []Node) []Node {
	seen := make(map[string]struct{}, len(nodes))
	for i := range nodes {
		id := nodes[i].ID
		_, dup := seen[id]
		if id == "" || dup || !ValidNodeID(id) {
			id = regenerateID(nodes[i], seen)
			nodes[i].ID = id
		}
		seen[id] = struct{}{}
	}
	return nodes
}

// regenerateID generates IDs until one avoids the seen set. Collisions on
// 8 hex chars are vanishingly rare, so this loop essentially runs once.
func regenerateID(n Node, seen map[string]struct{}) string {
	for {
		id := GenerateNodeID(n.Type, n.Subtype)
		if _, dup := seen[id]; !dup && ValidNodeID(id) {
			return id
		}
	}
}
