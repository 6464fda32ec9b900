// Package workflow defines the workflow data model: nodes, typed inter-node
// connections, and the deterministic execution ordering derived from them.
package workflow

import "time"

// NodeType identifies the top-level class of a node. Executors are
// registered per NodeType and dispatch internally on Subtype.
type NodeType string

// Node types.
const (
	NodeTypeTrigger        NodeType = "TRIGGER"
	NodeTypeAIAgent        NodeType = "AI_AGENT"
	NodeTypeExternalAction NodeType = "EXTERNAL_ACTION"
	NodeTypeAction         NodeType = "ACTION"
	NodeTypeFlow           NodeType = "FLOW"
	NodeTypeHumanInTheLoop NodeType = "HUMAN_IN_THE_LOOP"
	NodeTypeTool           NodeType = "TOOL"
	NodeTypeMemory         NodeType = "MEMORY"
)

// NodeTypes lists all valid node types.
var NodeTypes = []NodeType{
	NodeTypeTrigger,
	NodeTypeAIAgent,
	NodeTypeExternalAction,
	NodeTypeAction,
	NodeTypeFlow,
	NodeTypeHumanInTheLoop,
	NodeTypeTool,
	NodeTypeMemory,
}

// ConnectionType identifies the kind of data flowing along a connection.
// Non-main types are namespaced into the consumer's input map under their
// type key, except memory which merges flat (consumers read memory fields
// directly).
type ConnectionType string

// Connection types.
const (
	ConnectionMain            ConnectionType = "main"
	ConnectionMemory          ConnectionType = "memory"
	ConnectionAIAgent         ConnectionType = "ai_agent"
	ConnectionAIChain         ConnectionType = "ai_chain"
	ConnectionAIDocument      ConnectionType = "ai_document"
	ConnectionAIEmbedding     ConnectionType = "ai_embedding"
	ConnectionAILanguageModel ConnectionType = "ai_language_model"
	ConnectionAIMemory        ConnectionType = "ai_memory"
	ConnectionAIOutputParser  ConnectionType = "ai_output_parser"
	ConnectionAIRetriever     ConnectionType = "ai_retriever"
	ConnectionAIReranker      ConnectionType = "ai_reranker"
	ConnectionAITextSplitter  ConnectionType = "ai_text_splitter"
	ConnectionAITool          ConnectionType = "ai_tool"
	ConnectionAIVectorStore   ConnectionType = "ai_vector_store"
)

// ConnectionTypes lists all valid connection types.
var ConnectionTypes = []ConnectionType{
	ConnectionMain,
	ConnectionMemory,
	ConnectionAIAgent,
	ConnectionAIChain,
	ConnectionAIDocument,
	ConnectionAIEmbedding,
	ConnectionAILanguageModel,
	ConnectionAIMemory,
	ConnectionAIOutputParser,
	ConnectionAIRetriever,
	ConnectionAIReranker,
	ConnectionAITextSplitter,
	ConnectionAITool,
	ConnectionAIVectorStore,
}

// ErrorPolicy controls how the engine reacts to a failed node.
type ErrorPolicy string

// Error policies.
const (
	ErrorPolicyStop     ErrorPolicy = "STOP_WORKFLOW_ON_ERROR"
	ErrorPolicyContinue ErrorPolicy = "CONTINUE_ON_ERROR"
	ErrorPolicyRetry    ErrorPolicy = "RETRY"
)

// Node is a single unit of work within a workflow.
type Node struct {
	// ID is stable and unique within the workflow. Format:
	// {type}_{subtype}_{8-hex}. IDs missing or colliding at save time
	// are regenerated.
	ID string `json:"id" yaml:"id"`

	// Name is unique per workflow and shown to users.
	Name string `json:"name" yaml:"name"`

	Type    NodeType `json:"type" yaml:"type"`
	Subtype string   `json:"subtype" yaml:"subtype"`

	// Parameters holds subtype-specific configuration.
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Credentials maps credential roles to provider names resolved at
	// execution time through the credential provider. Raw secrets never
	// appear here.
	Credentials map[string]string `json:"credentials,omitempty" yaml:"credentials,omitempty"`

	Disabled bool        `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	OnError  ErrorPolicy `json:"on_error,omitempty" yaml:"on_error,omitempty"`
}

// Connection is a single typed edge endpoint.
type Connection struct {
	// Node is the target node ID.
	Node string `json:"node" yaml:"node"`

	// Index is the input slot on the target (>= 0).
	Index int `json:"index" yaml:"index"`
}

// ConnectionsMap maps source node ID to the typed connections leaving it.
type ConnectionsMap map[string]map[ConnectionType][]Connection

// Settings holds optional workflow-scoped execution settings.
type Settings struct {
	// TimeoutSeconds bounds the whole execution (0 = no limit).
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`

	// MaxRetries bounds RETRY-policy node retries. Default 3.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`

	// StaticData is workflow-scoped variables visible to every executor.
	StaticData map[string]any `json:"static_data,omitempty" yaml:"static_data,omitempty"`
}

// Workflow is the immutable-at-read definition a trigger fires against.
type Workflow struct {
	ID      string `json:"id" yaml:"id"`
	UserID  string `json:"user_id" yaml:"user_id"`
	Name    string `json:"name" yaml:"name"`
	Version int    `json:"version" yaml:"version"`

	// Active workflows are the only ones scheduled or dispatched.
	Active bool `json:"active" yaml:"active"`

	Tags        []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
	Nodes       []Node         `json:"nodes" yaml:"nodes"`
	Connections ConnectionsMap `json:"connections" yaml:"connections"`
	Settings    Settings       `json:"settings,omitempty" yaml:"settings,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// NodeByID returns the node with the given ID, or nil.
func (w *Workflow) NodeByID(id string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// TriggerNodes returns the workflow's trigger nodes in definition order.
func (w *Workflow) TriggerNodes() []Node {
	var out []Node
	for _, n := range w.Nodes {
		if n.Type == NodeTypeTrigger {
			out = append(out, n)
		}
	}
	return out
}

// MaxRetries returns the effective retry budget for RETRY-policy nodes.
func (w *Workflow) MaxRetries() int {
	if w.Settings.MaxRetries > 0 {
		return w.Settings.MaxRetries
	}
	return 3
}
