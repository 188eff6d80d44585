package types

import (
	"math"
	"time"
)

// ExecutionType 容器内动作（或模型顶层节点）的执行方式
type ExecutionType string

const (
	ExecutionSequential ExecutionType = "sequential"
	ExecutionParallel   ExecutionType = "parallel"
)

// NodeKind 容器节点类型：边界输入、边界输出或处理阶段
type NodeKind string

const (
	NodeKindInput  NodeKind = "input"
	NodeKindOutput NodeKind = "output"
	NodeKindStage  NodeKind = "stage"
)

// NodeStatus represents the lifecycle status of a container or action node.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusReady     NodeStatus = "ready"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// IsTerminal reports whether the status is completed, failed or skipped.
func (s NodeStatus) IsTerminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusFailed || s == NodeStatusSkipped
}

// ModelStatus is the authoring lifecycle status of a FunctionModel.
type ModelStatus string

const (
	ModelStatusDraft     ModelStatus = "draft"
	ModelStatusPublished ModelStatus = "published"
	ModelStatusArchived  ModelStatus = "archived"
	ModelStatusDeleted   ModelStatus = "deleted"
)

// ActionType 动作节点类型，决定由哪个处理器执行
type ActionType string

const (
	ActionExternalCall    ActionType = "external_call"
	ActionKnowledgeLookup ActionType = "knowledge_lookup"
	ActionNestedModel     ActionType = "nested_model"
	ActionScript          ActionType = "script"
)

// ContainerNode is a boundary I/O or processing-stage node of a FunctionModel.
type ContainerNode struct {
	ID              string          `yaml:"id" json:"id"`
	ModelID         string          `yaml:"model_id,omitempty" json:"modelId,omitempty"`
	Name            string          `yaml:"name,omitempty" json:"name,omitempty"`
	Kind            NodeKind        `yaml:"kind" json:"kind"`
	Dependencies    []string        `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	ExecutionType   ExecutionType   `yaml:"execution_type,omitempty" json:"executionType,omitempty"`
	ContinueOnError bool            `yaml:"continue_on_error,omitempty" json:"continueOnError,omitempty"`
	Status          NodeStatus      `yaml:"status,omitempty" json:"status,omitempty"`
	NestedModel     *NestedModelRef `yaml:"nested_model,omitempty" json:"nestedModel,omitempty"`
	Metadata        map[string]any  `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// RetryPolicy 动作失败后的重试策略
type RetryPolicy struct {
	MaxRetries        int           `yaml:"max_retries" json:"maxRetries"`
	RetryDelay        time.Duration `yaml:"retry_delay" json:"retryDelay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoffMultiplier"`
	MaxRetryDelay     time.Duration `yaml:"max_retry_delay" json:"maxRetryDelay"`
}

// Delay returns the wait before the retry that follows the given failed
// attempt (0-based): RetryDelay * BackoffMultiplier^attempt, capped at MaxRetryDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.RetryDelay <= 0 {
		return 0
	}
	multiplier := p.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := float64(p.RetryDelay) * math.Pow(multiplier, float64(attempt))
	if p.MaxRetryDelay > 0 && delay > float64(p.MaxRetryDelay) {
		return p.MaxRetryDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// TotalAttempts returns the number of attempts the policy allows.
func (p RetryPolicy) TotalAttempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// ActionNode is a unit of work attached to exactly one ContainerNode.
type ActionNode struct {
	ID             string          `yaml:"id" json:"id"`
	ParentNodeID   string          `yaml:"parent_node_id" json:"parentNodeId"`
	Name           string          `yaml:"name,omitempty" json:"name,omitempty"`
	Type           ActionType      `yaml:"type" json:"type"`
	Priority       int             `yaml:"priority,omitempty" json:"priority,omitempty"`
	ExecutionOrder int             `yaml:"execution_order,omitempty" json:"executionOrder,omitempty"`
	ExecutionMode  ExecutionType   `yaml:"execution_mode,omitempty" json:"executionMode,omitempty"`
	Status         NodeStatus      `yaml:"status,omitempty" json:"status,omitempty"`
	RetryPolicy    *RetryPolicy    `yaml:"retry_policy,omitempty" json:"retryPolicy,omitempty"`
	Config         map[string]any  `yaml:"config,omitempty" json:"config,omitempty"`
	NestedModel    *NestedModelRef `yaml:"nested_model,omitempty" json:"nestedModel,omitempty"`
}

// NestedModelRef points to a FunctionModel embedded in a container or action.
// Model, when set, is used directly; otherwise ModelID is loaded from the store.
type NestedModelRef struct {
	ModelID string         `yaml:"model_id,omitempty" json:"modelId,omitempty"`
	Model   *FunctionModel `yaml:"model,omitempty" json:"model,omitempty"`
}

// Permissions 模型访问权限
type Permissions struct {
	Owner     string   `yaml:"owner" json:"owner"`
	Editors   []string `yaml:"editors,omitempty" json:"editors,omitempty"`
	Viewers   []string `yaml:"viewers,omitempty" json:"viewers,omitempty"`
	Executors []string `yaml:"executors,omitempty" json:"executors,omitempty"`
}

// FunctionModel is a directed graph of container nodes with their action nodes.
// Nodes and Actions keep insertion order, which is the tie-break for scheduling.
type FunctionModel struct {
	ID            string           `yaml:"id" json:"id"`
	Name          string           `yaml:"name" json:"name"`
	Version       string           `yaml:"version,omitempty" json:"version,omitempty"`
	Status        ModelStatus      `yaml:"status" json:"status"`
	ExecutionType ExecutionType    `yaml:"execution_type,omitempty" json:"executionType,omitempty"`
	Nodes         []*ContainerNode `yaml:"nodes" json:"nodes"`
	Actions       []*ActionNode    `yaml:"actions,omitempty" json:"actions,omitempty"`
	Permissions   Permissions      `yaml:"permissions" json:"permissions"`
	Metadata      map[string]any   `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Node returns the container node with the given id.
func (m *FunctionModel) Node(id string) (*ContainerNode, bool) {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// Action returns the action node with the given id.
func (m *FunctionModel) Action(id string) (*ActionNode, bool) {
	for _, a := range m.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return nil, false
}

// ActionsFor returns the actions attached to a container, in insertion order.
func (m *FunctionModel) ActionsFor(nodeID string) []*ActionNode {
	var actions []*ActionNode
	for _, a := range m.Actions {
		if a.ParentNodeID == nodeID {
			actions = append(actions, a)
		}
	}
	return actions
}

// NodeIDs returns container ids in insertion order.
func (m *FunctionModel) NodeIDs() []string {
	ids := make([]string, 0, len(m.Nodes))
	for _, n := range m.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}
