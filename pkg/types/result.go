package types

import "time"

// ActionResult contains the terminal outcome of one action node.
// 推荐使用 NewActionResult 创建，然后用 defer result.Finish() 设置 EndTime 和 Duration。
type ActionResult struct {
	ActionID  string          `json:"actionId"`
	NodeID    string          `json:"nodeId"`
	Type      ActionType      `json:"type"`
	Status    NodeStatus      `json:"status"`
	Attempts  int             `json:"attempts"`
	StartTime time.Time       `json:"startTime"`
	EndTime   time.Time       `json:"endTime"`
	Duration  time.Duration   `json:"duration"`
	Output    any             `json:"output,omitempty"`
	Error     error           `json:"-"`
	Nested    *WorkflowResult `json:"nested,omitempty"`
}

// NewActionResult 创建一个 running 状态的 ActionResult。
func NewActionResult(action *ActionNode) *ActionResult {
	return &ActionResult{
		ActionID:  action.ID,
		NodeID:    action.ParentNodeID,
		Type:      action.Type,
		Status:    NodeStatusRunning,
		StartTime: time.Now(),
	}
}

// Complete marks the action completed with its output.
func (r *ActionResult) Complete(output any) {
	r.Status = NodeStatusCompleted
	r.Output = output
	r.Error = nil
}

// Fail marks the action failed.
func (r *ActionResult) Fail(err error) {
	r.Status = NodeStatusFailed
	r.Error = err
}

// Finish sets EndTime and Duration.
func (r *ActionResult) Finish() {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
}

// IsSuccess reports whether the action completed.
func (r *ActionResult) IsSuccess() bool {
	return r.Status == NodeStatusCompleted
}

// ErrorMessage returns the error text or an empty string.
func (r *ActionResult) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Error()
}

// NodeResult is the aggregate outcome of one container node.
type NodeResult struct {
	NodeID           string            `json:"nodeId"`
	Status           NodeStatus        `json:"status"`
	CompletedActions []string          `json:"completedActions"`
	FailedActions    []string          `json:"failedActions"`
	SkippedActions   []string          `json:"skippedActions"`
	Error            string            `json:"error,omitempty"`
	SkipReason       string            `json:"skipReason,omitempty"`
	StartTime        time.Time         `json:"startTime"`
	EndTime          time.Time         `json:"endTime"`
	Duration         time.Duration     `json:"duration"`
	Nested           []*WorkflowResult `json:"nested,omitempty"`
}

// NewNodeResult creates a running NodeResult.
func NewNodeResult(nodeID string) *NodeResult {
	return &NodeResult{
		NodeID:           nodeID,
		Status:           NodeStatusRunning,
		CompletedActions: []string{},
		FailedActions:    []string{},
		SkippedActions:   []string{},
		StartTime:        time.Now(),
	}
}

// NewSkippedNodeResult creates a skipped NodeResult that was never started.
func NewSkippedNodeResult(nodeID, reason string) *NodeResult {
	now := time.Now()
	return &NodeResult{
		NodeID:           nodeID,
		Status:           NodeStatusSkipped,
		CompletedActions: []string{},
		FailedActions:    []string{},
		SkippedActions:   []string{},
		SkipReason:       reason,
		StartTime:        now,
		EndTime:          now,
	}
}

// Finish sets EndTime and Duration.
func (r *NodeResult) Finish() {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
}

// WorkflowResult is the aggregate outcome of one FunctionModel run.
type WorkflowResult struct {
	ModelID        string                 `json:"modelId"`
	Success        bool                   `json:"success"`
	Cancelled      bool                   `json:"cancelled,omitempty"`
	CompletedNodes []string               `json:"completedNodes"`
	FailedNodes    []string               `json:"failedNodes"`
	SkippedNodes   []string               `json:"skippedNodes"`
	NodeResults    map[string]*NodeResult `json:"nodeResults"`
	Errors         []ExecutionError       `json:"errors,omitempty"`
	Outputs        map[string]any         `json:"outputs,omitempty"`
	StartTime      time.Time              `json:"startTime"`
	Duration       time.Duration          `json:"duration"`
}

// NewWorkflowResult creates an empty result for a model.
func NewWorkflowResult(modelID string) *WorkflowResult {
	return &WorkflowResult{
		ModelID:        modelID,
		CompletedNodes: []string{},
		FailedNodes:    []string{},
		SkippedNodes:   []string{},
		NodeResults:    make(map[string]*NodeResult),
		Outputs:        make(map[string]any),
		StartTime:      time.Now(),
	}
}

// Record adds a node result to the matching aggregate list.
func (r *WorkflowResult) Record(node *NodeResult) {
	r.NodeResults[node.NodeID] = node
	switch node.Status {
	case NodeStatusCompleted:
		r.CompletedNodes = append(r.CompletedNodes, node.NodeID)
	case NodeStatusFailed:
		r.FailedNodes = append(r.FailedNodes, node.NodeID)
	case NodeStatusSkipped:
		r.SkippedNodes = append(r.SkippedNodes, node.NodeID)
	}
}

// Finish computes Success and Duration. Success only depends on failed nodes,
// independent branches that completed do not change it.
func (r *WorkflowResult) Finish() {
	r.Success = len(r.FailedNodes) == 0
	r.Duration = time.Since(r.StartTime)
}
