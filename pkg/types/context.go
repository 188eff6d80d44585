package types

// NodeContext is one entry of the context hierarchy. Root entries have level 0.
type NodeContext struct {
	NodeID         string         `json:"nodeId"`
	NodeType       string         `json:"nodeType"`
	ParentNodeID   string         `json:"parentNodeId,omitempty"`
	ContextData    map[string]any `json:"contextData"`
	HierarchyLevel int            `json:"hierarchyLevel"`
}

// Clone returns a copy with a shallow copy of ContextData.
func (c *NodeContext) Clone() *NodeContext {
	if c == nil {
		return nil
	}
	data := make(map[string]any, len(c.ContextData))
	for k, v := range c.ContextData {
		data[k] = v
	}
	return &NodeContext{
		NodeID:         c.NodeID,
		NodeType:       c.NodeType,
		ParentNodeID:   c.ParentNodeID,
		ContextData:    data,
		HierarchyLevel: c.HierarchyLevel,
	}
}
