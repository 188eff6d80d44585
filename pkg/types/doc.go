// Package types defines the graph model (FunctionModel, ContainerNode,
// ActionNode), the per-run Execution entity, the hierarchy entry NodeContext
// and the AuditLogEntry record shared by every layer of the engine.
//
// Results are aggregated bottom-up: ActionResult -> NodeResult -> WorkflowResult.
package types
