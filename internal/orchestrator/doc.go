// Package orchestrator drives a FunctionModel to completion.
//
// The workflow orchestrator orders container nodes topologically and runs
// each one through the node orchestrator, which dispatches the container's
// actions sequentially or in parallel via the executor service. Containers and
// actions that embed a nested model recurse through the fractal orchestrator,
// one hierarchy level deeper in the same context hierarchy.
//
// Pause and stop requests are honoured at container boundaries only; an
// action that has been dispatched always runs to its own completion.
package orchestrator
