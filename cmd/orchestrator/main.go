// Package main provides the entry point for the orchestrator CLI.
package main

import "yqhp/orchestration-engine/cmd"

func main() {
	cmd.Execute()
}
