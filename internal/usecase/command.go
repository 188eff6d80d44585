package usecase

import (
	"strings"

	"github.com/duke-git/lancet/v2/slice"

	"yqhp/orchestration-engine/pkg/types"
)

// ExecuteCommand is the input of an execute request.
type ExecuteCommand struct {
	ModelID     string         `json:"modelId"`
	UserID      string         `json:"userId"`
	Environment string         `json:"environment,omitempty"`
	DryRun      bool           `json:"dryRun,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`
}

// validate checks the command shape before any lookup. An empty environment
// selects the first configured one.
func (c *ExecuteCommand) validate(environments []string) error {
	c.ModelID = strings.TrimSpace(c.ModelID)
	c.UserID = strings.TrimSpace(c.UserID)
	if c.ModelID == "" {
		return newError(KindValidation, "modelId is required", nil)
	}
	if c.UserID == "" {
		return newError(KindValidation, "userId is required", nil)
	}
	if c.Environment == "" && len(environments) > 0 {
		c.Environment = environments[0]
	}
	if len(environments) > 0 && !slice.Contain(environments, c.Environment) {
		return newError(KindValidation, "Unknown environment: "+c.Environment, nil)
	}
	return nil
}

// canExecute reports whether the user may execute the model: the owner or
// anyone listed as an executor.
func canExecute(m *types.FunctionModel, userID string) bool {
	if m.Permissions.Owner == userID {
		return true
	}
	return slice.Contain(m.Permissions.Executors, userID)
}
