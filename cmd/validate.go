package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"yqhp/orchestration-engine/internal/graph"
	"yqhp/orchestration-engine/internal/store"
)

// validateCmd 是 validate 子命令
var validateCmd = &cobra.Command{
	Use:   "validate <model.yaml>...",
	Short: "校验函数模型",
	Long: `校验一个或多个模型文件的结构：唯一 ID、依赖引用、动作归属与循环依赖。
校验通过时输出拓扑执行顺序。`,
	Example: `  orchestrator validate pipeline.yaml
  orchestrator validate models/*.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: validateModels,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateModels(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		m, err := store.LoadModelFile(path)
		if err == nil {
			err = graph.Validate(m)
		}
		if err != nil {
			failed++
			fmt.Fprintf(out, "✗ %s\n  %s\n", path, strings.ReplaceAll(err.Error(), "; ", "\n  "))
			continue
		}
		order, err := graph.TopologicalOrder(m)
		if err != nil {
			failed++
			fmt.Fprintf(out, "✗ %s\n  %s\n", path, err)
			continue
		}
		fmt.Fprintf(out, "✓ %s (%s)\n", path, m.ID)
		if !quiet {
			fmt.Fprintf(out, "  执行顺序: %s\n", strings.Join(order, " → "))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d/%d 个模型校验失败", failed, len(args))
	}
	return nil
}
