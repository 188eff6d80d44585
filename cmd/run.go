package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"yqhp/orchestration-engine/internal/events"
	"yqhp/orchestration-engine/internal/store"
	"yqhp/orchestration-engine/internal/usecase"
	"yqhp/orchestration-engine/pkg/logger"
	"yqhp/orchestration-engine/pkg/types"
	"yqhp/orchestration-engine/pkg/utils"
)

var (
	// run 命令的 flags
	runModelFile  string
	runModelID    string
	runUser       string
	runEnv        string
	runDryRun     bool
	runInputs     []string
	runKnowledge  []string
	runFollow     bool
	runTimeout    time.Duration
	runJSONOutput string
)

// runCmd 是 run 子命令
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "执行函数模型",
	Long: `加载并执行一个函数模型，等待执行结束后输出执行报告。

模型来源二选一：
  - --model: 从 YAML/JSON 文件加载并登记到存储
  - --model-id: 使用存储中已有的模型 (见 database.model_dir)

执行结果不是 completed 时命令以非零状态退出。`,
	Example: `  # 执行模型文件
  orchestrator run --model pipeline.yaml --user alice

  # 仅估算，不执行
  orchestrator run --model pipeline.yaml --user alice --dry-run

  # 传入参数并实时输出事件
  orchestrator run --model-id pipeline --user alice --input region=eu --input limit=10 --follow

  # 为 knowledge_lookup 动作提供知识文档
  orchestrator run --model pipeline.yaml --user alice --knowledge catalog=catalog.json`,
	Args: cobra.NoArgs,
	RunE: runModel,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runModelFile, "model", "m", "", "模型文件路径")
	runCmd.Flags().StringVar(&runModelID, "model-id", "", "存储中的模型 ID")
	runCmd.Flags().StringVarP(&runUser, "user", "u", "", "执行用户 ID")
	runCmd.Flags().StringVarP(&runEnv, "env", "e", "", "执行环境 (默认取配置中的第一个)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "只校验并估算，不执行")
	runCmd.Flags().StringArrayVarP(&runInputs, "input", "i", nil, "模型输入 (可多次指定)，格式: key=value，value 为 JSON 时按 JSON 解析")
	runCmd.Flags().StringArrayVar(&runKnowledge, "knowledge", nil, "知识文档 (可多次指定)，格式: name=file.json")
	runCmd.Flags().BoolVarP(&runFollow, "follow", "f", false, "实时输出执行事件")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "执行超时，超时后停止执行")
	runCmd.Flags().StringVar(&runJSONOutput, "out-json", "", "输出 JSON 报告到文件")
	runCmd.MarkFlagsMutuallyExclusive("model", "model-id")
}

func runModel(cmd *cobra.Command, _ []string) error {
	if runModelFile == "" && runModelID == "" {
		return fmt.Errorf("必须指定 --model 或 --model-id")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	// stdout 留给执行报告
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
		logger.Init(cfg.Logging.LoggerConfig())
	}
	defer logger.Sync()

	kb, err := loadKnowledge(runKnowledge)
	if err != nil {
		return err
	}
	inputs, err := parseInputs(runInputs)
	if err != nil {
		return err
	}

	var opts []appOption
	if runFollow {
		opts = append(opts, withEventHandler("console", eventPrinter(cmd.ErrOrStderr())))
	}

	ctx := context.Background()
	a, err := buildApp(ctx, cfg, kb, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = a.close(10 * time.Second) }()

	modelID := runModelID
	if runModelFile != "" {
		m, err := store.LoadModelFile(runModelFile)
		if err != nil {
			return fmt.Errorf("解析模型失败: %w", err)
		}
		if err := a.repo.SaveModel(ctx, m); err != nil {
			return fmt.Errorf("登记模型失败: %w", err)
		}
		modelID = m.ID
	}

	started := a.usecase.Start(ctx, usecase.ExecuteCommand{
		ModelID:     modelID,
		UserID:      runUser,
		Environment: runEnv,
		DryRun:      runDryRun,
		Inputs:      inputs,
	})
	if !started.Success {
		return fmt.Errorf("%s: %s", started.Code, started.Message)
	}
	if runDryRun {
		return writeReport(cmd.OutOrStdout(), started.Data)
	}

	id := started.Data.ExecutionID
	if !quiet {
		fmt.Fprintf(cmd.ErrOrStderr(), "执行中: %s (model=%s)\n", id, modelID)
	}

	// 处理关闭信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer close(sigCh)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			fmt.Fprintln(cmd.ErrOrStderr(), "\n正在停止执行...")
			a.usecase.StopExecution(id)
		}
	}()

	res := waitWithTimeout(a.usecase, id, runTimeout)
	if !res.Success {
		return fmt.Errorf("%s: %s", res.Code, res.Message)
	}
	if err := writeReport(cmd.OutOrStdout(), res.Data); err != nil {
		return err
	}
	if res.Data.Status != types.ExecutionStatusCompleted {
		return fmt.Errorf("执行未完成: %s", res.Data.Status)
	}
	return nil
}

// waitWithTimeout waits for the run; when the timeout fires the run is
// stopped and awaited to its cancelled outcome.
func waitWithTimeout(uc *usecase.Service, id string, timeout time.Duration) usecase.Result[*usecase.ExecutionReport] {
	if timeout <= 0 {
		return uc.Wait(context.Background(), id)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	res := uc.Wait(ctx, id)
	if res.Success || res.Code != usecase.KindExecution || ctx.Err() == nil {
		return res
	}
	uc.StopExecution(id)
	return uc.Wait(context.Background(), id)
}

// parseInputs turns key=value flags into model inputs. Values that parse as
// JSON keep their JSON type.
func parseInputs(pairs []string) (map[string]any, error) {
	raw, err := parsePairs(pairs)
	if err != nil {
		return nil, err
	}
	inputs := make(map[string]any, len(raw))
	for k, v := range raw {
		var decoded any
		if err := utils.Unmarshal([]byte(v), &decoded); err == nil {
			inputs[k] = decoded
		} else {
			inputs[k] = v
		}
	}
	return inputs, nil
}

func writeReport(w io.Writer, report *usecase.ExecutionReport) error {
	data, err := sonic.ConfigStd.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化报告失败: %w", err)
	}
	if runJSONOutput != "" {
		if err := os.WriteFile(runJSONOutput, data, 0o644); err != nil {
			return fmt.Errorf("写入 JSON 输出失败: %w", err)
		}
	}
	if quiet {
		status := string(report.Status)
		if report.DryRun {
			status = "dry-run"
		}
		_, err = fmt.Fprintln(w, status)
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// eventPrinter writes one line per delivered event.
func eventPrinter(w io.Writer) events.Handler {
	return events.HandlerFunc(func(_ context.Context, e events.Event) error {
		target := e.NodeID
		if e.ActionID != "" {
			target = e.ActionID
		}
		if target == "" {
			target = e.AggregateID
		}
		_, err := fmt.Fprintf(w, "%s  %-28s %s\n", e.Timestamp.Format("15:04:05.000"), e.Type, target)
		return err
	})
}
