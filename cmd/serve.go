package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yqhp/orchestration-engine/api/rest"
	"yqhp/orchestration-engine/pkg/logger"
)

var (
	// serve 命令的 flags
	serveAddress   string
	serveKnowledge []string
	serveAccessLog bool
)

// serveCmd 是 serve 子命令
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP 服务",
	Long: `启动 REST API 服务，提供执行、控制 (暂停/恢复/停止)、状态查询
与分层上下文访问接口。收到 SIGINT/SIGTERM 时停止所有进行中的执行并退出。`,
	Example: `  orchestrator serve --config config.yaml
  orchestrator serve --address :9090 --set database.model_dir=./models`,
	Args: cobra.NoArgs,
	RunE: serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveAddress, "address", "a", "", "监听地址 (覆盖配置)")
	serveCmd.Flags().StringArrayVar(&serveKnowledge, "knowledge", nil, "知识文档 (可多次指定)，格式: name=file.json")
	serveCmd.Flags().BoolVar(&serveAccessLog, "access-log", true, "输出访问日志")
}

func serve(cmd *cobra.Command, _ []string) error {
	if serveAddress != "" {
		setConfigs = append(setConfigs, "server.address="+serveAddress)
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	defer logger.Sync()

	kb, err := loadKnowledge(serveKnowledge)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, kb)
	if err != nil {
		return err
	}

	server := rest.NewServer(a.usecase, cfg.Server, rest.WithAccessLog(serveAccessLog))
	logger.Info("orchestrator listening",
		zap.String("address", cfg.Server.Address),
		zap.String("store", cfg.Database.Driver),
		zap.String("broadcast", cfg.Broadcast.Driver))
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), Banner+"\n", Version)
	}

	serveErr := server.StartWithContext(ctx)
	logger.Info("orchestrator shutting down")
	if err := a.close(30 * time.Second); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
	}
	return serveErr
}
