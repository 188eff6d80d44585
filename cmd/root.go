// Package cmd 提供 orchestration-engine CLI 的命令实现
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"yqhp/orchestration-engine/internal/config"
	"yqhp/orchestration-engine/pkg/logger"
)

const (
	// Version 是当前版本号
	Version = "0.1.0"
	// Banner 是版本信息模板
	Banner = `
   ___          _               _             _
  / _ \ _ _ ___| |_  ___ ___ __| |_ _ _ __ _| |_ ___ _ _
 | (_) | '_/ _| ' \/ -_)_-</ _|  _| '_/ _' |  _/ _ \ '_|
  \___/|_| \__|_||_\___/__/\__|\__|_| \__,_|\__\___/_|   %s
`
)

var (
	// 全局配置
	cfgFile    string
	debug      bool
	quiet      bool
	setConfigs []string
)

// rootCmd 是根命令
var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "函数模型编排引擎",
	Long: `orchestrator 执行由容器节点和动作节点组成的函数模型，
支持依赖拓扑调度、重试、嵌套模型、分层上下文访问控制以及审计事件流水。`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "启用调试日志")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "静默模式")
	rootCmd.PersistentFlags().StringArrayVar(&setConfigs, "set", nil, "覆盖配置项 (可多次指定)，格式: section.key=value")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate(fmt.Sprintf(Banner, Version) + "\n")
}

// GetRootCmd 返回根命令（用于测试）
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// loadConfig loads defaults < file < env < --set, validates, and initialises
// the logger.
func loadConfig() (*config.Config, error) {
	overrides, err := parsePairs(setConfigs)
	if err != nil {
		return nil, err
	}
	if debug {
		overrides["logging.level"] = "debug"
	}
	if quiet {
		if _, ok := overrides["logging.level"]; !ok {
			overrides["logging.level"] = "error"
		}
	}
	cfg, err := config.LoadAndValidate(cfgFile, overrides)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Logging.LoggerConfig())
	return cfg, nil
}

// parsePairs parses repeated key=value flags.
func parsePairs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid key=value pair: %q", p)
		}
		out[strings.TrimSpace(key)] = value
	}
	return out, nil
}
