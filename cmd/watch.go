package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"yqhp/orchestration-engine/internal/broadcast"
	"yqhp/orchestration-engine/internal/events"
)

// watchCmd 是 watch 子命令
var watchCmd = &cobra.Command{
	Use:   "watch <executionId>",
	Short: "订阅执行事件流",
	Long: `通过 Redis 广播订阅某次执行的实时事件，直到执行结束或收到中断信号。
需要 broadcast.driver=redis，并与服务端使用相同的 channel 前缀。`,
	Example: `  orchestrator watch 6f1c... --set broadcast.driver=redis --set redis.addr=localhost:6379`,
	Args: cobra.ExactArgs(1),
	RunE: watchExecution,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func watchExecution(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	if cfg.Broadcast.Driver != "redis" {
		return fmt.Errorf("watch 需要 broadcast.driver=redis，当前为 %q", cfg.Broadcast.Driver)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := broadcast.NewRedisBroadcaster(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("连接 Redis 失败: %w", err)
	}
	defer b.Close()

	return follow(ctx, b, broadcast.ExecutionChannel(cfg.Broadcast.ChannelPrefix, args[0]), eventPrinter(cmd.OutOrStdout()))
}

// follow relays channel messages to h until a terminal workflow event
// arrives or ctx ends.
func follow(ctx context.Context, b broadcast.Broadcaster, channel string, h events.Handler) error {
	sub, err := b.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			e := events.Event{
				Type:        events.EventType(msg.EventType),
				AggregateID: msg.AggregateID,
				UserID:      msg.UserID,
				Timestamp:   msg.Timestamp,
				Data:        msg.EventData,
			}
			if err := h.Handle(ctx, e); err != nil {
				return err
			}
			if isFinal(e.Type) {
				return nil
			}
		}
	}
}

func isFinal(t events.EventType) bool {
	switch t {
	case events.WorkflowExecutionCompleted, events.WorkflowExecutionFailed, events.WorkflowExecutionCancelled:
		return true
	}
	return false
}
