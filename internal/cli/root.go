package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wwwzy/PaperFast/internal/config"
	"goa.design/clue/log"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd 是没有子命令时调用的基础命令
var rootCmd = &cobra.Command{
	Use:   "paperfast",
	Short: "PaperFast 是一个面向论文阅读的多 Agent 问答助手",
	Long: `PaperFast 根据问题把对话路由到通用、论文检索、摘要或文档问答 Agent，
并可基于本地索引的论文内容回答问题。`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}
		return nil
	},
}

// Execute 将所有子命令添加到根命令并适当设置标志。
// 这由 main.main() 调用。它只需要对 rootCmd 调用一次。
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件（默认按 ./config.yaml、$HOME/.paperfast/config.yaml 搜索）")
}

// commandContext 返回带日志配置的命令上下文。
func commandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	// 日志写到 stderr，stdout 只留给回答和命令输出
	ctx = log.Context(ctx, log.WithFormat(format), log.WithOutput(os.Stderr))
	if cfg != nil && strings.EqualFold(cfg.LogLevel, "debug") {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	return ctx
}
