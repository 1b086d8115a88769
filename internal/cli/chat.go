package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/wwwzy/PaperFast/internal/retention"
	"github.com/wwwzy/PaperFast/internal/tui"
	"github.com/wwwzy/PaperFast/internal/ui"
)

var (
	chatUI           string
	chatRAG          bool
	chatDocs         []string
	chatConversation uint64
	chatProgress     bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "进入交互式对话模式",
	Long: `进入交互式对话，问题会被路由到合适的 Agent 回答。
开启 RAG 模式后只会使用摘要与文档问答 Agent，并基于已索引的论文作答。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		svc, err := a.newService(ctx)
		if err != nil {
			return err
		}

		if cfg.Retention.Enabled {
			pruner, err := retention.NewPruner(cfg.Retention, a.store)
			if err != nil {
				return err
			}
			if err := pruner.Start(ctx); err != nil {
				return err
			}
			defer func() {
				pruner.Stop()
				_ = pruner.Wait()
			}()
		}

		opts := ui.ChatOptions{
			RAGEnabled:   chatRAG,
			Sources:      chatDocs,
			ShowProgress: chatProgress,
		}
		if cmd.Flags().Changed("conversation") {
			msgs, err := a.history.Load(ctx, chatConversation)
			if err != nil {
				return fmt.Errorf("加载对话 %d 失败: %w", chatConversation, err)
			}
			id := chatConversation
			opts.ConversationID = &id
			opts.History = msgs
		}

		var uiImpl ui.ChatUI
		switch chatUI {
		case "console", "":
			uiImpl = &ui.ConsoleChatUI{In: os.Stdin, Out: os.Stdout}
		case "tui":
			uiImpl = &tui.ChatUI{}
		default:
			return fmt.Errorf("未知 ui 类型: %s (支持: console, tui)", chatUI)
		}
		return uiImpl.Run(ctx, svc, opts)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatUI, "ui", "console", "交互界面类型: console/tui")
	chatCmd.Flags().BoolVar(&chatRAG, "rag", false, "开启 RAG 模式")
	chatCmd.Flags().StringSliceVar(&chatDocs, "docs", nil, "限定检索的文档（文件名，可重复）")
	chatCmd.Flags().Uint64Var(&chatConversation, "conversation", 0, "继续指定 ID 的对话")
	chatCmd.Flags().BoolVar(&chatProgress, "progress", false, "显示 Agent 运行进度")
}
