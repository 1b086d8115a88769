package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wwwzy/PaperFast/internal/agent"
	"github.com/wwwzy/PaperFast/internal/session"
	"github.com/wwwzy/PaperFast/internal/trace"
	"github.com/wwwzy/PaperFast/internal/ui"
	"github.com/wwwzy/PaperFast/internal/workflow"
)

var (
	askRAG      bool
	askDocs     []string
	askSave     bool
	askProgress bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "单次提问",
	Long:  `对一个问题运行一次完整的工作流并输出回答；使用 --save 时会保存为新对话。`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		query := strings.TrimSpace(strings.Join(args, " "))
		if query == "" {
			return errors.New("question is empty")
		}
		out := cmd.OutOrStdout()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if askSave {
			svc, err := a.newService(ctx)
			if err != nil {
				return err
			}
			if askProgress {
				ctx = trace.WithEmitter(ctx, func(ev trace.Event) {
					if line := ui.ProgressLine(ev); line != "" {
						fmt.Fprintf(cmd.ErrOrStderr(), "  · %s\n", line)
					}
				})
			}
			res, err := svc.Turn(ctx, session.TurnRequest{Query: query, RAGEnabled: askRAG, Sources: askDocs})
			if err != nil && !errors.Is(err, session.ErrPersist) {
				return err
			}
			printReply(cmd, res.Reply())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\n(saved as conversation #%d)\n", res.ConversationID)
			return nil
		}

		wf, err := a.newWorkflow(ctx)
		if err != nil {
			return err
		}
		s := wf.Stream(ctx, workflow.Request{
			Messages:   []agent.Message{{Role: agent.RoleUser, Content: query}},
			RAGEnabled: askRAG,
			Sources:    askDocs,
		})
		for ev := range s.Events() {
			if !askProgress {
				continue
			}
			if line := ui.ProgressLine(ev); line != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "  · %s\n", line)
			}
		}
		state, err := s.Result()
		if err != nil {
			return err
		}
		if n := len(state.Messages); n > 0 {
			printReply(cmd, state.Messages[n-1])
		}
		return nil
	},
}

func printReply(cmd *cobra.Command, msg agent.Message) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s:\n%s\n", ui.DisplayRole(msg.Role), msg.Content)
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().BoolVar(&askRAG, "rag", false, "开启 RAG 模式")
	askCmd.Flags().StringSliceVar(&askDocs, "docs", nil, "限定检索的文档（文件名，可重复）")
	askCmd.Flags().BoolVar(&askSave, "save", false, "保存为新对话")
	askCmd.Flags().BoolVar(&askProgress, "progress", false, "在 stderr 输出 Agent 运行进度")
}
