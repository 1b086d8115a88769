package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/wwwzy/PaperFast/internal/agent"
	"github.com/wwwzy/PaperFast/internal/session"
	"github.com/wwwzy/PaperFast/internal/trace"
)

type ConsoleChatUI struct {
	In  io.Reader
	Out io.Writer
}

func (u *ConsoleChatUI) Run(ctx context.Context, backend ChatBackend, opts ChatOptions) error {
	if u.In == nil {
		return fmt.Errorf("console ui: In is nil")
	}
	if u.Out == nil {
		return fmt.Errorf("console ui: Out is nil")
	}

	var mu sync.Mutex
	out := u.Out
	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	if opts.ShowProgress {
		ctx = trace.WithEmitter(ctx, func(ev trace.Event) {
			if line := ProgressLine(ev); line != "" {
				printf("  · %s\n", line)
			}
		})
	}

	reader := bufio.NewReader(u.In)
	sess := NewSession(opts)

	printf("PaperFast chat. RAG mode: %s. Type /help for commands, exit to quit.\n", onOff(sess.RAGEnabled))
	for _, m := range sess.Messages {
		printf("%s: %s\n", DisplayRole(m.Role), m.Content)
	}

	for {
		select {
		case <-ctx.Done():
			printf("Bye.\n")
			return nil
		default:
		}

		printf("You: ")
		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || strings.TrimSpace(line) == "") {
			if errors.Is(err, io.EOF) {
				printf("\nBye.\n")
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if cmd := HandleCommand(sess, line); cmd.Handled {
			if cmd.Quit {
				printf("Bye.\n")
				return nil
			}
			printf("%s\n", cmd.Output)
			continue
		}

		res, err := backend.Turn(ctx, sess.Request(line))
		switch {
		case errors.Is(err, session.ErrPersist):
			sess.Apply(res)
			printf("%s: %s\n", DisplayRole(res.Reply().Role), strings.TrimSpace(res.Reply().Content))
			printf("(notice: %v)\n", err)
		case err != nil:
			if ctx.Err() != nil {
				printf("Bye.\n")
				return nil
			}
			printf("Error: %v\n", err)
		default:
			sess.Apply(res)
			printf("%s: %s\n", DisplayRole(res.Reply().Role), strings.TrimSpace(res.Reply().Content))
		}
		printf("\n")
	}
}

// ProgressLine 把进度事件转成一行可读文本，不需要展示的事件返回空字符串。
func ProgressLine(ev trace.Event) string {
	switch ev.Kind {
	case trace.EventNodeStart:
		return DisplayRole(ev.Node) + " started"
	case trace.EventNodeEnd:
		if ev.Node == string(agent.MasterAgent) && ev.Detail != "" {
			return "routed to " + DisplayRole(ev.Detail)
		}
		return ""
	case trace.EventStage:
		return DisplayRole(ev.Node) + ": " + strings.ReplaceAll(ev.Stage, "_", " ")
	case trace.EventTool:
		return fmt.Sprintf("%s: tool %s %s", DisplayRole(ev.Node), ev.Stage, ev.Detail)
	default:
		return ""
	}
}

// DisplayRole 返回角色的展示名称。
func DisplayRole(role string) string {
	switch role {
	case agent.RoleUser:
		return "You"
	case string(agent.MasterAgent):
		return "Router"
	case string(agent.GeneralAgent):
		return "General"
	case string(agent.SearchAgent):
		return "Paper search"
	case string(agent.SummaryAgent):
		return "Summary"
	case string(agent.RAGAgent):
		return "Document QA"
	default:
		return role
	}
}
