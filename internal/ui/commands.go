package ui

import (
	"fmt"
	"strings"
)

// Command 是对话中以 / 开头的控制命令的执行结果。
type Command struct {
	Quit    bool
	Handled bool
	Output  string
}

// HandleCommand 解析控制命令：/rag on|off、/docs a.pdf,b.pdf、/docs clear、/new、/help、exit。
// 普通文本返回 Handled=false。
func HandleCommand(s *Session, line string) Command {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "exit", "quit", "/exit", "/quit":
		return Command{Quit: true, Handled: true}
	}
	if !strings.HasPrefix(line, "/") {
		return Command{}
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "new":
		s.Reset()
		return Command{Handled: true, Output: "Started a new conversation."}
	case "rag":
		switch strings.ToLower(arg) {
		case "on":
			s.RAGEnabled = true
		case "off":
			s.RAGEnabled = false
		case "":
		default:
			return Command{Handled: true, Output: "usage: /rag on|off"}
		}
		return Command{Handled: true, Output: fmt.Sprintf("RAG mode: %s", onOff(s.RAGEnabled))}
	case "docs":
		switch strings.ToLower(arg) {
		case "":
		case "clear":
			s.Sources = nil
		default:
			s.Sources = s.Sources[:0:0]
			for _, src := range strings.Split(arg, ",") {
				if src = strings.TrimSpace(src); src != "" {
					s.Sources = append(s.Sources, src)
				}
			}
		}
		if len(s.Sources) == 0 {
			return Command{Handled: true, Output: "Selected documents: (all)"}
		}
		return Command{Handled: true, Output: "Selected documents: " + strings.Join(s.Sources, ", ")}
	case "help":
		return Command{Handled: true, Output: helpText}
	default:
		return Command{Handled: true, Output: fmt.Sprintf("unknown command /%s, type /help", name)}
	}
}

const helpText = `/rag on|off        restrict answers to indexed documents
/docs a.pdf,b.pdf  select documents (/docs clear for all)
/new               start a new conversation
exit               quit`

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
