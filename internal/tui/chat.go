package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/wwwzy/PaperFast/internal/agent"
	"github.com/wwwzy/PaperFast/internal/session"
	"github.com/wwwzy/PaperFast/internal/trace"
	"github.com/wwwzy/PaperFast/internal/ui"
	"goa.design/clue/log"
)

// 界面内部使用的角色，不会被保存
const (
	roleNotice = "notice"
	roleError  = "error"
)

type ChatUI struct{}

func (u *ChatUI) Run(ctx context.Context, backend ui.ChatBackend, opts ui.ChatOptions) error {
	// 日志会打乱全屏界面
	ctx = log.Context(ctx, log.WithOutput(io.Discard))

	m := newChatModel(ctx, backend, opts)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type backendResultMsg struct {
	res session.TurnResult
	err error
}

type progressMsg trace.Event

type streamTickMsg struct{}
type cancelMsg struct{}

type chatModel struct {
	ctx     context.Context
	backend ui.ChatBackend
	opts    ui.ChatOptions
	sess    *ui.Session

	// 界面上展示的消息，包含尚未得到回复的用户消息与提示
	display []agent.Message

	progress  chan trace.Event
	listening bool
	stage     string

	width  int
	height int

	viewport   viewport.Model
	input      textinput.Model
	spinner    spinner.Model
	thinking   bool
	followTail bool

	streaming  bool
	streamIdx  int
	streamPos  int
	streamFull string

	renderer *glamour.TermRenderer
}

func newChatModel(ctx context.Context, backend ui.ChatBackend, opts ui.ChatOptions) chatModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot

	ti := textinput.New()
	ti.Placeholder = "Ask about papers, /help for commands"
	ti.Prompt = ""
	ti.Focus()

	vp := viewport.New(0, 0)
	vp.SetContent("")

	sess := ui.NewSession(opts)
	return chatModel{
		ctx:        ctx,
		backend:    backend,
		opts:       opts,
		sess:       sess,
		display:    append([]agent.Message(nil), sess.Messages...),
		progress:   make(chan trace.Event, 64),
		viewport:   vp,
		input:      ti,
		spinner:    s,
		followTail: true,
		streamIdx:  -1,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitCancel(m.ctx))
}

func waitCancel(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return cancelMsg{}
	}
}

// waitProgress 等待下一条进度事件。
func waitProgress(ctx context.Context, ch <-chan trace.Event) tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-ch:
			return progressMsg(ev)
		case <-ctx.Done():
			return nil
		}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case cancelMsg:
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		inputHeight := 3
		footerHeight := 1
		headerHeight := 1
		chatHeight := max(1, m.height-inputHeight-footerHeight-headerHeight)

		m.viewport.Width = m.width
		m.viewport.Height = chatHeight
		m.input.Width = max(10, m.width-4)

		m.resetMarkdownRenderer()
		m.updateViewportContent(m.renderChat())
		return m, nil

	case spinner.TickMsg:
		if m.thinking {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case progressMsg:
		if line := ui.ProgressLine(trace.Event(msg)); line != "" {
			m.stage = line
		}
		if m.thinking {
			return m, waitProgress(m.ctx, m.progress)
		}
		m.listening = false
		return m, nil

	case backendResultMsg:
		m.thinking = false
		m.stage = ""
		switch {
		case errors.Is(msg.err, session.ErrPersist):
			m.sess.Apply(msg.res)
			m.display = append([]agent.Message(nil), m.sess.Messages...)
			m.display = append(m.display, agent.Message{Role: roleNotice, Content: msg.err.Error()})
		case msg.err != nil:
			m.display = append(m.display, agent.Message{Role: roleError, Content: fmt.Sprintf("Error: %v", msg.err)})
		default:
			m.sess.Apply(msg.res)
			m.display = append([]agent.Message(nil), m.sess.Messages...)
		}
		m.followTail = true
		m.startStreaming()
		m.updateViewportContent(m.renderChat())
		if m.streaming {
			return m, streamTick()
		}
		return m, nil

	case streamTickMsg:
		if !m.streaming {
			return m, nil
		}
		m.streamPos = runeBoundary(m.streamFull, m.streamPos+32)
		if m.streamPos >= len(m.streamFull) {
			m.streaming = false
		}
		m.updateViewportContent(m.renderChat())
		if m.streaming {
			return m, streamTick()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "pgup", "pageup":
			m.viewport.PageUp()
			m.followTail = false
			return m, nil
		case "pgdown", "pagedown":
			m.viewport.PageDown()
			if m.viewport.AtBottom() {
				m.followTail = true
			}
			return m, nil
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)

		if msg.String() != "enter" || m.thinking {
			return m, cmd
		}
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, cmd
		}
		m.input.SetValue("")

		if c := ui.HandleCommand(m.sess, text); c.Handled {
			if c.Quit {
				return m, tea.Quit
			}
			if strings.HasPrefix(strings.ToLower(text), "/new") {
				m.display = nil
			}
			m.display = append(m.display, agent.Message{Role: roleNotice, Content: c.Output})
			m.followTail = true
			m.updateViewportContent(m.renderChat())
			return m, cmd
		}

		m.display = append(m.display, agent.Message{Role: agent.RoleUser, Content: text})
		m.followTail = true
		m.streaming = false
		m.updateViewportContent(m.renderChat())

		m.thinking = true
		cmds := []tea.Cmd{cmd, m.spinner.Tick, m.invokeBackend(text)}
		if !m.listening {
			m.listening = true
			cmds = append(cmds, waitProgress(m.ctx, m.progress))
		}
		return m, tea.Batch(cmds...)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) invokeBackend(query string) tea.Cmd {
	req := m.sess.Request(query)
	ch := m.progress
	ctx := trace.WithEmitter(m.ctx, func(ev trace.Event) {
		// 界面来不及处理时丢弃进度事件
		select {
		case ch <- ev:
		default:
		}
	})
	backend := m.backend
	return func() tea.Msg {
		res, err := backend.Turn(ctx, req)
		return backendResultMsg{res: res, err: err}
	}
}

func streamTick() tea.Cmd {
	return tea.Tick(45*time.Millisecond, func(time.Time) tea.Msg { return streamTickMsg{} })
}

// startStreaming 逐段展示最后一条 Agent 回复。
func (m *chatModel) startStreaming() {
	m.streaming = false
	m.streamIdx = -1
	if len(m.display) == 0 {
		return
	}
	i := len(m.display) - 1
	if m.display[i].Role == roleNotice && i > 0 {
		i--
	}
	last := m.display[i]
	if !agent.AgentType(last.Role).IsSpecialized() || strings.TrimSpace(last.Content) == "" {
		return
	}
	m.streaming = true
	m.streamIdx = i
	m.streamFull = last.Content
	m.streamPos = runeBoundary(m.streamFull, 32)
}

// runeBoundary 把 pos 调整到不超过 len(s) 的下一个字符边界。
func runeBoundary(s string, pos int) int {
	if pos >= len(s) {
		return len(s)
	}
	for pos < len(s) && !utf8.RuneStart(s[pos]) {
		pos++
	}
	return pos
}

func (m chatModel) View() string {
	header := lipgloss.NewStyle().Bold(true).Render("PaperFast") + "  " + m.statusView()
	return lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View(), m.inputView(), m.footerView())
}

func (m chatModel) statusView() string {
	parts := []string{"RAG " + strings.ToUpper(onOff(m.sess.RAGEnabled))}
	if len(m.sess.Sources) > 0 {
		parts = append(parts, "docs: "+strings.Join(m.sess.Sources, ", "))
	}
	if m.sess.ConversationID != nil {
		parts = append(parts, fmt.Sprintf("#%d", *m.sess.ConversationID))
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render(strings.Join(parts, " · "))
}

func (m chatModel) footerView() string {
	left := "Enter send | PgUp/PgDn scroll | Ctrl+C quit"
	right := ""
	if m.thinking {
		right = m.spinner.View() + " Thinking..."
		if m.stage != "" {
			right = m.spinner.View() + " " + m.stage
		}
	}
	style := lipgloss.NewStyle().Width(m.width).Padding(0, 1)
	gap := lipgloss.NewStyle().Width(max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)-2)).Render("")
	return style.Render(lipgloss.JoinHorizontal(lipgloss.Left, left, gap, right))
}

func (m chatModel) inputView() string {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1).
		Width(max(1, m.input.Width+2)).
		Render(m.input.View())
}

func (m *chatModel) updateViewportContent(content string) {
	oldYOffset := m.viewport.YOffset
	m.viewport.SetContent(content)
	if m.followTail {
		m.viewport.GotoBottom()
		return
	}
	m.viewport.SetYOffset(oldYOffset)
}

func (m *chatModel) resetMarkdownRenderer() {
	if m.width <= 0 {
		return
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(m.bubbleMaxContentWidth()),
	)
	if err == nil {
		m.renderer = r
	}
}

func (m chatModel) renderChat() string {
	if m.width <= 0 {
		m.width = 80
	}

	var b strings.Builder
	for i, msg := range m.display {
		content := msg.Content
		if m.streaming && m.streamIdx == i {
			content = m.streamFull[:m.streamPos]
		}
		content = strings.TrimRight(content, "\n")
		if strings.TrimSpace(content) == "" {
			continue
		}
		b.WriteString(m.renderOneMessage(msg.Role, content))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m chatModel) bubbleMaxContentWidth() int {
	if m.width <= 0 {
		return 72
	}
	return max(20, m.width-8)
}

func (m chatModel) desiredContentWidth(s string) int {
	w := max(10, maxLineWidth(s))
	return min(m.bubbleMaxContentWidth(), w)
}

func (m chatModel) wrapToWidth(s string, width int) string {
	if width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(width).Render(s)
}

func maxLineWidth(s string) int {
	s = strings.TrimRight(s, "\n")
	if strings.TrimSpace(s) == "" {
		return 0
	}
	maxW := 0
	for _, line := range strings.Split(s, "\n") {
		maxW = max(maxW, lipgloss.Width(strings.TrimRight(line, " ")))
	}
	return maxW
}

func (m chatModel) renderOneMessage(role, content string) string {
	switch {
	case role == agent.RoleUser:
		return m.renderUser(content)
	case role == roleNotice || role == roleError:
		return m.renderNotice(content)
	default:
		return m.renderAgent(role, content)
	}
}

func (m chatModel) renderAgent(role, content string) string {
	md := content
	if m.renderer != nil && strings.TrimSpace(md) != "" {
		if rendered, err := m.renderer.Render(md); err == nil {
			md = strings.TrimRight(rendered, "\n")
		}
	}
	md = m.wrapToWidth(md, m.desiredContentWidth(md))
	label := lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true).Render(ui.DisplayRole(role))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(label + "\n" + md)
}

func (m chatModel) renderUser(content string) string {
	content = m.wrapToWidth(content, m.desiredContentWidth(content))
	bubble := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("205")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(content)
	return lipgloss.NewStyle().Width(m.width).Align(lipgloss.Right).Render(bubble)
}

func (m chatModel) renderNotice(content string) string {
	content = m.wrapToWidth(content, m.desiredContentWidth(content))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Foreground(lipgloss.Color("245")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(content)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
