// Package tui renders the dashboard view-model in the terminal.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"botdash/internal/viewmodel"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
)

// Commands are the operator actions reachable from the keyboard.
type Commands interface {
	Refresh(ctx context.Context) error
	ToggleBot(ctx context.Context) error
}

// StatusFunc describes the sync channel for the header.
type StatusFunc func() string

type updateMsg struct {
	vm viewmodel.ViewModel
}

type tickMsg time.Time

type commandDoneMsg struct {
	name string
	err  error
}

const (
	commandTimeout = 15 * time.Second
	minPanelWidth  = 40
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	greenStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	redStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	yellowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	blueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("39")).Padding(0, 1)
)

// Model is the bubbletea model. It only ever reads the view-model.
type Model struct {
	ctx      context.Context
	vm       viewmodel.ViewModel
	commands Commands
	status   StatusFunc
	now      func() time.Time

	width   int
	height  int
	pending string
	lastErr string
}

func NewModel(ctx context.Context, initial viewmodel.ViewModel, commands Commands, status StatusFunc) Model {
	if status == nil {
		status = func() string { return "" }
	}
	return Model{
		ctx:      ctx,
		vm:       initial,
		commands: commands,
		status:   status,
		now:      time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			if m.commands != nil {
				return m.run("refresh", m.commands.Refresh)
			}
		case "s":
			if m.commands != nil {
				return m.run("start/stop", m.commands.ToggleBot)
			}
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case updateMsg:
		m.vm = msg.vm
	case tickMsg:
		return m, tick()
	case commandDoneMsg:
		m.pending = ""
		m.lastErr = ""
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("%s: %v", msg.name, msg.err)
		}
	}
	return m, nil
}

// run executes one command at a time off the UI goroutine.
func (m Model) run(name string, fn func(context.Context) error) (tea.Model, tea.Cmd) {
	if m.pending != "" {
		return m, nil
	}
	m.pending = name
	ctx := m.ctx
	return m, func() tea.Msg {
		cctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		return commandDoneMsg{name: name, err: fn(cctx)}
	}
}

func (m Model) View() string {
	width := m.width - 4
	if width < 2*minPanelWidth {
		width = 2 * minPanelWidth
	}
	half := width/2 - 1

	left := panelStyle.Width(half).Render(strings.Join([]string{
		m.renderBot(),
		"",
		m.renderAccount(),
		"",
		m.renderPositions(half),
	}, "\n"))
	right := panelStyle.Width(half).Render(strings.Join([]string{
		m.renderMarket(),
		"",
		m.renderMessages(half),
		"",
		m.renderSignals(half),
	}, "\n"))

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right),
		m.renderFooter(),
	)
}

func (m Model) renderHeader() string {
	title := fmt.Sprintf("Bot Dashboard | %s | %s", m.status(), m.now().Format("15:04:05"))
	return headerStyle.Render(title)
}

func (m Model) renderFooter() string {
	keys := mutedStyle.Render("q quit  r refresh  s start/stop")
	switch {
	case m.pending != "":
		return keys + "  " + yellowStyle.Render(m.pending+"…")
	case m.lastErr != "":
		return keys + "  " + redStyle.Render(m.lastErr)
	}
	return keys
}

func (m Model) renderBot() string {
	b := m.vm.BotStatus
	state := redStyle.Render("STOPPED")
	if b.Running {
		state = greenStyle.Render("RUNNING")
	}
	lines := []string{
		titleStyle.Render("Bot"),
		fmt.Sprintf("State: %s  Risk: %.2f%%", state, b.RiskPct),
	}
	if !b.LastUpdated.IsZero() {
		lines = append(lines, mutedStyle.Render("Updated "+b.LastUpdated.Local().Format("15:04:05")))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderAccount() string {
	a := m.vm.Account
	return strings.Join([]string{
		titleStyle.Render("Account"),
		fmt.Sprintf("Balance:   %s", money(a.Balance)),
		fmt.Sprintf("Equity:    %s", money(a.Equity)),
		fmt.Sprintf("Available: %s", money(a.Available)),
		fmt.Sprintf("Drawdown:  %.2f%%", a.DrawdownPct),
	}, "\n")
}

func (m Model) renderPositions(width int) string {
	lines := []string{
		titleStyle.Render(fmt.Sprintf("Positions (%d)  PnL %s", len(m.vm.Positions), signed(m.vm.TotalPnL()))),
		strings.Repeat("─", max(width-4, 1)),
	}
	if len(m.vm.Positions) == 0 {
		return strings.Join(append(lines, mutedStyle.Render("no open positions")), "\n")
	}
	for _, p := range m.vm.Positions {
		lines = append(lines, fmt.Sprintf("%-10s %-4s %10s @ %-10s %s (%.2f%%)",
			p.Symbol, p.Side, p.Amount.String(), p.EntryPrice.String(), signed(p.PnL), p.PnLPercent))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderMarket() string {
	lines := []string{titleStyle.Render("Market")}
	symbols := m.vm.Market.Symbols()
	if len(symbols) == 0 {
		return strings.Join(append(lines, mutedStyle.Render("no prices")), "\n")
	}
	for _, s := range symbols {
		lines = append(lines, fmt.Sprintf("%-10s %s", s, m.vm.Market.Prices[s].String()))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderMessages(width int) string {
	lines := []string{titleStyle.Render("Messages"), strings.Repeat("─", max(width-4, 1))}
	for _, msg := range m.vm.Messages {
		lines = append(lines, fmt.Sprintf("%s %s",
			mutedStyle.Render(msg.Timestamp.Local().Format("15:04:05")),
			levelStyle(msg.Level).Render(msg.Content)))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderSignals(width int) string {
	lines := []string{titleStyle.Render("Signals"), strings.Repeat("─", max(width-4, 1))}
	for _, s := range m.vm.Signals {
		lines = append(lines, fmt.Sprintf("%s %-10s %-5s %s %s",
			mutedStyle.Render(s.Timestamp.Local().Format("15:04:05")),
			s.Symbol, s.Action, s.Price.String(), mutedStyle.Render(s.Reason)))
	}
	return strings.Join(lines, "\n")
}

func levelStyle(l viewmodel.Level) lipgloss.Style {
	switch l {
	case viewmodel.LevelSuccess:
		return greenStyle
	case viewmodel.LevelWarning:
		return yellowStyle
	case viewmodel.LevelDanger:
		return redStyle
	default:
		return blueStyle
	}
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func signed(d decimal.Decimal) string {
	s := d.StringFixed(2)
	if d.IsNegative() {
		return redStyle.Render(s)
	}
	return greenStyle.Render("+" + s)
}

// Run shows the UI until the user quits or ctx is cancelled. Store updates
// are coalesced so a burst of merges costs one redraw.
func Run(ctx context.Context, view viewmodel.Reader, commands Commands, status StatusFunc) error {
	p := tea.NewProgram(NewModel(ctx, view.Current(), commands, status),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	dirty := make(chan struct{}, 1)
	unsubscribe := view.Subscribe(func(viewmodel.ViewModel) {
		select {
		case dirty <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-dirty:
				p.Send(updateMsg{vm: view.Current()})
			case <-done:
				return
			}
		}
	}()

	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}
