package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Dicklesworthstone/obs_stats_monitor/internal/app"
	"github.com/Dicklesworthstone/obs_stats_monitor/internal/classify"
	"github.com/Dicklesworthstone/obs_stats_monitor/internal/engine"
	"github.com/Dicklesworthstone/obs_stats_monitor/internal/hoststats"
)

// Model renders reconciled views and forwards key presses to the app.
type Model struct {
	app     *app.App
	host    *hoststats.Reader
	stream  <-chan engine.View
	latest  engine.View
	hostNow hoststats.Host
	notice  string
	width   int
	height  int
}

// New builds the dashboard. host may be nil to hide the local machine panel.
func New(a *app.App, host *hoststats.Reader) *Model {
	return &Model{
		app:    a,
		host:   host,
		stream: a.Engine().Subscribe(),
		latest: a.Engine().View(),
		width:  120,
		height: 40,
	}
}

// Messages
type (
	tickMsg     struct{}
	hostTickMsg struct{}
	commandMsg  struct{ notice string }
)

func tickCmd() tea.Cmd { return tea.Tick(time.Second/5, func(time.Time) tea.Msg { return tickMsg{} }) }

func hostTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return hostTickMsg{} })
}

func (m *Model) Init() tea.Cmd {
	if m.host != nil {
		return tea.Batch(tickCmd(), hostTickCmd())
	}
	return tickCmd()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.app.Disconnect()
			return m, tea.Quit
		case "r":
			if m.app.Reset() {
				m.notice = "counters reset"
			} else {
				m.notice = "nothing sampled yet"
			}
		case "d":
			m.notice = "disconnecting"
			return m, m.run(func() string { m.app.Disconnect(); return "disconnected" })
		case "c":
			m.notice = "connecting"
			return m, m.run(func() string {
				if err := m.app.ConnectStored(context.Background()); err != nil {
					return err.Error()
				}
				return ""
			})
		case "f":
			return m, m.run(func() string {
				if err := m.app.Forget(); err != nil {
					return err.Error()
				}
				return "saved credentials forgotten"
			})
		}
	case commandMsg:
		m.notice = msg.notice
	case hostTickMsg:
		if h, err := m.host.Read(); err == nil {
			m.hostNow = h
		}
		return m, hostTickCmd()
	case tickMsg:
		select {
		case v, ok := <-m.stream:
			if ok {
				m.latest = v
			}
		default:
		}
		return m, tickCmd()
	}
	return m, nil
}

func (m *Model) run(fn func() string) tea.Cmd {
	return func() tea.Msg { return commandMsg{notice: fn()} }
}

// Styles
var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("45"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	tierStyles  = map[classify.Tier]lipgloss.Style{
		classify.Normal:   lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		classify.Warning:  lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		classify.Critical: lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
	}
	stateStyles = map[string]lipgloss.Style{
		"connected":    lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		"connecting":   lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		"reconnecting": lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
	}
	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("60")).
			Padding(0, 1).
			MarginRight(1)
)

func (m *Model) View() string {
	v := m.latest
	state, ok := stateStyles[v.State]
	if !ok {
		state = errorStyle
	}
	header := titleStyle.Render("OBS Stats") + "  " + state.Render(v.State)
	if v.Sampled {
		header += "  " + subtleStyle.Render(v.Timestamp.Format("15:04:05"))
	}
	if m.host != nil {
		header += "  " + subtleStyle.Render(fmt.Sprintf("host cpu %4.1f%%  mem %4.1f%%", m.hostNow.CPU, m.hostNow.MemPercent))
	}

	footer := subtleStyle.Render("r reset  d disconnect  c connect  f forget  q quit")
	if err := m.app.LastError(); err != "" {
		footer += "  " + errorStyle.Render(err)
	} else if m.notice != "" {
		footer += "  " + subtleStyle.Render(m.notice)
	}

	if !v.Sampled {
		return lipgloss.JoinVertical(lipgloss.Left, header, "", subtleStyle.Render("waiting for stats…"), footer)
	}

	s := v.Stats
	engineCard := card("Engine", fmt.Sprintf(
		"CPU   %6.1f%%\nMem   %6.0f MB\nDisk  %s\nFPS   %6.2f\nFrame %6.2f ms",
		s.CPUUsage, s.MemoryUsage, formatMB(s.AvailableDiskSpace), s.ActiveFPS, s.AverageFrameRenderTime))
	renderCard := card("Render skipped", frames(v.Render, v.RenderDropped))
	outputCard := card("Output skipped", frames(v.Output, v.OutputDropped))

	line1 := lipgloss.JoinHorizontal(lipgloss.Top, engineCard, renderCard, outputCard)
	outputs := card("Outputs", renderOutputs(v.Outputs))

	return lipgloss.JoinVertical(lipgloss.Left, header, line1, outputs, footer)
}

// Helpers
func frames(r classify.Result, dropped bool) string {
	label := tierStyles[r.Tier].Render(r.Label)
	if dropped {
		label += " " + tierStyles[classify.Critical].Render("▼")
	}
	return label + "\n" + subtleStyle.Render(r.Tier.String())
}

func card(title, body string) string {
	titleStr := labelStyle.Render(title)
	content := titleStr + "\n" + body
	return cardStyle.Render(content)
}

func renderOutputs(outputs []engine.OutputView) string {
	if len(outputs) == 0 {
		return subtleStyle.Render("no outputs")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-8s %-13s %6s %11s  %s\n", "name", "state", "timecode", "cong", "bitrate", "skipped")
	for _, o := range outputs {
		st := "idle"
		switch {
		case o.Status.Reconnecting:
			st = "reconn"
		case o.Status.Active:
			st = "live"
		}
		label := tierStyles[o.Frames.Tier].Render(o.Frames.Label)
		if o.Dropped {
			label += " " + tierStyles[classify.Critical].Render("▼")
		}
		fmt.Fprintf(&b, "%-20s %-8s %-13s %5.1f%% %11s  %s\n",
			truncate(o.Name, 20), st, o.Status.Timecode, o.Status.Congestion*100, formatBitrate(o.Bitrate), label)
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func formatBitrate(bps float64) string {
	switch {
	case bps >= 1e6:
		return fmt.Sprintf("%.2f Mb/s", bps/1e6)
	case bps >= 1e3:
		return fmt.Sprintf("%.0f kb/s", bps/1e3)
	default:
		return fmt.Sprintf("%.0f b/s", bps)
	}
}

func formatMB(mb float64) string {
	if mb >= 1024 {
		return fmt.Sprintf("%6.1f GB", mb/1024)
	}
	return fmt.Sprintf("%6.0f MB", mb)
}

// RunTUI starts the Bubble Tea program.
func RunTUI(a *app.App, host *hoststats.Reader) error {
	prog := tea.NewProgram(New(a, host), tea.WithAltScreen())
	_, err := prog.Run()
	return err
}
