// Package tui provides motionbridgectl's interactive dashboard: one
// row per channel showing stack depth and queue sizes, refreshed every
// two seconds. Grounded on strandctl's pkg/tui/model.go (tab-less here,
// since there is only one data source to show) — same tickMsg/dataMsg/
// errMsg message shapes, same bubbletea/lipgloss styling approach.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"motionbridge/pkg/channel"
	"motionbridge/pkg/ctl/client"
	"motionbridge/pkg/gcode"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)

	headerCellStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			PaddingRight(2)

	rowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			PaddingRight(2)

	altRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Background(lipgloss.Color("236")).
			PaddingRight(2)

	abortedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			PaddingLeft(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")).
			Bold(true).
			PaddingLeft(1)
)

const refreshInterval = 2 * time.Second

type tickMsg time.Time

type dataMsg struct {
	stats []channel.Stats
}

type errMsg error

// Model is the top-level bubbletea model for motionbridgectl dashboard.
type Model struct {
	cl        *client.Client
	socket    string
	stats     []channel.Stats
	width     int
	height    int
	err       error
	loading   bool
	lastFetch time.Time
}

// New returns a Model that polls cl for channel status.
func New(cl *client.Client, socketPath string) Model {
	return Model{cl: cl, socket: socketPath, loading: true}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), fetchStatus(m.cl))
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func fetchStatus(cl *client.Client) tea.Cmd {
	return func() tea.Msg {
		stats, err := cl.Status("")
		if err != nil {
			return errMsg(err)
		}
		sort.Slice(stats, func(i, j int) bool { return stats[i].Channel < stats[j].Channel })
		return dataMsg{stats: stats}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.loading = true
			m.err = nil
			return m, fetchStatus(m.cl)
		}
		return m, nil

	case tickMsg:
		m.loading = true
		m.err = nil
		return m, tea.Batch(tick(), fetchStatus(m.cl))

	case dataMsg:
		m.loading = false
		m.err = nil
		m.stats = msg.stats
		m.lastFetch = time.Now()
		return m, nil

	case errMsg:
		m.loading = false
		m.err = msg
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Loading…"
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("  motionbridge channels  "))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", m.width))
	sb.WriteString("\n")
	sb.WriteString(m.renderTable())
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", m.width))
	sb.WriteString("\n")
	sb.WriteString(m.renderStatus())
	return sb.String()
}

func (m Model) renderTable() string {
	if len(m.stats) == 0 {
		return dimStyle.Render("no channel data yet")
	}

	headers := []string{"CHANNEL", "STACK", "PENDING", "SENT", "FLUSH-WAIT", "LOCK-WAIT", "ABORTED", "LAST ERROR"}
	var sb strings.Builder
	for _, h := range headers {
		sb.WriteString(headerCellStyle.Render(h))
	}
	sb.WriteString("\n")

	for i, s := range m.stats {
		style := rowStyle
		if i%2 == 1 {
			style = altRowStyle
		}
		aborted := "no"
		if s.Aborted {
			aborted = abortedStyle.Render("yes")
		}
		cols := []string{
			gcode.Channel(s.Channel).String(),
			fmt.Sprintf("%d", s.StackDepth),
			fmt.Sprintf("%d", s.PendingCodes),
			fmt.Sprintf("%d", s.SentCodes),
			fmt.Sprintf("%d", s.FlushWaiters),
			fmt.Sprintf("%d", s.LockWaiters),
			aborted,
			s.LastError,
		}
		for _, c := range cols {
			sb.WriteString(style.Render(c))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m Model) renderStatus() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	}
	parts := []string{fmt.Sprintf("socket: %s", m.socket)}
	if !m.lastFetch.IsZero() {
		parts = append(parts, fmt.Sprintf("last refresh: %s", m.lastFetch.Format("15:04:05")))
	}
	if m.loading {
		parts = append(parts, "refreshing…")
	}
	parts = append(parts, "q: quit  r: refresh")
	return statusBarStyle.Render(strings.Join(parts, "  |  "))
}
