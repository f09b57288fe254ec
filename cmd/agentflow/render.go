package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ineilsen/agent-builder-sub002/internal/chat"
	"github.com/ineilsen/agent-builder-sub002/internal/stats"
	"github.com/ineilsen/agent-builder-sub002/internal/trace"
)

var (
	userStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	agentStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	systemStyle  = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("8"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func renderMessage(m chat.Message) string {
	ts := dimStyle.Render(m.Timestamp.Format("15:04:05"))
	switch m.Role {
	case chat.RoleUser:
		return fmt.Sprintf("%s %s %s", ts, userStyle.Render("you"), m.Text)
	case chat.RoleAgent:
		line := fmt.Sprintf("%s %s %s", ts, agentStyle.Render(m.Agent), m.Text)
		if m.Trace != nil {
			line += dimStyle.Render(fmt.Sprintf("  [%s, %d steps]", m.Trace.ID, len(m.Trace.Steps)))
		}
		return line
	default:
		return fmt.Sprintf("%s %s", ts, systemStyle.Render(m.Text))
	}
}

func statusStyle(s trace.Status) lipgloss.Style {
	switch s {
	case trace.StatusWarning:
		return warningStyle
	case trace.StatusError:
		return errorStyle
	}
	return okStyle
}

func renderTrace(tr trace.Trace) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s  %s  %s", tr.ID, tr.Network, tr.Timestamp.Format("2006-01-02 15:04:05"))))
	b.WriteString("\n")
	for _, s := range tr.Steps {
		marker := statusStyle(s.Status).Render("●")
		fmt.Fprintf(&b, "%s %-8s %-11s %-20s %s\n", marker, s.ID, s.Kind, s.Agent, s.Description)
	}
	if reply := tr.Reply(); reply != "" {
		b.WriteString(dimStyle.Render("reply: " + reply))
		b.WriteString("\n")
	}
	return b.String()
}

func renderSummaries(list []trace.Summary) string {
	if len(list) == 0 {
		return systemStyle.Render("no traces recorded") + "\n"
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-42s %-20s %-8s %5s  %s", "trace", "started", "status", "steps", "reply")))
	b.WriteString("\n")
	for _, s := range list {
		reply := s.Reply
		if r := []rune(reply); len(r) > 60 {
			reply = string(r[:60]) + "..."
		}
		status := statusStyle(s.Status).Render(fmt.Sprintf("%-8s", s.Status))
		fmt.Fprintf(&b, "%-42s %-20s %s %5d  %s\n", s.ID, s.StartedAt.Format("2006-01-02 15:04:05"), status, s.StepCount, reply)
	}
	return b.String()
}

func renderStats(s stats.Snapshot, agents []string) string {
	line := fmt.Sprintf("llm calls: %d  response time: %.0fms", s.LLMCalls, s.ResponseTimeMs)
	if len(agents) > 0 {
		line += "  active: " + strings.Join(agents, " → ")
	}
	return dimStyle.Render(line)
}

func renderLog(entries []chat.LogEntry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s %-10s %-12s %s\n", dimStyle.Render(e.Timestamp.Format("15:04:05")), e.Source, e.Agent, e.Message)
	}
	return b.String()
}
