package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/bit2swaz/loramesh/internal/protocol"
	"github.com/bit2swaz/loramesh/internal/store"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	// Colors
	colorGreen = lipgloss.Color("2")
	colorBlack = lipgloss.Color("0")
	colorGray  = lipgloss.Color("240")
	colorRed   = lipgloss.Color("196")

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorBlack).
			Background(colorGreen).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	pendingStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	flashStyle = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(colorGreen)

	sidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(colorGreen).
			Padding(0, 1)

	streamStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(colorGreen).
			Padding(0, 1)
)

func (m model) View() string {
	if !m.ready {
		return "\n  Waiting for terminal..."
	}

	streamWidth, bodyHeight := m.layout()
	sidebarWidth := m.width - streamWidth - 4

	streamStyleNow := streamStyle
	if ShouldFlash(m.lastMsgAt) {
		streamStyleNow = flashStyle.Padding(0, 1)
	}
	streamView := streamStyleNow.Width(streamWidth).Height(bodyHeight).Render(m.viewport.View())
	sidebarView := m.renderSidebar(sidebarWidth, bodyHeight)
	body := lipgloss.JoinHorizontal(lipgloss.Top, streamView, sidebarView)

	return lipgloss.JoinVertical(lipgloss.Left,
		body,
		m.textInput.View(),
		m.renderStatus(),
	)
}

func (m model) renderStatus() string {
	target := "none"
	if m.target.Valid() {
		target = string(m.target)
	}
	bar := statusBarStyle.Render("TO: " + target)
	if m.status != "" {
		return bar + " " + errorStyle.Render(m.status)
	}
	return bar
}

func (m model) renderSidebar(width, height int) string {
	identity := "ID: (relay only)"
	if local := m.client.LocalID(); local.Valid() {
		identity = "ID: " + local.Short()
	}

	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("ID", "VIA", "SEEN").
		Width(width)

	for _, p := range m.peers {
		seen := "gone"
		if p.IsActive {
			seen = formatSeen(time.Since(p.LastSeen))
		}
		via := p.Via
		if via == "" {
			via = "-"
		}
		t.Row(p.ID.Short(), via, seen)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		"\n LORAMESH\n",
		identity,
		"\n",
		"HEARD NODES:",
		t.Render(),
	)

	return sidebarStyle.Width(width).Height(height).Render(content)
}

// buildChatHistory renders one conversation oldest first. Outgoing messages
// still waiting for a confirmation carry a pending marker.
func buildChatHistory(msgs []store.Message, local, peer protocol.DeviceID) string {
	if !peer.Valid() {
		return "No conversation open. Type /to <device id> to start one."
	}

	var sb strings.Builder
	for _, msg := range msgs {
		ts := time.Unix(msg.SentAt, 0).Format("15:04:05")
		who := msg.Sender.Short()
		if msg.Outgoing || (local.Valid() && msg.Sender == local) {
			who = "me"
		}
		line := fmt.Sprintf("[%s] %s: %s", ts, who, msg.Payload)
		if msg.Outgoing && !msg.Confirmed {
			marker := " (pending)"
			if msg.RetryCount > 0 {
				marker = fmt.Sprintf(" (pending, retry %d)", msg.RetryCount)
			}
			line += pendingStyle.Render(marker)
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

func formatSeen(d time.Duration) string {
	switch {
	case d < 10*time.Second:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	default:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
}

func ShouldFlash(msgTime time.Time) bool {
	return time.Since(msgTime) < 500*time.Millisecond
}
