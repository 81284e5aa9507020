package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tomaslejdung/obscam/pkg/signal"
	"github.com/tomaslejdung/obscam/pkg/switcher"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("7"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	urlStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("13"))

	viewerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	keySepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	toggleActiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("10"))

	toggleInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("8"))

	activeBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)

	inactiveBoxStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("8")).
				Padding(0, 1)

	boxTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	boxTitleDimStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("8"))
)

// Messages
type tickMsg time.Time

type changedMsg struct{}

type doneMsg struct {
	err error
}

type model struct {
	config    Config
	observer  *observer
	publisher *publisher
	cancel    context.CancelFunc

	cursor    int
	showStats bool
	lastError string
	startTime time.Time
	width     int
	height    int
	quitting  bool
}

func initialModel(config Config, o *observer, p *publisher, cancel context.CancelFunc) model {
	return model{
		config:    config,
		observer:  o,
		publisher: p,
		cancel:    cancel,
		showStats: true,
		startTime: time.Now(),
	}
}

func (m model) Init() tea.Cmd {
	title := "obscam - Observer"
	if m.publisher != nil {
		title = "obscam - Source"
	}
	return tea.Batch(
		tea.SetWindowTitle(title),
		tickCmd(),
		m.waitForChange(),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForChange blocks on the agent's update channel.
func (m model) waitForChange() tea.Cmd {
	updates := m.updates()
	return func() tea.Msg {
		<-updates
		return changedMsg{}
	}
}

func (m model) updates() <-chan struct{} {
	if m.publisher != nil {
		return m.publisher.updates
	}
	return m.observer.updates
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, tickCmd()

	case changedMsg:
		return m, m.waitForChange()

	case doneMsg:
		if msg.err != nil {
			m.lastError = msg.err.Error()
		}
		return m, nil
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.quitting = true
		m.cancel()
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case "down", "j":
		if m.cursor < m.listLen()-1 {
			m.cursor++
		}
		return m, nil

	case "i":
		m.showStats = !m.showStats
		return m, nil
	}

	if m.publisher != nil {
		return m.handlePublisherKey(msg)
	}
	return m.handleObserverKey(msg)
}

func (m model) handleObserverKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", " ":
		sources := m.observer.manager.Sources()
		if m.cursor >= len(sources) {
			return m, nil
		}
		if err := m.observer.manager.Pin(sources[m.cursor].EndpointID); err != nil {
			m.lastError = err.Error()
		} else {
			m.lastError = ""
		}
	case "u":
		m.observer.manager.Unpin()
	}
	return m, nil
}

func (m model) handlePublisherKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var err error
	switch msg.String() {
	case "v":
		err = m.publisher.ToggleVisibility()
	case "l":
		err = m.publisher.RequestPlayers()
	case "enter", " ":
		players := m.publisher.Players()
		if m.cursor < len(players) {
			err = m.publisher.LinkPlayer(players[m.cursor])
		}
	default:
		return m, nil
	}
	if err != nil {
		m.lastError = err.Error()
	} else {
		m.lastError = ""
	}
	return m, nil
}

func (m model) listLen() int {
	if m.publisher != nil {
		return len(m.publisher.Players())
	}
	return len(m.observer.manager.Sources())
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder

	b.WriteString(titleStyle.Render("obscam"))
	if m.publisher != nil {
		b.WriteString(dimStyle.Render(" - camera source"))
	} else {
		b.WriteString(dimStyle.Render(" - observer"))
	}
	b.WriteString("\n\n")

	b.WriteString(m.renderStatus())
	b.WriteString("\n")

	if m.publisher != nil {
		b.WriteString(m.renderPublisherColumns())
	} else {
		b.WriteString(m.renderObserverColumns())
		if m.showStats {
			b.WriteString("\n")
			b.WriteString(m.renderStats())
		}
	}

	if m.lastError != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Error: " + m.lastError))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m model) renderStatus() string {
	var st linkStatus
	var serverErr string
	if m.publisher != nil {
		st, serverErr = m.publisher.Status()
	} else {
		st, serverErr = m.observer.Status()
	}

	var b strings.Builder
	switch st.State {
	case linkConnected:
		b.WriteString(selectedStyle.Render("[CONNECTED]"))
	case linkReconnecting:
		b.WriteString(errorStyle.Render(fmt.Sprintf("[RECONNECTING %d/%d]", st.Attempt, defaultMaxReconnects)))
	case linkFailed:
		b.WriteString(errorStyle.Render("[OFFLINE]"))
	default:
		b.WriteString(statusStyle.Render("[CONNECTING]"))
	}
	b.WriteString(" ")
	b.WriteString(urlStyle.Render(m.config.SignalURL))
	b.WriteString(dimStyle.Render("  up " + formatDuration(time.Since(m.startTime).Truncate(time.Second))))
	b.WriteString("\n")

	if serverErr != "" {
		b.WriteString(errorStyle.Render(serverErr))
		b.WriteString("\n")
	}

	if m.observer != nil {
		feed := m.observer.manager.Feed()
		b.WriteString(dimStyle.Render("Spectating: "))
		switch {
		case feed.ExternalID == "":
			b.WriteString(dimStyle.Render("nobody"))
		case feed.EndpointID == "":
			b.WriteString(normalStyle.Render(nameOr(feed.DisplayName, feed.ExternalID)))
			b.WriteString(dimStyle.Render(" (no camera)"))
		default:
			b.WriteString(selectedStyle.Render(nameOr(feed.DisplayName, feed.ExternalID)))
			if !feed.Visible {
				b.WriteString(dimStyle.Render(" (hidden)"))
			}
		}
		if pinned := m.observer.manager.Pinned(); pinned != "" {
			b.WriteString(viewerStyle.Render("  PINNED " + pinned))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) renderObserverColumns() string {
	sourcesBox := activeBoxStyle.Width(36).Render(
		boxTitleStyle.Render(" Sources ") + "\n" + m.renderSourcesList(),
	)
	slotsBox := inactiveBoxStyle.Width(40).Render(
		boxTitleDimStyle.Render(" Slots ") + "\n" + m.renderSlots(),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, sourcesBox, " ", slotsBox)
}

func (m model) renderSourcesList() string {
	sources := m.observer.manager.Sources()
	if len(sources) == 0 {
		return dimStyle.Render("No sources registered")
	}

	pinned := m.observer.manager.Pinned()
	var b strings.Builder
	for i, src := range sources {
		prefix := "  "
		if i == m.cursor {
			prefix = "> "
		}
		line := prefix + truncate(src.DisplayName, 20)
		if !src.Visible {
			line += " [hidden]"
		}
		if src.EndpointID == pinned {
			line += " *"
		}

		switch {
		case i == m.cursor:
			b.WriteString(selectedStyle.Render(line))
		case !src.Visible:
			b.WriteString(dimStyle.Render(line))
		default:
			b.WriteString(normalStyle.Render(line))
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m model) renderSlots() string {
	names := make(map[string]string)
	for _, src := range m.observer.manager.Sources() {
		names[src.EndpointID] = src.DisplayName
	}
	label := func(id string) string {
		if id == "" {
			return "-"
		}
		return truncate(nameOr(names[id], id), 14)
	}

	var b strings.Builder
	for _, s := range m.observer.manager.Slots() {
		line := fmt.Sprintf("%-14s %-11s %s", truncate(s.SlotID, 14), s.State, label(s.ActiveTarget))
		if s.PendingTarget != "" {
			line += " -> " + label(s.PendingTarget)
		}
		switch s.State {
		case switcher.Live:
			b.WriteString(selectedStyle.Render(line))
		case switcher.Negotiating:
			b.WriteString(statusStyle.Render(line))
		default:
			b.WriteString(dimStyle.Render(line))
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m model) renderStats() string {
	statsBoxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(0, 1).
		Width(79)

	var content strings.Builder
	content.WriteString(boxTitleDimStyle.Render(" Streams "))
	content.WriteString("\n")

	tiles := m.observer.display.Tiles()
	if len(tiles) == 0 {
		content.WriteString(dimStyle.Render("No active streams"))
	} else {
		var totalBytes uint64
		for _, t := range tiles {
			totalBytes += t.Bytes
			line := fmt.Sprintf("%-14s %-4s %s | %.0fkbps | %s | %s",
				truncate(t.SlotID, 14), t.Codec,
				formatNumber(int64(t.Packets)), t.Bitrate,
				formatBytes(int64(t.Bytes)),
				formatDuration(time.Since(t.Since).Truncate(time.Second)))
			if t.Ended {
				content.WriteString(dimStyle.Render(line + " ended"))
			} else {
				content.WriteString(normalStyle.Render(line))
			}
			content.WriteString("\n")
		}
		content.WriteString(dimStyle.Render("Total: " + formatBytes(int64(totalBytes))))
	}

	if activity := m.observer.Activity(); len(activity) > 0 {
		content.WriteString("\n\n")
		content.WriteString(boxTitleDimStyle.Render(" Activity "))
		for _, line := range activity {
			content.WriteString("\n")
			content.WriteString(dimStyle.Render(line))
		}
	}

	return statsBoxStyle.Render(content.String())
}

func (m model) renderPublisherColumns() string {
	id := m.publisher.Identity()

	var info strings.Builder
	info.WriteString(dimStyle.Render("Name:     "))
	info.WriteString(normalStyle.Render(id.DisplayName))
	info.WriteString("\n")
	info.WriteString(dimStyle.Render("Steam ID: "))
	info.WriteString(normalStyle.Render(nameOr(id.ExternalID, "-")))
	info.WriteString("\n")
	info.WriteString(dimStyle.Render("Endpoint: "))
	info.WriteString(normalStyle.Render(id.EndpointID))
	info.WriteString("\n")
	if m.publisher.Registered() {
		info.WriteString(selectedStyle.Render("Registered"))
	} else {
		info.WriteString(errorStyle.Render("Not registered"))
	}
	info.WriteString("\n")
	info.WriteString(dimStyle.Render("Frames:   "))
	info.WriteString(normalStyle.Render(formatNumber(int64(m.publisher.Frames()))))

	sourceBox := activeBoxStyle.Width(36).Render(
		boxTitleStyle.Render(" Source ") + "\n" + info.String(),
	)

	viewerBoxStyle := inactiveBoxStyle.Copy().
		BorderForeground(lipgloss.Color("11"))
	viewersBox := viewerBoxStyle.Width(30).Render(
		viewerStyle.Render(" Viewers ") + "\n" + m.renderViewerList(),
	)

	top := lipgloss.JoinHorizontal(lipgloss.Top, sourceBox, " ", viewersBox)
	players := m.publisher.Players()
	if len(players) == 0 {
		return top
	}
	playersBox := inactiveBoxStyle.Width(67).Render(
		boxTitleDimStyle.Render(" Feed players ") + "\n" + m.renderPlayers(players),
	)
	return lipgloss.JoinVertical(lipgloss.Left, top, playersBox)
}

func (m model) renderViewerList() string {
	var content strings.Builder

	viewers := m.publisher.Viewers()
	content.WriteString(dimStyle.Render(fmt.Sprintf("(%d)", len(viewers))))
	content.WriteString("\n")

	if len(viewers) == 0 {
		content.WriteString(dimStyle.Render("Waiting..."))
		return content.String()
	}

	for _, v := range viewers {
		var line string
		switch v.State {
		case "connected":
			connTime := time.Since(v.ConnectedAt).Truncate(time.Second)
			connType := ""
			if v.ConnectionType == "relay" {
				connType = " TURN"
			} else if v.ConnectionType == "direct" {
				connType = " P2P"
			}
			line = fmt.Sprintf("%s%s %s", truncate(v.ViewerID, 18), connType, formatDuration(connTime))
			content.WriteString(viewerStyle.Render(line))
		case "connecting":
			line = fmt.Sprintf("%s ...", truncate(v.ViewerID, 18))
			content.WriteString(dimStyle.Render(line))
		default:
			line = fmt.Sprintf("%s [%s]", truncate(v.ViewerID, 18), v.State)
			content.WriteString(dimStyle.Render(line))
		}
		content.WriteString("\n")
	}
	return strings.TrimSuffix(content.String(), "\n")
}

func (m model) renderPlayers(players []signal.FeedPlayer) string {
	self := m.publisher.Identity().ExternalID
	var b strings.Builder
	for i, p := range players {
		prefix := "  "
		if i == m.cursor {
			prefix = "> "
		}
		line := fmt.Sprintf("%s%-24s %s", prefix, truncate(p.DisplayName, 24), p.ExternalID)
		if p.IsRegistered {
			line += " (camera)"
		}
		switch {
		case i == m.cursor:
			b.WriteString(selectedStyle.Render(line))
		case p.ExternalID == self:
			b.WriteString(viewerStyle.Render(line))
		default:
			b.WriteString(normalStyle.Render(line))
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

func formatBytes(b int64) string {
	if b >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(b)/1_000_000_000)
	}
	if b >= 1_000_000 {
		return fmt.Sprintf("%.1f MB", float64(b)/1_000_000)
	}
	if b >= 1_000 {
		return fmt.Sprintf("%.1f KB", float64(b)/1_000)
	}
	return fmt.Sprintf("%d B", b)
}

func (m model) renderHelp() string {
	var b strings.Builder
	sep := keySepStyle.Render("  ")

	var actions []string
	if m.publisher != nil {
		actions = append(actions, keyStyle.Render("l")+helpStyle.Render(" players"))
		if len(m.publisher.Players()) > 0 {
			actions = append(actions, keyStyle.Render("↑↓")+helpStyle.Render(" select"))
			actions = append(actions, keyStyle.Render("enter")+helpStyle.Render(" link"))
		}
	} else {
		actions = append(actions, keyStyle.Render("↑↓")+helpStyle.Render(" select"))
		actions = append(actions, keyStyle.Render("enter")+helpStyle.Render(" pin"))
		if m.observer.manager.Pinned() != "" {
			actions = append(actions, keyStyle.Render("u")+helpStyle.Render(" unpin"))
		}
	}
	actions = append(actions, keyStyle.Render("q")+helpStyle.Render(" quit"))
	b.WriteString(strings.Join(actions, sep))

	var toggles []string
	if m.publisher != nil {
		toggles = append(toggles, m.renderToggle("v", "visible", m.publisher.Visible()))
	} else {
		toggles = append(toggles, m.renderToggle("i", "stats", m.showStats))
	}
	b.WriteString("\n\n")
	b.WriteString(strings.Join(toggles, "   "))

	return b.String()
}

// renderToggle renders a toggle keybind with active/inactive indicator
func (m model) renderToggle(key, label string, active bool) string {
	if active {
		return toggleActiveStyle.Render("● "+key) + " " + toggleActiveStyle.Render(label)
	}
	return toggleInactiveStyle.Render("○ "+key) + " " + toggleInactiveStyle.Render(label)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func nameOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

// RunTUI runs the dashboard until the user quits. The agent runs alongside it
// and is stopped through cancel.
func RunTUI(config Config, o *observer, p *publisher, run func() error, cancel context.CancelFunc) error {
	prog := tea.NewProgram(
		initialModel(config, o, p, cancel),
		tea.WithAltScreen(),
	)

	go func() {
		err := run()
		prog.Send(doneMsg{err: err})
	}()

	_, err := prog.Run()
	return err
}
