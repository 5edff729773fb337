// Package tui provides a Bubble Tea TUI for browsing the pending-trip queue.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/tripsync/internal/trip"
)

// ── Styles ────────────

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	tabSepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")).
			Background(lipgloss.Color("235"))

	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	uploadedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	waitingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)

	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("237"))
)

// ── Tab definitions ─────────────────

type tabID int

const (
	tabSummary tabID = iota
	tabQueue
	tabPhotos
	tabCount
)

var tabNames = [tabCount]string{"Summary", "Queue", "Photos"}

// Loader re-reads the queue for the refresh key.
type Loader func() ([]trip.PendingEntry, error)

type reloadedMsg struct {
	entries []trip.PendingEntry
	err     error
}

// ── Model ────────────────────

// Model is the root Bubble Tea model for the queue viewer.
type Model struct {
	entries   []trip.PendingEntry
	status    string
	load      Loader
	loadErr   error
	activeTab tabID
	viewports [tabCount]viewport.Model
	width     int
	height    int
	ready     bool
	sortAsc   bool
	// Queue tab: cursor position and expanded set, keyed by transaction id
	cursor   int
	expanded map[string]bool
}

// New creates a viewer over entries. status is shown in the summary (daemon
// state, connectivity); load may be nil.
func New(entries []trip.PendingEntry, status string, load Loader) Model {
	return Model{
		entries:  entries,
		status:   status,
		load:     load,
		sortAsc:  true,
		expanded: make(map[string]bool),
	}
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "l", "right":
			m.activeTab = (m.activeTab + 1) % tabCount
		case "shift+tab", "h", "left":
			m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
		case "1", "2", "3":
			m.activeTab = tabID(msg.String()[0] - '1')
		case "s":
			m.sortAsc = !m.sortAsc
			m.cursor = 0
			m.rebuild()
			return m, nil
		case "r":
			if m.load != nil {
				load := m.load
				return m, func() tea.Msg {
					entries, err := load()
					return reloadedMsg{entries: entries, err: err}
				}
			}
		case "up", "k":
			if m.activeTab == tabQueue && m.cursor > 0 {
				m.cursor--
				m.rebuildTab(tabQueue)
				return m, nil
			}
		case "down", "j":
			if m.activeTab == tabQueue && m.cursor < len(m.entries)-1 {
				m.cursor++
				m.rebuildTab(tabQueue)
				return m, nil
			}
		case "enter", " ":
			if m.activeTab == tabQueue && len(m.entries) > 0 {
				id := m.sorted()[m.cursor].TransactionID
				if m.expanded[id] {
					delete(m.expanded, id)
				} else {
					m.expanded[id] = true
				}
				m.rebuildTab(tabQueue)
				return m, nil
			}
		}
		if !m.ready {
			return m, nil
		}
		var cmd tea.Cmd
		m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
		return m, cmd

	case reloadedMsg:
		m.loadErr = msg.err
		if msg.err == nil {
			m.entries = msg.entries
			if m.cursor >= len(m.entries) {
				m.cursor = max(len(m.entries)-1, 0)
			}
		}
		m.rebuild()
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.initViewports()
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	title := titleStyle.Width(m.width).Render(fmt.Sprintf("  tripsync  pending queue (%d)", len(m.entries)))

	var tabParts []string
	for i := tabID(0); i < tabCount; i++ {
		label := fmt.Sprintf(" %d %s ", i+1, tabNames[i])
		if i == m.activeTab {
			tabParts = append(tabParts, activeTabStyle.Render(label))
		} else {
			tabParts = append(tabParts, inactiveTabStyle.Render(label))
		}
		if i < tabCount-1 {
			tabParts = append(tabParts, tabSepStyle.Render("│"))
		}
	}
	tabRow := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Width(m.width).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, tabParts...))

	content := m.viewports[m.activeTab].View()

	dir := "oldest first"
	if !m.sortAsc {
		dir = "newest first"
	}
	hint := "  ←/→ tab  ↑/↓ scroll  1-3 jump  s sort (" + dir + ")  q quit"
	if m.load != nil {
		hint += "  r refresh"
	}
	if m.activeTab == tabQueue {
		hint += "  enter expand"
	}
	pct := fmt.Sprintf("%3.0f%%", m.viewports[m.activeTab].ScrollPercent()*100)
	pad := m.width - lipgloss.Width(hint) - len(pct) - 2
	if pad < 1 {
		pad = 1
	}
	statusBar := statusBarStyle.Width(m.width).Render(hint + strings.Repeat(" ", pad) + pct)

	return lipgloss.JoinVertical(lipgloss.Left, title, tabRow, content, statusBar)
}

// ── Viewport management ───────────────────────────────────────────────────────

func (m *Model) initViewports() {
	// title(1) + tabRow(1) + statusBar(1) = 3 fixed rows
	vpHeight := m.height - 3
	if vpHeight < 1 {
		vpHeight = 1
	}
	for i := tabID(0); i < tabCount; i++ {
		vp := viewport.New(m.width, vpHeight)
		vp.SetContent(m.renderTab(i))
		m.viewports[i] = vp
	}
}

func (m *Model) rebuild() {
	if !m.ready {
		return
	}
	for i := tabID(0); i < tabCount; i++ {
		m.rebuildTab(i)
	}
}

func (m *Model) rebuildTab(t tabID) {
	if m.ready {
		m.viewports[t].SetContent(m.renderTab(t))
	}
}

// sorted returns the entries ordered by queue time.
func (m *Model) sorted() []trip.PendingEntry {
	out := make([]trip.PendingEntry, len(m.entries))
	copy(out, m.entries)
	sort.SliceStable(out, func(i, j int) bool {
		if m.sortAsc {
			return out[i].QueuedAt.Before(out[j].QueuedAt)
		}
		return out[i].QueuedAt.After(out[j].QueuedAt)
	})
	return out
}

// ── Tab renderers ─────────────────────────────────────────────────────────────

func (m *Model) renderTab(t tabID) string {
	switch t {
	case tabSummary:
		return m.renderSummary()
	case tabQueue:
		return m.renderQueue()
	case tabPhotos:
		return m.renderPhotos()
	}
	return ""
}

func heading(s string) string {
	return "\n" + sectionHeader.Render("  "+s) + "\n\n"
}

func (m *Model) renderSummary() string {
	var sb strings.Builder
	sb.WriteString(heading("Queue Summary"))

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-16s", label)) + "  " + value + "\n")
	}

	var km float64
	var photos, waiting, created int
	var oldest time.Time
	for _, e := range m.entries {
		km += e.TripData.DistanceKm
		photos += len(e.Photos)
		waiting += e.PendingPhotos()
		if e.RemoteTripID != "" {
			created++
		}
		if oldest.IsZero() || e.QueuedAt.Before(oldest) {
			oldest = e.QueuedAt
		}
	}
	row("Trips queued:", fmt.Sprintf("%d", len(m.entries)))
	row("Already created:", fmt.Sprintf("%d", created))
	row("Photos waiting:", fmt.Sprintf("%d of %d", waiting, photos))
	row("Distance:", fmt.Sprintf("%.2f km", km))
	if !oldest.IsZero() {
		row("Oldest:", oldest.Local().Format("2006-01-02 15:04:05"))
	}
	if m.status != "" {
		sb.WriteString(heading("Sync"))
		sb.WriteString("  " + m.status + "\n")
	}
	if m.loadErr != nil {
		sb.WriteString("\n" + errorStyle.Render("  refresh failed: "+m.loadErr.Error()) + "\n")
	}
	return sb.String()
}

func (m *Model) renderQueue() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Pending Trips (%d)", len(m.entries))))
	if len(m.entries) == 0 {
		sb.WriteString(dimStyle.Render("  (nothing waiting to sync)") + "\n")
		return sb.String()
	}
	for i, e := range m.sorted() {
		ts := timeStyle.Render(e.QueuedAt.Local().Format("01-02 15:04"))
		state := waitingStyle.Render("new    ")
		if e.RemoteTripID != "" {
			state = uploadedStyle.Render("created")
		}
		toggle := "  ▶ "
		if m.expanded[e.TransactionID] {
			toggle = "  ▼ "
		}
		row := fmt.Sprintf("%s%s  %s  %-8s %6.2f km  %s",
			dimStyle.Render(toggle), ts, state, e.TripData.Activity, e.TripData.DistanceKm, titleOf(e))
		if i == m.cursor {
			row = selectedRowStyle.Width(max(m.width-2, 1)).Render(row)
		}
		sb.WriteString(row + "\n")

		if m.expanded[e.TransactionID] {
			sb.WriteString(renderDetails(e))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func renderDetails(e trip.PendingEntry) string {
	var sb strings.Builder
	line := func(label, value string) {
		sb.WriteString("      " + labelStyle.Render(fmt.Sprintf("%-13s", label)) + " " + value + "\n")
	}
	line("Transaction:", e.TransactionID)
	if e.RemoteTripID != "" {
		line("Remote trip:", e.RemoteTripID)
	}
	line("Recorded:", e.TripData.StartedAt.Local().Format("2006-01-02 15:04")+" → "+e.TripData.EndedAt.Local().Format("15:04"))
	line("Duration:", (time.Duration(e.TripData.DurationSeconds) * time.Second).String())
	line("Route points:", fmt.Sprintf("%d", len(e.TripData.Route)))
	line("Photos:", fmt.Sprintf("%d (%d waiting)", len(e.Photos), e.PendingPhotos()))
	if e.Attempts > 0 {
		line("Attempts:", fmt.Sprintf("%d", e.Attempts))
	}
	if e.LastError != "" {
		line("Last error:", errorStyle.Render(e.LastError))
	}
	return sb.String()
}

func (m *Model) renderPhotos() string {
	var sb strings.Builder
	total := 0
	for _, e := range m.entries {
		total += len(e.Photos)
	}
	sb.WriteString(heading(fmt.Sprintf("Photos (%d)", total)))
	if total == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
		return sb.String()
	}
	for _, e := range m.sorted() {
		for _, p := range e.Photos {
			mark := waitingStyle.Render("◇")
			if p.Uploaded {
				mark = uploadedStyle.Render("◈")
			}
			desc := p.Description
			if desc != "" {
				desc = dimStyle.Render("  " + desc)
			}
			sb.WriteString(fmt.Sprintf("  %s  %s  %s%s\n", mark, timeStyle.Render(titleOf(e)), p.LocalURI, desc))
		}
	}
	return sb.String()
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func titleOf(e trip.PendingEntry) string {
	if e.TripData.Title != nil && *e.TripData.Title != "" {
		return *e.TripData.Title
	}
	return "untitled " + string(e.TripData.Activity)
}

// Run starts the TUI.
func Run(entries []trip.PendingEntry, status string, load Loader) error {
	p := tea.NewProgram(New(entries, status, load), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
