// Package tui is the terminal dashboard for a running companion. It is a
// read-mostly client of the daemon's local surface: everything on screen
// comes from polling /api/status and /api/profiles over loopback HTTP.
package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sheetlink/companion/internal/profile"
	"github.com/sheetlink/companion/internal/relay"
)

const pollEvery = 2 * time.Second

// App is the main TUI application model
type App struct {
	addr    string
	version string
	theme   *Theme
	client  *http.Client

	activeTab TabIndex
	ready     bool
	quitting  bool
	width     int
	height    int

	spinner spinner.Model

	status    *DaemonStatus
	statusErr error
	profiles  profile.MergeResult
	haveList  bool
	cursor    int
}

// NewApp creates a dashboard polling the companion at addr.
func NewApp(addr, version string) *App {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = DefaultTheme.Spinner

	return &App{
		addr:      addr,
		version:   version,
		theme:     DefaultTheme,
		client:    &http.Client{Timeout: 3 * time.Second},
		activeTab: TabDashboard,
		spinner:   s,
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.fetchStatus(), a.fetchProfiles(), a.tick())
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(pollEvery, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}

func (a *App) fetchStatus() tea.Cmd {
	client, addr := a.client, a.addr
	return func() tea.Msg {
		var st DaemonStatus
		if err := hubFetch(client, addr, "/api/status", &st); err != nil {
			return StatusMsg{Err: err}
		}
		return StatusMsg{Status: &st}
	}
}

func (a *App) fetchProfiles() tea.Cmd {
	client, addr := a.client, a.addr
	return func() tea.Msg {
		var merged profile.MergeResult
		if err := hubFetch(client, addr, "/api/profiles", &merged); err != nil {
			return ProfilesMsg{Err: err}
		}
		return ProfilesMsg{Result: merged}
	}
}

func hubFetch(client *http.Client, addr, path string, out interface{}) error {
	resp, err := client.Get("http://" + addr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon answered %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.ready = true
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case TickMsg:
		return a, tea.Batch(a.fetchStatus(), a.fetchProfiles(), a.tick())

	case StatusMsg:
		if msg.Err != nil {
			a.status = nil
			a.statusErr = msg.Err
		} else {
			a.status = msg.Status
			a.statusErr = nil
		}

	case ProfilesMsg:
		if msg.Err == nil {
			a.profiles = msg.Result
			a.haveList = true
			if a.cursor >= len(a.profiles.Profiles) && a.cursor > 0 {
				a.cursor = len(a.profiles.Profiles) - 1
			}
		}
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	k := msg.String()

	switch k {
	case "q", "ctrl+c", "esc":
		// The daemon is its own process; quitting the dashboard leaves it up.
		a.quitting = true
		return a, tea.Quit
	case "r":
		return a, tea.Batch(a.fetchStatus(), a.fetchProfiles())
	case "1":
		a.activeTab = TabDashboard
	case "2":
		a.activeTab = TabProfiles
	case "tab":
		a.activeTab = (a.activeTab + 1) % TabCount
	case "shift+tab":
		a.activeTab = (a.activeTab + TabCount - 1) % TabCount
	}

	if a.activeTab == TabProfiles {
		n := len(a.profiles.Profiles)
		switch k {
		case "up", "k":
			if a.cursor > 0 {
				a.cursor--
			}
		case "down", "j":
			if a.cursor < n-1 {
				a.cursor++
			}
		}
	}

	return a, nil
}

func (a *App) View() (output string) {
	// Recover from any panics to prevent TUI crash
	defer func() {
		if r := recover(); r != nil {
			output = fmt.Sprintf("\n  Error rendering view: %v\n\n  Press 'q' to quit.", r)
		}
	}()

	if a.quitting {
		return ""
	}
	if !a.ready {
		return "\n  " + a.spinner.View() + " Starting..."
	}

	w, h := a.width, a.height
	if w < 40 {
		w = 40
	}
	if h < 10 {
		h = 10
	}

	var b strings.Builder
	b.WriteString(a.viewHeader(w))
	b.WriteString("\n")
	b.WriteString(a.viewTabs(w))
	b.WriteString("\n")
	switch a.activeTab {
	case TabProfiles:
		b.WriteString(a.viewProfiles(w))
	default:
		b.WriteString(a.viewDashboard(w))
	}

	lines := strings.Count(b.String(), "\n")
	for lines < h-1 {
		b.WriteString("\n")
		lines++
	}
	b.WriteString(a.viewFooter(w))

	return b.String()
}

func (a *App) viewHeader(w int) string {
	logo := a.theme.LogoDot.Render("◉") + a.theme.Logo.Render(" SheetLink")

	var statusStr string
	switch {
	case a.status == nil && a.statusErr == nil:
		statusStr = a.spinner.View() + " Connecting"
	case a.status == nil:
		statusStr = a.theme.StatusError.Render("● Daemon offline")
	case a.status.Session.State == relay.StateReady:
		uptime := time.Duration(a.status.UptimeSeconds) * time.Second
		statusStr = a.theme.StatusSuccess.Render("● Live") + " " + a.theme.ValueMuted.Render(formatUptime(uptime))
	case a.status.Session.State == relay.StateConnecting:
		statusStr = a.spinner.View() + " Connecting"
	case a.status.Pairing == "":
		statusStr = a.theme.StatusWarning.Render("● Unpaired")
	default:
		statusStr = a.theme.StatusWarning.Render("● " + string(a.status.Session.State))
	}

	gap := w - lipgloss.Width(logo) - lipgloss.Width(statusStr) - 4
	if gap < 1 {
		gap = 1
	}

	return a.theme.HeaderContainer.Width(w).Render(logo + strings.Repeat(" ", gap) + statusStr)
}

func (a *App) viewTabs(w int) string {
	names := TabNames()
	var tabs []string

	for i, name := range names {
		label := fmt.Sprintf(" %d %s ", i+1, name)
		if TabIndex(i) == a.activeTab {
			tabs = append(tabs, a.theme.TabActive.Render(label))
		} else {
			tabs = append(tabs, a.theme.TabInactive.Render(label))
		}
	}

	return a.theme.TabContainer.Width(w).Render(lipgloss.JoinHorizontal(lipgloss.Top, tabs...))
}

func (a *App) viewDashboard(w int) string {
	if a.status == nil {
		msg := "The companion daemon is not answering on " + a.addr + ".\n\nStart it with: sheetlink start"
		box := a.theme.Card.Width(w - 4).Render(a.theme.ValueMuted.Render(msg))
		return lipgloss.NewStyle().Padding(1, 2).Render(box)
	}

	st := a.status
	halfW := w/2 - 3
	if halfW < 20 {
		halfW = 20
	}

	// ── Row 1: Relay session ──
	var sessLine string
	switch st.Session.State {
	case relay.StateReady:
		ago := "never"
		if !st.Session.LastHeartbeatAt.IsZero() {
			ago = formatUptime(time.Since(st.Session.LastHeartbeatAt)) + " ago"
		}
		sessLine = a.theme.StatusSuccess.Render("● Live") + "  " + a.theme.ValueMuted.Render("heartbeat "+ago)
	case relay.StateConnecting:
		sessLine = a.spinner.View() + " Connecting"
	case relay.StateConnected:
		sessLine = a.theme.StatusWarning.Render("● Subscribing...")
	default:
		if st.Pairing == "" {
			sessLine = a.theme.StatusWarning.Render("● Not paired") + "  " + a.theme.ValueMuted.Render("run: sheetlink pair <code>")
		} else {
			sessLine = a.theme.StatusError.Render("● Disconnected")
		}
	}

	pairing := st.Pairing
	if pairing == "" {
		pairing = "-"
	}
	sessBox := a.theme.Card.Width(w - 4).Render(
		a.theme.Title.Render("Relay Session") + "\n" +
			sessLine + "\n" +
			a.theme.Label.Render("Pairing     ") + a.theme.Value.Render(truncate(pairing, w-20)) + "\n" +
			a.theme.Label.Render("Reconnects  ") + a.theme.Value.Render(fmt.Sprintf("%d", st.Session.Reconnects)),
	)

	// ── Row 2: Characters + Views ──
	var charLines []string
	synced := 0
	for _, p := range a.profiles.Profiles {
		marker := a.theme.ValueMuted.Render("○")
		if p.HasRemoteCopy || p.Source == profile.SourceRemote {
			marker = a.theme.StatusSuccess.Render("●")
			synced++
		}
		charLines = append(charLines, fmt.Sprintf("%s %-16s %s",
			marker,
			truncate(p.Sheet.Name, 16),
			a.theme.ValueMuted.Render(fmt.Sprintf("HP %d/%d", p.Sheet.HP, p.Sheet.MaxHP)),
		))
		if len(charLines) == 6 {
			break
		}
	}
	if len(charLines) == 0 {
		charLines = []string{a.theme.ValueMuted.Render("No characters cached")}
	}
	charLines = append(charLines, a.theme.ValueMuted.Render(fmt.Sprintf("  %d total · %d synced", len(a.profiles.Profiles), synced)))
	charBox := a.theme.Card.Width(halfW).Render(
		a.theme.Title.Render("Characters") + "\n" + strings.Join(charLines, "\n"),
	)

	active := st.ActiveProfile
	if active == "" {
		active = "-"
	}
	syncState := a.theme.StatusWarning.Render("local-only")
	if a.profiles.RemoteAvailable {
		syncState = a.theme.StatusSuccess.Render("merged with relay")
	}
	infoBox := a.theme.Card.Width(halfW).Render(
		a.theme.Title.Render("Companion") + "\n" +
			a.theme.Label.Render("Active slot  ") + a.theme.Value.Render(truncate(active, 18)) + "\n" +
			a.theme.Label.Render("Views        ") + a.theme.Value.Render(fmt.Sprintf("%d attached", st.Views)) + "\n" +
			a.theme.Label.Render("Profiles     ") + syncState,
	)

	bottomRow := lipgloss.JoinHorizontal(lipgloss.Top, charBox, "  ", infoBox)

	return lipgloss.NewStyle().Padding(1, 2).Render(sessBox + "\n\n" + bottomRow)
}

func (a *App) viewProfiles(w int) string {
	entries := a.profiles.Profiles

	if len(entries) == 0 {
		msg := "No characters cached yet."
		if !a.haveList {
			msg = "Waiting for the daemon..."
		}
		box := a.theme.Card.Width(w - 4).Render(a.theme.ValueMuted.Render(msg))
		return lipgloss.NewStyle().Padding(1, 2).Render(box)
	}

	hdr := fmt.Sprintf("   %-18s %-12s %-5s %-9s %-4s %s",
		a.theme.Label.Render("NAME"),
		a.theme.Label.Render("CLASS"),
		a.theme.Label.Render("LVL"),
		a.theme.Label.Render("HP"),
		a.theme.Label.Render("AC"),
		a.theme.Label.Render("SYNC"),
	)

	var rows []string
	for i, p := range entries {
		cursor := "   "
		if i == a.cursor {
			cursor = a.theme.ListCursor.Render(" > ")
		}

		var sync string
		switch {
		case p.Source == profile.SourceRemote:
			sync = a.theme.StatusInfo.Render("remote")
		case p.HasRemoteCopy:
			sync = a.theme.StatusSuccess.Render("synced")
		default:
			sync = a.theme.ValueMuted.Render("local")
		}

		hp := fmt.Sprintf("%d/%d", p.Sheet.HP, p.Sheet.MaxHP)
		row := fmt.Sprintf("%s%-18s %-12s %-5d %-9s %-4d %s",
			cursor, truncate(p.Sheet.Name, 18), truncate(p.Sheet.Class, 12), p.Sheet.Level, hp, p.Sheet.AC, sync,
		)
		if i == a.cursor {
			row = a.theme.ListItemActive.Render(row)
		}
		rows = append(rows, row)
	}

	legend := a.theme.ValueMuted.Render(fmt.Sprintf("%d matched with relay · %d appended from relay", a.profiles.Matched, a.profiles.Appended))
	content := hdr + "\n" + strings.Repeat("─", w-6) + "\n" + strings.Join(rows, "\n") + "\n\n" + legend
	return lipgloss.NewStyle().Padding(1, 2).Render(content)
}

func (a *App) viewFooter(w int) string {
	h := func(k, d string) string {
		return a.theme.HelpKey.Render("["+k+"]") + " " + a.theme.Help.Render(d)
	}
	help := h("1-2", "tabs") + "  " + h("r", "refresh") + "  " + h("q", "quit")
	if a.activeTab == TabProfiles {
		help = h("1-2", "tabs") + "  " + h("↑↓", "nav") + "  " + h("r", "refresh") + "  " + h("q", "quit")
	}

	right := ""
	if a.version != "" {
		right = a.theme.ValueMuted.Render("v" + a.version)
	}

	gap := w - lipgloss.Width(help) - lipgloss.Width(right) - 4
	if gap < 1 {
		gap = 1
	}

	return a.theme.FooterContainer.Width(w).Render(help + strings.Repeat(" ", gap) + right)
}

func formatUptime(d time.Duration) string {
	s := int(d.Seconds()) % 60
	m := int(d.Minutes()) % 60
	h := int(d.Hours())
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func truncate(s string, max int) string {
	if len(s) <= max || max < 3 {
		return s
	}
	return s[:max-2] + ".."
}

// Run starts the dashboard against the companion listening on addr.
func Run(addr, version string) error {
	app := NewApp(addr, version)
	p := tea.NewProgram(app, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
