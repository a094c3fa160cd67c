package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-identity/pkg/cluster"
	"github.com/dd0wney/cluso-identity/pkg/conflict"
	"github.com/dd0wney/cluso-identity/pkg/reconciler"
	"github.com/dd0wney/cluso-identity/pkg/replication"
)

const refreshInterval = 5 * time.Second

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FFFF")).
			MarginLeft(2).
			MarginTop(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FFFF")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FFFF")).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#005FAF")).
			Padding(0, 2)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#666666")).
				Padding(0, 2)

	contentStyle = lipgloss.NewStyle().
			MarginLeft(2).
			MarginTop(1)

	statsBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(1, 2).
			MarginRight(2)

	isolationBannerStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#FFFFFF")).
				Background(lipgloss.Color("#AF0000")).
				Padding(0, 2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)
)

type view int

const (
	dashboardView view = iota
	instancesView
	conflictsView
	viewCount
)

type keyMap struct {
	Tab      key.Binding
	ShiftTab key.Binding
	Refresh  key.Binding
	Sweep    key.Binding
	Quit     key.Binding
	Up       key.Binding
	Down     key.Binding
}

var keys = keyMap{
	Tab: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "next view"),
	),
	ShiftTab: key.NewBinding(
		key.WithKeys("shift+tab"),
		key.WithHelp("shift+tab", "prev view"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Sweep: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "run status sweep"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("up/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("down/j", "down"),
	),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Refresh, k.Sweep, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Tab, k.ShiftTab, k.Refresh, k.Sweep},
		{k.Up, k.Down, k.Quit},
	}
}

// apiClient polls the monitor's ops API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *apiClient) get(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// /health serves 503 with a full snapshot when the network is critical
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusServiceUnavailable {
		return fmt.Errorf("%s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type healthMsg cluster.HealthSnapshot

type conflictsMsg []conflict.Report

type sweepMsg reconciler.SweepResult

type errMsg struct{ err error }

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (c *apiClient) fetchHealth() tea.Msg {
	var snapshot cluster.HealthSnapshot
	if err := c.get("/health", &snapshot); err != nil {
		return errMsg{err}
	}
	return healthMsg(snapshot)
}

func (c *apiClient) fetchConflicts() tea.Msg {
	var resp struct {
		Conflicts []conflict.Report `json:"conflicts"`
	}
	if err := c.get("/conflicts", &resp); err != nil {
		return errMsg{err}
	}
	return conflictsMsg(resp.Conflicts)
}

func (c *apiClient) runSweep() tea.Msg {
	resp, err := c.http.Post(c.baseURL+"/sync-status/reconcile", "application/json", nil)
	if err != nil {
		return errMsg{err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errMsg{fmt.Errorf("sweep failed: %s", resp.Status)}
	}
	var result reconciler.SweepResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return errMsg{err}
	}
	return sweepMsg(result)
}

type model struct {
	client        *apiClient
	currentView   view
	instanceTable table.Model
	conflictTable table.Model
	help          help.Model
	keys          keyMap
	width         int
	height        int
	message       string
	messageErr    bool
	snapshot      *cluster.HealthSnapshot
	conflicts     []conflict.Report
	lastRefresh   time.Time
}

func newTable(columns []table.Column) table.Model {
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#00FFFF")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#005FAF")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func initialModel(client *apiClient) model {
	instanceColumns := []table.Column{
		{Title: "Instance", Width: 24},
		{Title: "State", Width: 12},
		{Title: "Links", Width: 8},
		{Title: "Healthy", Width: 8},
	}
	conflictColumns := []table.Column{
		{Title: "Record", Width: 32},
		{Title: "Kind", Width: 12},
		{Title: "Class", Width: 20},
		{Title: "Revisions", Width: 10},
		{Title: "Sources", Width: 28},
	}

	return model{
		client:        client,
		currentView:   dashboardView,
		instanceTable: newTable(instanceColumns),
		conflictTable: newTable(conflictColumns),
		help:          help.New(),
		keys:          keys,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.client.fetchHealth,
		m.client.fetchConflicts,
		tickCmd(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case tickMsg:
		return m, tea.Batch(m.client.fetchHealth, m.client.fetchConflicts, tickCmd())

	case healthMsg:
		snapshot := cluster.HealthSnapshot(msg)
		m.snapshot = &snapshot
		m.lastRefresh = time.Now()
		m.updateInstanceTable()

	case conflictsMsg:
		m.conflicts = msg
		m.updateConflictTable()

	case sweepMsg:
		m.message = fmt.Sprintf("Sweep complete: %d checked, %d updated, %d failed",
			msg.Checked, msg.Updated, msg.Failed)
		m.messageErr = msg.Failed > 0
		cmds = append(cmds, m.client.fetchConflicts)

	case errMsg:
		m.message = msg.err.Error()
		m.messageErr = true

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Tab):
			m.currentView = (m.currentView + 1) % viewCount

		case key.Matches(msg, m.keys.ShiftTab):
			if m.currentView == 0 {
				m.currentView = viewCount - 1
			} else {
				m.currentView--
			}

		case key.Matches(msg, m.keys.Refresh):
			m.message = ""
			return m, tea.Batch(m.client.fetchHealth, m.client.fetchConflicts)

		case key.Matches(msg, m.keys.Sweep):
			m.message = "Running sync status sweep..."
			m.messageErr = false
			return m, m.client.runSweep
		}
	}

	// Update focused component
	switch m.currentView {
	case instancesView:
		m.instanceTable, cmd = m.instanceTable.Update(msg)
		cmds = append(cmds, cmd)
	case conflictsView:
		m.conflictTable, cmd = m.conflictTable.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *model) updateInstanceTable() {
	rows := make([]table.Row, 0, len(m.snapshot.Instances))
	for _, inst := range m.snapshot.Instances {
		healthy := 0
		for _, link := range inst.Links {
			if link.Healthy {
				healthy++
			}
		}
		status := string(inst.Status)
		if inst.Status == replication.InstanceUnreachable {
			status = strings.ToUpper(status)
		}
		name := inst.ID
		if inst.Local {
			name += " (local)"
		}
		rows = append(rows, table.Row{
			name,
			status,
			fmt.Sprintf("%d", len(inst.Links)),
			fmt.Sprintf("%d", healthy),
		})
	}
	m.instanceTable.SetRows(rows)
}

func (m *model) updateConflictTable() {
	rows := make([]table.Row, 0, len(m.conflicts))
	for _, report := range m.conflicts {
		rows = append(rows, table.Row{
			report.RecordID,
			string(report.Kind),
			string(report.Analysis.Classification),
			fmt.Sprintf("%d", len(report.Revisions)),
			strings.Join(report.Analysis.SourceInstances, ", "),
		})
	}
	m.conflictTable.SetRows(rows)
}

func (m model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var s strings.Builder

	s.WriteString(titleStyle.Render("Identity Cluster Monitor"))
	s.WriteString("\n\n")

	if m.snapshot != nil && m.snapshot.Isolation.Open() {
		banner := fmt.Sprintf("ISOLATED since %s  unreachable: %s",
			m.snapshot.Isolation.StartedAt.Format(time.RFC3339),
			strings.Join(m.snapshot.Isolation.IsolatedPeerIDs, ", "))
		s.WriteString(contentStyle.Render(isolationBannerStyle.Render(banner)))
		s.WriteString("\n\n")
	}

	s.WriteString(m.renderTabs())
	s.WriteString("\n\n")

	switch m.currentView {
	case dashboardView:
		s.WriteString(m.renderDashboard())
	case instancesView:
		s.WriteString(m.renderInstances())
	case conflictsView:
		s.WriteString(m.renderConflicts())
	}

	if m.message != "" {
		s.WriteString("\n\n")
		if m.messageErr {
			s.WriteString(contentStyle.Render(errorStyle.Render("x " + m.message)))
		} else {
			s.WriteString(contentStyle.Render(successStyle.Render("ok " + m.message)))
		}
	}

	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp())))

	return s.String()
}

func (m model) renderTabs() string {
	tabs := []string{"Dashboard", "Instances", "Conflicts"}
	var renderedTabs []string

	for i, tab := range tabs {
		if view(i) == m.currentView {
			renderedTabs = append(renderedTabs, activeTabStyle.Render(tab))
		} else {
			renderedTabs = append(renderedTabs, inactiveTabStyle.Render(tab))
		}
	}
	return contentStyle.Render(lipgloss.JoinHorizontal(lipgloss.Top, renderedTabs...))
}

func networkColor(health cluster.NetworkHealth) lipgloss.Style {
	switch health {
	case cluster.NetworkHealthy:
		return successStyle
	case cluster.NetworkCritical:
		return errorStyle
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAF00")).Bold(true)
	}
}

func (m model) renderDashboard() string {
	if m.snapshot == nil {
		return contentStyle.Render("Waiting for first health snapshot...")
	}

	snap := m.snapshot
	isolatedRecords := "unknown"
	if snap.IsolatedRecords >= 0 {
		isolatedRecords = fmt.Sprintf("%d", snap.IsolatedRecords)
	}

	clusterContent := fmt.Sprintf(`Cluster
---------------
Local:        %s
Network:      %s
Instances:    %d (%d active, %d unreachable)
Checked:      %s`,
		snap.LocalInstanceID,
		networkColor(snap.Network).Render(string(snap.Network)),
		snap.TotalInstances,
		snap.ActiveInstances,
		snap.UnreachableInstances,
		snap.CheckedAt.Format("15:04:05"),
	)

	isolationState := "closed"
	if snap.Isolation.Open() {
		isolationState = "OPEN since " + snap.Isolation.StartedAt.Format("15:04:05")
	}
	statusContent := fmt.Sprintf(`Divergence
---------------
Isolation:        %s
Records at risk:  %s
Open conflicts:   %d`,
		isolationState,
		isolatedRecords,
		len(m.conflicts),
	)

	if snap.ObservationDegraded {
		statusContent += "\n\n" + errorStyle.Render("status feed unreachable")
	}

	return contentStyle.Render(lipgloss.JoinHorizontal(lipgloss.Top,
		statsBoxStyle.Render(clusterContent),
		statsBoxStyle.Render(statusContent),
	))
}

func (m model) renderInstances() string {
	var s strings.Builder

	s.WriteString(headerStyle.Render("Replication Peers"))
	s.WriteString("\n\n")
	s.WriteString(m.instanceTable.View())
	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render("Navigate with up/down"))

	return contentStyle.Render(s.String())
}

func (m model) renderConflicts() string {
	var s strings.Builder

	s.WriteString(headerStyle.Render("Open Conflicts"))
	s.WriteString("\n\n")

	if len(m.conflicts) == 0 {
		s.WriteString(successStyle.Render("No conflicted records"))
	} else {
		s.WriteString(m.conflictTable.View())
		s.WriteString("\n\n")
		s.WriteString(helpStyle.Render("Resolve via POST /conflicts/resolve on the monitor"))
	}

	return contentStyle.Render(s.String())
}

func main() {
	monitorURL := flag.String("monitor", "http://localhost:8086", "Base URL of the identity monitor ops API")
	flag.Parse()

	p := tea.NewProgram(initialModel(newAPIClient(*monitorURL)), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}
}
