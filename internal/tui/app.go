package tui

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/user/markhub/internal/db"
	"github.com/user/markhub/internal/indexer"
	"github.com/user/markhub/internal/integrations"
)

// Deps are what the dashboard reads from and acts on.
type Deps struct {
	Manager *integrations.Manager
	Indexer *indexer.Indexer
	Store   *db.Store
}

type model struct {
	deps     Deps
	urlInput textinput.Model
	list     list.Model
	counts   []db.SourceCount
	total    int
	notice   string
	busy     bool
	width    int
	height   int
	adding   bool
	err      error
}

type integrationItem struct {
	status integrations.Status
}

func (i integrationItem) Title() string {
	return fmt.Sprintf("%s %s", stateIcon(i.status), i.status.Name)
}

func (i integrationItem) Description() string {
	parts := []string{string(i.status.Type)}
	if !i.status.Configured {
		parts = append(parts, "not configured")
	}
	if i.status.NeedsReauth {
		parts = append(parts, "needs re-auth")
	}
	if i.status.LastSync > 0 {
		parts = append(parts, "synced "+time.UnixMilli(i.status.LastSync).Format("2006-01-02 15:04"))
	} else {
		parts = append(parts, "never synced")
	}
	if i.status.ShouldAutoSync {
		parts = append(parts, "due")
	}
	return strings.Join(parts, " · ")
}

func (i integrationItem) FilterValue() string {
	return i.status.ID + " " + i.status.Name
}

func stateIcon(s integrations.Status) string {
	switch {
	case s.Enabled && s.Configured && !s.NeedsReauth:
		return "[●]"
	case s.Enabled:
		return "[!]"
	default:
		return "[ ]"
	}
}

func initialModel(deps Deps) model {
	ti := textinput.New()
	ti.Placeholder = "https://... (Enter to add bookmark)"
	ti.CharLimit = 2048
	ti.Width = 50

	delegate := list.NewDefaultDelegate()
	l := list.New([]list.Item{}, delegate, 0, 0)
	l.Title = "markhub integrations"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)

	m := model{
		deps:     deps,
		urlInput: ti,
		list:     l,
	}
	if deps.Manager != nil {
		m.list.SetItems(statusesToItems(deps.Manager.AllIntegrationStatuses()))
	}
	return m
}

type refreshMsg struct {
	statuses []integrations.Status
	counts   []db.SourceCount
	total    int
	err      error
}

type actionMsg struct {
	notice string
	err    error
}

func (m model) Init() tea.Cmd {
	return m.refresh
}

func (m model) refresh() tea.Msg {
	msg := refreshMsg{statuses: m.deps.Manager.AllIntegrationStatuses()}
	if m.deps.Store != nil {
		msg.counts, msg.err = m.deps.Store.CountBySource()
		if msg.err == nil {
			msg.total, msg.err = m.deps.Store.Count()
		}
	}
	return msg
}

func (m model) selectedID() string {
	if item, ok := m.list.SelectedItem().(integrationItem); ok {
		return item.status.ID
	}
	return ""
}

func (m model) importSelected() tea.Cmd {
	id := m.selectedID()
	return func() tea.Msg {
		ctx := context.Background()
		res, err := m.deps.Manager.ImportFromIntegration(ctx, id)
		if err != nil {
			return actionMsg{err: err}
		}
		stats, err := m.deps.Indexer.Ingest(ctx, id, res)
		if err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{notice: fmt.Sprintf("%s: %d imported, %d new, %d duplicates", id, res.Imported, stats.New, stats.Duplicates)}
	}
}

func (m model) importAll() tea.Msg {
	ctx := context.Background()
	results := m.deps.Manager.ImportFromAll(ctx)
	stored, err := m.deps.Indexer.IngestAll(ctx, results)
	if err != nil {
		return actionMsg{err: err}
	}
	newCount, failed := 0, 0
	for id, res := range results {
		if !res.Success {
			failed++
			continue
		}
		if s := stored[id]; s != nil {
			newCount += s.New
		}
	}
	return actionMsg{notice: fmt.Sprintf("imported from %d integrations, %d new bookmarks, %d failed", len(results), newCount, failed)}
}

func (m model) toggleSelected() tea.Cmd {
	item, ok := m.list.SelectedItem().(integrationItem)
	if !ok {
		return nil
	}
	return func() tea.Msg {
		if item.status.Enabled {
			if err := m.deps.Manager.DisableIntegration(item.status.ID); err != nil {
				return actionMsg{err: err}
			}
			return actionMsg{notice: item.status.Name + " disabled, credentials cleared"}
		}
		if err := m.deps.Manager.SetIntegrationEnabled(item.status.ID, true); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{notice: item.status.Name + " enabled"}
	}
}

func (m model) addURL(url string) tea.Cmd {
	return func() tea.Msg {
		b, err := m.deps.Indexer.AddManualURL(context.Background(), url, "", nil, "")
		if err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{notice: "added " + b.URL}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.adding {
				return m, tea.Quit
			}
		case "esc":
			if m.adding {
				m.adding = false
				m.urlInput.Blur()
				m.urlInput.SetValue("")
			}
		case "/", "n":
			if !m.adding {
				m.adding = true
				m.urlInput.Focus()
				return m, textinput.Blink
			}
		case "enter":
			if m.adding {
				m.adding = false
				m.urlInput.Blur()
				url := strings.TrimSpace(m.urlInput.Value())
				m.urlInput.SetValue("")
				if url == "" {
					return m, nil
				}
				m.busy = true
				return m, m.addURL(url)
			}
		case "j", "down":
			if !m.adding {
				m.list.CursorDown()
				return m, nil
			}
		case "k", "up":
			if !m.adding {
				m.list.CursorUp()
				return m, nil
			}
		case "g":
			if !m.adding {
				m.list.Select(0)
				return m, nil
			}
		case "G":
			if !m.adding {
				items := m.list.Items()
				if len(items) > 0 {
					m.list.Select(len(items) - 1)
				}
				return m, nil
			}
		case "i":
			if !m.adding && !m.busy && m.selectedID() != "" {
				m.busy = true
				m.notice = "importing " + m.selectedID() + "..."
				return m, m.importSelected()
			}
		case "a":
			if !m.adding && !m.busy {
				m.busy = true
				m.notice = "importing from all integrations..."
				return m, m.importAll
			}
		case "e":
			if !m.adding && !m.busy {
				return m, m.toggleSelected()
			}
		case "r":
			if !m.adding {
				return m, m.refresh
			}
		case "o":
			if !m.adding {
				openBrowser(dashboardURL(m.selectedID()))
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width, msg.Height-8)
		m.urlInput.Width = msg.Width - 20

	case refreshMsg:
		m.err = msg.err
		m.list.SetItems(statusesToItems(msg.statuses))
		m.counts = msg.counts
		m.total = msg.total

	case actionMsg:
		m.busy = false
		if msg.err != nil {
			m.notice = "error: " + msg.err.Error()
		} else {
			m.notice = msg.notice
		}
		return m, m.refresh
	}

	if m.adding {
		var cmd tea.Cmd
		m.urlInput, cmd = m.urlInput.Update(msg)
		cmds = append(cmds, cmd)
	} else {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func statusesToItems(statuses []integrations.Status) []list.Item {
	items := make([]list.Item, 0, len(statuses))
	for _, s := range statuses {
		items = append(items, integrationItem{status: s})
	}
	return items
}

// dashboardURL is the provider page where the integration is managed.
func dashboardURL(id string) string {
	switch id {
	case integrations.TwitterID:
		return "https://developer.twitter.com/en/portal/dashboard"
	case integrations.RedditID:
		return "https://www.reddit.com/prefs/apps"
	case integrations.NotionID:
		return "https://www.notion.so/my-integrations"
	case integrations.ChromeID:
		return "chrome://bookmarks"
	case integrations.ZapierID:
		return "https://zapier.com/app/zaps"
	default:
		return ""
	}
}

func (m model) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err)
	}

	var b strings.Builder

	inputStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(0, 1)

	countStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))

	totalStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("86")).
		Bold(true)

	counts := []string{totalStyle.Render(fmt.Sprintf("%d bookmarks", m.total))}
	for _, c := range m.counts {
		counts = append(counts, countStyle.Render(fmt.Sprintf("%s:%d", c.Source, c.Count)))
	}

	inputBox := inputStyle.Render(m.urlInput.View())
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, inputBox, "  ", strings.Join(counts, " ")))
	b.WriteString("\n\n")

	b.WriteString(m.list.View())

	if m.notice != "" {
		noticeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
		b.WriteString("\n")
		b.WriteString(noticeStyle.Render(m.notice))
	}

	helpStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		MarginTop(1)

	help := "[j/k]nav [i]mport [a]ll [e]nable/disable [r]efresh [/]add url [o]pen provider [q]uit"
	b.WriteString(helpStyle.Render(help))

	return b.String()
}

func openBrowser(url string) {
	if url == "" {
		return
	}
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	}
	if cmd != nil {
		cmd.Start()
	}
}

// Run starts the integration dashboard
func Run(deps Deps) error {
	p := tea.NewProgram(initialModel(deps), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
