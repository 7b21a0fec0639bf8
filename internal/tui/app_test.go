package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/user/markhub/internal/integrations"
)

func newTestModel() model {
	manager := integrations.NewManager(nil, nil)
	manager.RegisterDefaults()
	m := initialModel(Deps{Manager: manager})
	newModel, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return newModel.(model)
}

func TestInitialModel_ListsIntegrations(t *testing.T) {
	m := newTestModel()

	if m.adding {
		t.Error("expected adding=false on init, got true")
	}
	if m.urlInput.Focused() {
		t.Error("expected url input blurred on init, got focused")
	}
	if got := len(m.list.Items()); got != 5 {
		t.Fatalf("expected 5 integrations, got %d", got)
	}
	if id := m.selectedID(); id != integrations.ChromeID {
		t.Errorf("expected first integration chrome, got %q", id)
	}
}

func TestUpdate_SlashFocusesURLInput(t *testing.T) {
	m := newTestModel()

	newModel, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'/'}})
	m = newModel.(model)

	if !m.adding {
		t.Error("expected adding=true after pressing /, got false")
	}
	if !m.urlInput.Focused() {
		t.Error("expected url input focused after pressing /")
	}
}

func TestUpdate_EscCancelsAdd(t *testing.T) {
	m := newTestModel()
	m.adding = true
	m.urlInput.Focus()
	m.urlInput.SetValue("https://go.dev")

	newModel, _ := m.Update(tea.KeyMsg{Type: tea.KeyEscape})
	m = newModel.(model)

	if m.adding {
		t.Error("expected adding=false after pressing Esc, got true")
	}
	if m.urlInput.Value() != "" {
		t.Errorf("expected url input cleared, got %q", m.urlInput.Value())
	}
}

func TestUpdate_QQuitsOnlyFromList(t *testing.T) {
	m := newTestModel()

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command when pressing q from list mode")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg from list mode")
	}

	m.adding = true
	m.urlInput.Focus()
	newModel, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	m = newModel.(model)
	if m.urlInput.Value() != "q" {
		t.Errorf("expected q to be typed into the url input, got %q", m.urlInput.Value())
	}
}

func TestUpdate_JKNavigatesInListMode(t *testing.T) {
	m := newTestModel()

	newModel, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
	m = newModel.(model)
	if id := m.selectedID(); id != integrations.NotionID {
		t.Errorf("expected notion after j, got %q", id)
	}

	newModel, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'G'}})
	m = newModel.(model)
	if id := m.selectedID(); id != integrations.ZapierID {
		t.Errorf("expected zapier after G, got %q", id)
	}

	newModel, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'k'}})
	m = newModel.(model)
	if id := m.selectedID(); id != integrations.TwitterID {
		t.Errorf("expected twitter after k, got %q", id)
	}
}

func TestUpdate_ActionMsgShowsNotice(t *testing.T) {
	m := newTestModel()
	m.busy = true

	newModel, cmd := m.Update(actionMsg{err: errors.New("integration is disabled: reddit")})
	m = newModel.(model)
	if m.busy {
		t.Error("expected busy=false after action finished")
	}
	if !strings.HasPrefix(m.notice, "error: ") {
		t.Errorf("expected error notice, got %q", m.notice)
	}
	if cmd == nil {
		t.Error("expected a refresh after an action")
	}
}

func TestIntegrationItemDescription(t *testing.T) {
	item := integrationItem{status: integrations.Status{
		ID:          "reddit",
		Name:        "Reddit",
		Type:        integrations.TypeSocial,
		Enabled:     true,
		Configured:  true,
		NeedsReauth: true,
	}}

	if got := item.Title(); got != "[!] Reddit" {
		t.Errorf("unexpected title %q", got)
	}
	desc := item.Description()
	for _, want := range []string{"social", "needs re-auth", "never synced"} {
		if !strings.Contains(desc, want) {
			t.Errorf("expected %q in description %q", want, desc)
		}
	}
}
