// Package app is the root Bubble Tea model of the Einrichten TUI.
package app

import (
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nippledipple/gemeinsam-einrichten/internal/appstate"
	"github.com/nippledipple/gemeinsam-einrichten/internal/theme"
	"github.com/nippledipple/gemeinsam-einrichten/internal/views/items"
	"github.com/nippledipple/gemeinsam-einrichten/internal/views/notifications"
	"github.com/nippledipple/gemeinsam-einrichten/internal/views/rooms"
	"github.com/nippledipple/gemeinsam-einrichten/internal/views/status"
)

// Store is the part of appstate.Store the TUI drives.
type Store interface {
	State() appstate.PersistedState
	SpaceData() (appstate.SpaceData, bool)
	Status() appstate.Status
	UnreadNotifications() int

	SignIn(name, email string) (appstate.User, error)
	CreateSpace(name string) (appstate.Space, error)
	SwitchSpace(spaceID string) error
	AddItem(in appstate.NewItem) (appstate.Item, error)
	DeleteItem(itemID string) error
	TogglePriority(itemID string) error
	ToggleFavorite(itemID string) error
	SetTheme(dark *bool) error
	MarkNotificationRead(id string) error
}

// StoreChangedMsg tells the model to re-read the store.
type StoreChangedMsg struct{}

// WaitForChange blocks until the store signals a change.
func WaitForChange(changes <-chan struct{}) tea.Cmd {
	if changes == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return StoreChangedMsg{}
	}
}

// Prompt identifies which text prompt is active.
type Prompt int

const (
	PromptNone Prompt = iota
	PromptName
	PromptEmail
	PromptSpace
	PromptItem
)

var (
	errMissingTitle = errors.New("missing title")
	errBadPrice     = errors.New("invalid price")
)

var promptLabels = map[Prompt]string{
	PromptName:  "Dein Name",
	PromptEmail: "Deine E-Mail",
	PromptSpace: "Name des Raums",
	PromptItem:  "Neuer Eintrag (Titel @ Preis)",
}

// Model is the root Bubble Tea model.
type Model struct {
	store   Store
	changes <-chan struct{}

	keys   KeyMap
	width  int
	height int

	state     appstate.PersistedState
	statusBar status.Model
	list      items.Model
	rooms     rooms.Model
	inbox     notifications.Model
	showRooms bool
	showInbox bool

	prompt      Prompt
	input       textinput.Model
	pendingName string
	err         error
}

// New creates the root model. changes may be nil.
func New(store Store, changes <-chan struct{}) Model {
	input := textinput.New()
	input.CharLimit = 120
	m := Model{
		store:     store,
		changes:   changes,
		keys:      DefaultKeyMap(),
		statusBar: status.New(),
		list:      items.New(),
		rooms:     rooms.New(),
		inbox:     notifications.New(),
		input:     input,
	}
	m.refresh()
	switch {
	case m.state.CurrentUser == nil:
		m.startPrompt(PromptName)
	case m.state.CurrentSpace == nil:
		m.startPrompt(PromptSpace)
	}
	return m
}

// Init starts listening for store changes.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, WaitForChange(m.changes))
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.list.Width = msg.Width
		m.rooms.Width = msg.Width
		return m, nil

	case StoreChangedMsg:
		m.refresh()
		return m, WaitForChange(m.changes)

	case tea.KeyMsg:
		switch {
		case m.prompt != PromptNone:
			return m.handlePromptKey(msg)
		case m.showInbox:
			return m.handleInboxKey(msg)
		}
		return m.handleKey(msg)
	}

	if m.prompt != PromptNone {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handlePromptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.Type == tea.KeyCtrlC:
		return m, tea.Quit

	case key.Matches(msg, m.keys.Escape):
		if m.onboarding() {
			return m, nil
		}
		m.prompt = PromptNone
		m.input.Blur()
		m.err = nil
		return m, nil

	case key.Matches(msg, m.keys.Enter):
		m.submit(strings.TrimSpace(m.input.Value()))
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// onboarding reports whether the prompt cannot be skipped.
func (m Model) onboarding() bool {
	return m.state.CurrentUser == nil || m.state.CurrentSpace == nil
}

func (m *Model) submit(value string) {
	m.err = nil
	switch m.prompt {
	case PromptName:
		if value == "" {
			return
		}
		m.pendingName = value
		m.startPrompt(PromptEmail)
		return

	case PromptEmail:
		if _, err := m.store.SignIn(m.pendingName, value); err != nil {
			m.err = err
			return
		}
		if m.store.State().CurrentSpace == nil {
			m.startPrompt(PromptSpace)
			return
		}

	case PromptSpace:
		if _, err := m.store.CreateSpace(value); err != nil {
			m.err = err
			return
		}

	case PromptItem:
		title, price, err := ParseItemInput(value)
		if err != nil {
			m.err = err
			return
		}
		if _, err := m.store.AddItem(appstate.NewItem{Title: title, Price: price}); err != nil {
			m.err = err
			return
		}
	}
	m.prompt = PromptNone
	m.input.Blur()
}

func (m *Model) startPrompt(p Prompt) {
	m.prompt = p
	m.input.Reset()
	m.input.Placeholder = promptLabels[p]
	m.input.Focus()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.err = nil

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Down):
		m.list.Next()

	case key.Matches(msg, m.keys.Up):
		m.list.Prev()

	case key.Matches(msg, m.keys.Add):
		m.startPrompt(PromptItem)
		return m, textinput.Blink

	case key.Matches(msg, m.keys.NewSpace):
		m.startPrompt(PromptSpace)
		return m, textinput.Blink

	case key.Matches(msg, m.keys.Priority):
		m.onSelected(m.store.TogglePriority)

	case key.Matches(msg, m.keys.Favorite):
		m.onSelected(m.store.ToggleFavorite)

	case key.Matches(msg, m.keys.Delete):
		m.onSelected(m.store.DeleteItem)

	case key.Matches(msg, m.keys.Switch):
		if next, ok := m.nextSpace(); ok {
			m.err = m.store.SwitchSpace(next)
		}

	case key.Matches(msg, m.keys.Rooms):
		m.showRooms = !m.showRooms

	case key.Matches(msg, m.keys.Theme):
		m.err = m.store.SetTheme(nextTheme(m.state.IsDarkMode))

	case key.Matches(msg, m.keys.Inbox):
		m.showInbox = true
	}

	m.refresh()
	return m, nil
}

func (m Model) handleInboxKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.err = nil
	switch {
	case key.Matches(msg, m.keys.Escape), key.Matches(msg, m.keys.Inbox):
		m.showInbox = false
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Down):
		m.inbox.Down()
	case key.Matches(msg, m.keys.Up):
		m.inbox.Up()
	case key.Matches(msg, m.keys.Enter):
		if n, ok := m.inbox.Current(); ok && !n.Read {
			m.err = m.store.MarkNotificationRead(n.ID)
		}
	}
	m.refresh()
	return m, nil
}

func (m *Model) onSelected(fn func(itemID string) error) {
	it, ok := m.list.Current()
	if !ok {
		return
	}
	m.err = fn(it.ID)
}

func (m Model) nextSpace() (string, bool) {
	spaces := m.state.AllSpaces
	if len(spaces) < 2 || m.state.CurrentSpace == nil {
		return "", false
	}
	i := slices.IndexFunc(spaces, func(sp appstate.Space) bool { return sp.ID == m.state.CurrentSpace.ID })
	return spaces[(i+1)%len(spaces)].ID, true
}

// nextTheme cycles system → dark → light → system.
func nextTheme(cur *bool) *bool {
	switch {
	case cur == nil:
		dark := true
		return &dark
	case *cur:
		light := false
		return &light
	default:
		return nil
	}
}

func themeLabel(dark *bool) string {
	switch {
	case dark == nil:
		return "System"
	case *dark:
		return "Dunkel"
	default:
		return "Hell"
	}
}

// ParseItemInput splits "Titel @ Preis". A price containing a comma is
// read the German way (1.299,50).
func ParseItemInput(s string) (title string, price float64, err error) {
	title, raw, found := strings.Cut(s, "@")
	title = strings.TrimSpace(title)
	if title == "" {
		return "", 0, errMissingTitle
	}
	if !found {
		return title, 0, nil
	}
	raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "€"))
	if strings.Contains(raw, ",") {
		raw = strings.ReplaceAll(raw, ".", "")
		raw = strings.ReplaceAll(raw, ",", ".")
	}
	price, err = strconv.ParseFloat(raw, 64)
	if err != nil || price < 0 {
		return "", 0, errBadPrice
	}
	return title, price, nil
}

func (m *Model) refresh() {
	m.state = m.store.State()
	st := m.store.Status()

	m.statusBar.Online = st.IsOnline
	m.statusBar.Realtime = st.IsRealtimeConnected
	m.statusBar.Presence = st.Presence.Count
	m.statusBar.LastSync = st.LastSyncTime
	m.statusBar.Unread = m.store.UnreadNotifications()
	m.statusBar.SpaceName = ""
	if m.state.CurrentSpace != nil {
		m.statusBar.SpaceName = m.state.CurrentSpace.Name
	}

	d, _ := m.store.SpaceData()
	m.list.SetItems(d.Items)
	m.rooms.SetData(d)
	m.inbox.SetEntries(m.state.Notifications)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	sections := []string{m.statusBar.View()}
	switch {
	case m.showInbox:
		sections = append(sections, m.inbox.View(m.width, m.height-4))
	case m.prompt != PromptNone:
		sections = append(sections,
			theme.StyleHeader.Render(promptLabels[m.prompt]),
			m.input.View(),
		)
	default:
		sections = append(sections, m.list.View())
		if m.showRooms {
			sections = append(sections, m.rooms.View())
		}
	}
	if m.err != nil {
		sections = append(sections, theme.StyleError.Render("  "+m.err.Error()))
	}
	sections = append(sections, theme.StyleDimmed.Render(
		"  j/k:navigate  a:add  p:priority  f:favorite  x:delete  n:new space  s:switch  r:budgets  i:inbox  t:theme ("+
			themeLabel(m.state.IsDarkMode)+")  q:quit"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
