package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/jwebster45206/gamemaster/pkg/theme"
)

const (
	AgentName       = "Game Master"
	PlaceHolderText = "Pick an option number, type a new action, or /help..."
	newCharacter    = "+ New character"
	maxNotices      = 6
	requestTimeout  = 3 * time.Minute
)

type mode int

const (
	modeSelect mode = iota
	modeCreate
	modeGame
)

// ConsoleUI is the BubbleTea model that runs the UI.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	api          *apiClient
	chatViewport viewport.Model
	metaViewport viewport.Model
	textarea     textarea.Model
	ready        bool
	width        int
	height       int
	err          error
	loading      bool
	mode         mode

	// Save selection
	saves        []string
	selected     int
	loadingSaves bool

	// Character creation
	themeNames []string
	themes     map[string]themeInfo
	newTheme   string
	fieldIndex int
	background map[string]any

	// Running game
	saveName     string
	save         *saveView
	notices      []string
	events       chan SSEEvent
	cancelEvents context.CancelFunc

	showQuitModal bool
	progressTick  int
}

type savesLoadedMsg struct {
	saves      []string
	themeNames []string
	themes     map[string]themeInfo
	err        error
}

type saveLoadedMsg struct {
	name string
	save *saveView
	err  error
}

type saveRefreshedMsg struct {
	save *saveView
	err  error
}

// actionDoneMsg reports a finished game request. The notice, if any, is
// shown in the chat.
type actionDoneMsg struct {
	notice string
	err    error
}

type sseMsg SSEEvent

type progressTickMsg struct{}

var (
	chatPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(1).
			PaddingLeft(3).
			PaddingRight(0)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(0).
			PaddingLeft(0).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	narratorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")) // purple

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	loadingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)

	modalItemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	modalSelectedItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("205")).
				Bold(true)
)

var separatorStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("240")) // dark grey

func NewConsoleUI(api *apiClient) ConsoleUI {
	ta := textarea.New()
	ta.Placeholder = PlaceHolderText
	ta.Focus()
	ta.Prompt = promptStyle.Render(":: ")
	ta.CharLimit = 500
	ta.SetWidth(50)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	chatVp := viewport.New(50, 20)
	chatVp.MouseWheelEnabled = true

	metaVp := viewport.New(20, 20)

	return ConsoleUI{
		api:          api,
		textarea:     ta,
		chatViewport: chatVp,
		metaViewport: metaVp,
		mode:         modeSelect,
		loadingSaves: true,
	}
}

func (m ConsoleUI) Init() tea.Cmd {
	return m.loadSaves()
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

func (m ConsoleUI) loadSaves() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		saves, err := m.api.saves(ctx)
		if err != nil {
			return savesLoadedMsg{err: err}
		}
		names, themes, err := m.api.themes(ctx)
		return savesLoadedMsg{saves: saves, themeNames: names, themes: themes, err: err}
	}
}

func (m ConsoleUI) loadSave(name string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		v, err := m.api.load(ctx, name)
		return saveLoadedMsg{name: name, save: v, err: err}
	}
}

func (m ConsoleUI) createSave() tea.Cmd {
	themeName, background := m.newTheme, m.background
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		name, err := m.api.newSave(ctx, themeName, background)
		if err != nil {
			return saveLoadedMsg{err: err}
		}
		v, err := m.api.load(ctx, name)
		return saveLoadedMsg{name: name, save: v, err: err}
	}
}

func (m ConsoleUI) refreshSave() tea.Cmd {
	name := m.saveName
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		v, err := m.api.fetch(ctx, name)
		return saveRefreshedMsg{save: v, err: err}
	}
}

// run performs a game request off the UI loop.
func (m ConsoleUI) run(fn func(ctx context.Context) (string, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		notice, err := fn(ctx)
		return actionDoneMsg{notice: notice, err: err}
	}
}

func waitForEvent(ch <-chan SSEEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return sseMsg(ev)
	}
}

// listen starts the event stream of the current save.
func (m *ConsoleUI) listen() tea.Cmd {
	if m.cancelEvents != nil {
		m.cancelEvents()
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan SSEEvent, 16)
	m.events, m.cancelEvents = ch, cancel
	api, name := m.api, m.saveName
	go func() {
		defer close(ch)
		_ = api.listenToSSE(ctx, name, ch)
	}()
	return waitForEvent(ch)
}

func (m *ConsoleUI) notice(text string) {
	m.notices = append(m.notices, text)
	if len(m.notices) > maxNotices {
		m.notices = m.notices[len(m.notices)-maxNotices:]
	}
}

func (m *ConsoleUI) resize() {
	chatWidth := int(float64(m.width)*0.7) - 4
	metaWidth := m.width - chatWidth - 6
	m.chatViewport.Width = chatWidth - 2
	m.chatViewport.Height = m.height - 7
	m.metaViewport.Width = metaWidth - 2
	m.metaViewport.Height = m.height - 4
	m.textarea.SetWidth(chatWidth - 4)
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}
	switch m.mode {
	case modeSelect:
		return m.updateSelectModal(msg)
	case modeCreate:
		return m.updateCreateModal(msg)
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		mvCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.MouseMsg:
		m.chatViewport, vpCmd = m.chatViewport.Update(msg)
		m.metaViewport, mvCmd = m.metaViewport.Update(msg)
		return m, tea.Batch(vpCmd, mvCmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.ready = true
		m.writeChatContent()
		m.writeMetadata()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyEnter:
			if m.loading {
				return m, nil
			}
			input := strings.TrimSpace(m.textarea.Value())
			if input == "" {
				return m, nil
			}
			m.textarea.Reset()
			return m.handleInput(input)
		}

	case actionDoneMsg:
		m.loading = false
		if msg.err != nil {
			m.notice(errorStyle.Render("Error: " + msg.err.Error()))
		} else if msg.notice != "" {
			m.notice(noticeStyle.Render(msg.notice))
		}
		m.writeChatContent()
		return m, m.refreshSave()

	case saveRefreshedMsg:
		if msg.err != nil {
			m.notice(errorStyle.Render("Error: " + msg.err.Error()))
		} else {
			m.save = msg.save
		}
		m.writeChatContent()
		m.writeMetadata()

	case sseMsg:
		cmds := []tea.Cmd{waitForEvent(m.events)}
		switch msg.Type {
		case "shop.ready":
			m.notice(noticeStyle.Render("The shop has new stock."))
			cmds = append(cmds, m.refreshSave())
		case "quest.ready":
			data, _ := msg.Data["data"].(map[string]any)
			title, _ := data["title"].(string)
			m.notice(noticeStyle.Render("A new quest awaits: " + title))
			cmds = append(cmds, m.refreshSave())
		case "game.ended":
			cmds = append(cmds, m.refreshSave())
		}
		m.writeChatContent()
		return m, tea.Batch(cmds...)

	case progressTickMsg:
		if m.loading {
			m.progressTick++
			m.writeChatContent()
			return m, progressTick()
		}
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.chatViewport, vpCmd = m.chatViewport.Update(msg)
	m.metaViewport, mvCmd = m.metaViewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, mvCmd)
}

// handleInput picks an option by number, runs a command, or proposes a new
// action.
func (m ConsoleUI) handleInput(input string) (tea.Model, tea.Cmd) {
	if strings.HasPrefix(input, "/") {
		return m.handleCommand(input)
	}
	name := m.saveName
	if n, err := strconv.Atoi(input); err == nil && m.save.running() {
		if n < 1 || n > len(m.save.Story.Options) {
			m.notice(errorStyle.Render("No such option."))
			m.writeChatContent()
			return m, nil
		}
		action := m.save.Story.Options[n-1]
		return m.start(func(ctx context.Context) (string, error) {
			outcome, err := m.api.advance(ctx, name, action)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s: %s", action, outcome), nil
		})
	}
	return m.start(func(ctx context.Context) (string, error) {
		return m.api.createOption(ctx, name, input)
	})
}

func (m ConsoleUI) start(fn func(ctx context.Context) (string, error)) (tea.Model, tea.Cmd) {
	m.loading = true
	m.progressTick = 0
	m.writeChatContent()
	return m, tea.Batch(m.run(fn), progressTick())
}

const helpText = `
Commands:
• 1-5 - Take the numbered option
• any text - Propose a new action
• /quest - Show the quest, /newquest to replace it
• /start [goal] - Begin an adventure
• /end - End the adventure
• /shop - Show the shop
• /buy <item>, /sell <item> - Trade
• /skill <name> - Spend an action point
• /copy - Copy the last scene
• /saves - Back to the save list
• Ctrl+C - Quit
`

func (m ConsoleUI) handleCommand(input string) (tea.Model, tea.Cmd) {
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)
	name := m.saveName

	switch strings.ToLower(cmd) {
	case "/help":
		m.notice(titleStyle.Render("Help:") + helpText)
	case "/copy":
		if !m.save.running() || m.save.Story.Scene == "" {
			m.notice(errorStyle.Render("Nothing to copy."))
		} else if err := clipboard.WriteAll(m.save.Story.Scene); err != nil {
			m.notice(errorStyle.Render("Copy failed: " + err.Error()))
		} else {
			m.notice(noticeStyle.Render("Scene copied to clipboard."))
		}
	case "/quest", "/newquest":
		regen := strings.EqualFold(cmd, "/newquest")
		return m.start(func(ctx context.Context) (string, error) {
			q, err := m.api.quest(ctx, name, regen)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s: %s", q.Title, q.Description), nil
		})
	case "/start":
		return m.start(func(ctx context.Context) (string, error) {
			return "The adventure begins.", m.api.newStory(ctx, name, arg)
		})
	case "/end":
		return m.start(func(ctx context.Context) (string, error) {
			return "The adventure is over.", m.api.endGame(ctx, name)
		})
	case "/shop":
		return m.start(func(ctx context.Context) (string, error) {
			snap, err := m.api.shop(ctx, name)
			if err != nil {
				return "", err
			}
			var b strings.Builder
			b.WriteString(snap.ShopkeeperDescription + "\nFor sale:")
			for _, item := range sortedKeys(snap.SoldItems) {
				fmt.Fprintf(&b, "\n• %s (%d coins)", item, snap.SoldItems[item].Price)
			}
			b.WriteString("\nBuying:")
			for _, item := range sortedKeys(snap.BuyItems) {
				fmt.Fprintf(&b, "\n• %s (%d coins)", item, snap.BuyItems[item].Price)
			}
			return b.String(), nil
		})
	case "/buy", "/sell":
		verb := strings.TrimPrefix(strings.ToLower(cmd), "/")
		return m.start(func(ctx context.Context) (string, error) {
			return "Done.", m.api.trade(ctx, name, verb, arg)
		})
	case "/skill":
		return m.start(func(ctx context.Context) (string, error) {
			return arg + " improved.", m.api.spendPoint(ctx, name, arg)
		})
	case "/saves":
		if m.cancelEvents != nil {
			m.cancelEvents()
			m.cancelEvents = nil
		}
		m.mode = modeSelect
		m.loadingSaves = true
		m.save, m.saveName, m.notices, m.err = nil, "", nil, nil
		return m, m.loadSaves()
	default:
		m.notice(errorStyle.Render("Unknown command. Try /help"))
	}
	m.writeChatContent()
	return m, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// writeChatContent renders the story history and recent notices for the
// current viewport width.
func (m *ConsoleUI) writeChatContent() {
	width := m.chatViewport.Width - 6
	if width < 20 {
		width = 20
	}

	var content strings.Builder
	content.WriteString(titleStyle.Render("GAME MASTER") + "\n\n")
	content.WriteString(separatorStyle.Render(strings.Repeat("─", width)) + "\n\n")

	switch {
	case m.save == nil:
	case m.save.running():
		// History alternates between the chosen action and the scene it led to.
		for i, entry := range m.save.Story.History {
			if i%2 == 0 {
				content.WriteString(userStyle.Render("You: ") + wordwrap.String(entry, width-5) + "\n\n")
			} else {
				content.WriteString(narratorStyle.Render(AgentName+":") + "\n" + wordwrap.String(entry, width) + "\n\n")
			}
		}
	case m.save.Death:
		content.WriteString(errorStyle.Render("Your character has died.") + "\n\n")
	default:
		content.WriteString("No adventure is running. Check /quest, then /start one.\n\n")
	}

	for _, n := range m.notices {
		content.WriteString(wordwrap.String(n, width) + "\n\n")
	}

	if m.loading {
		content.WriteString(m.renderProgressBar())
	}

	m.chatViewport.SetContent(content.String())
	m.chatViewport.GotoBottom()
}

func (m *ConsoleUI) writeMetadata() {
	v := m.save
	if v == nil {
		m.metaViewport.SetContent("")
		return
	}
	var content strings.Builder
	charName, _ := v.Background["name"].(string)
	content.WriteString(titleStyle.Render(strings.ToUpper(charName)) + "\n\n")
	fmt.Fprintf(&content, "Theme: %s\n", v.Theme)
	fmt.Fprintf(&content, "Level: %d (%d XP)\n", v.Level, v.XP)
	fmt.Fprintf(&content, "Coins: %d\n", v.Coins)
	fmt.Fprintf(&content, "Action points: %d\n", v.ActionPoints)
	if v.running() {
		fmt.Fprintf(&content, "Health: %d\n", v.Story.Health)
	}

	if len(v.Skills) > 0 {
		content.WriteString("\nSkills:\n")
		for _, s := range sortedKeys(v.Skills) {
			fmt.Fprintf(&content, "• %s %d\n", s, v.Skills[s])
		}
	}

	if v.Quest != nil && v.Quest.Title != "" {
		content.WriteString("\nQuest:\n" + v.Quest.Title + "\n")
		for _, g := range sortedKeys(v.Quest.Goals) {
			fmt.Fprintf(&content, "• %s [%s]\n", g, v.Quest.Goals[g].Status)
		}
	}

	if v.running() && len(v.Story.Options) > 0 {
		content.WriteString("\nOptions:\n")
		for i, opt := range v.Story.Options {
			rate := 0.0
			if i < len(v.Story.Rates) {
				rate = v.Story.Rates[i] * 100
			}
			fmt.Fprintf(&content, "%d. %s (%.0f%%)\n", i+1, opt, rate)
		}
	}

	content.WriteString("\nType /help for commands.\n")
	m.metaViewport.SetContent(content.String())
}

func (m ConsoleUI) enterGame(name string, v *saveView) (tea.Model, tea.Cmd) {
	m.mode = modeGame
	m.loading = false
	m.saveName = name
	m.save = v
	m.notices = nil
	if m.width > 0 && m.height > 0 {
		m.resize()
		m.ready = true
	}
	m.writeChatContent()
	m.writeMetadata()
	m.textarea.Focus()
	events := m.listen()
	return m, tea.Batch(textarea.Blink, events)
}

func (m ConsoleUI) updateSelectModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case savesLoadedMsg:
		m.loadingSaves = false
		m.err = msg.err
		m.saves = append(msg.saves, newCharacter)
		m.themeNames, m.themes = msg.themeNames, msg.themes
		m.selected = 0

	case saveLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		return m.enterGame(msg.name, msg.save)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		}
		if m.loadingSaves || m.loading {
			return m, nil
		}
		if m.err != nil {
			// Any key dismisses the error.
			m.err = nil
			return m, nil
		}
		switch msg.Type {
		case tea.KeyUp:
			if m.selected > 0 {
				m.selected--
			}
		case tea.KeyDown:
			if m.selected < len(m.saves)-1 {
				m.selected++
			}
		case tea.KeyEnter:
			choice := m.saves[m.selected]
			if choice == newCharacter {
				m.mode = modeCreate
				m.newTheme = ""
				m.selected = 0
				return m, nil
			}
			m.loading = true
			return m, m.loadSave(choice)
		}
	}
	return m, nil
}

// currentField is the theme field being asked for, if any.
func (m ConsoleUI) currentField() (theme.Field, bool) {
	fields := m.themes[m.newTheme].Fields
	if m.newTheme == "" || m.fieldIndex >= len(fields) {
		return theme.Field{}, false
	}
	return fields[m.fieldIndex], true
}

func (m ConsoleUI) updateCreateModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case saveLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		return m.enterGame(msg.name, msg.save)

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyEsc {
			m.showQuitModal = true
			return m, nil
		}
		if m.loading {
			return m, nil
		}
		if m.err != nil {
			// Start over after a rejected character.
			m.err = nil
			m.mode = modeSelect
			m.selected = 0
			return m, nil
		}

		// Theme choice
		if m.newTheme == "" {
			switch msg.Type {
			case tea.KeyUp:
				if m.selected > 0 {
					m.selected--
				}
			case tea.KeyDown:
				if m.selected < len(m.themeNames)-1 {
					m.selected++
				}
			case tea.KeyEnter:
				if len(m.themeNames) > 0 {
					m.newTheme = m.themeNames[m.selected]
					m.fieldIndex = 0
					m.selected = 0
					m.background = map[string]any{}
					m.textarea.Reset()
				}
			}
			return m, nil
		}

		field, ok := m.currentField()
		if !ok {
			return m, nil
		}
		if field.FreeText() {
			if msg.Type != tea.KeyEnter {
				var cmd tea.Cmd
				m.textarea, cmd = m.textarea.Update(msg)
				return m, cmd
			}
			m.background[field.Name] = strings.TrimSpace(m.textarea.Value())
			m.textarea.Reset()
		} else {
			switch msg.Type {
			case tea.KeyUp:
				if m.selected > 0 {
					m.selected--
				}
				return m, nil
			case tea.KeyDown:
				if m.selected < len(field.Options)-1 {
					m.selected++
				}
				return m, nil
			case tea.KeyEnter:
				m.background[field.Name] = field.Options[m.selected]
			default:
				return m, nil
			}
		}

		m.fieldIndex++
		m.selected = 0
		if _, more := m.currentField(); !more {
			m.loading = true
			return m, m.createSave()
		}
	}
	return m, nil
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc, tea.KeyEnter:
			return m, tea.Quit
		default:
			switch msg.String() {
			case "y", "Y":
				return m, tea.Quit
			case "n", "N":
				m.showQuitModal = false
				if m.mode == modeGame {
					m.textarea.Focus()
					return m, textarea.Blink
				}
				return m, nil
			}
		}
	}

	return m, nil
}

func (m ConsoleUI) renderModal(width int, content string) string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	modal := modalStyle.Width(width).Render(content)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func renderList(content *strings.Builder, items []string, selected int) {
	for i, item := range items {
		if i == selected {
			content.WriteString(modalSelectedItemStyle.Render(fmt.Sprintf("▶ %s", item)))
		} else {
			content.WriteString(modalItemStyle.Render(fmt.Sprintf("  %s", item)))
		}
		content.WriteString("\n")
	}
}

func (m ConsoleUI) renderQuitModal() string {
	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Quit Game?"))
	content.WriteString("\n\n")
	content.WriteString("Are you sure you want to quit your adventure?")
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to quit, N to continue, or Ctrl+C to force quit"))
	return m.renderModal(50, content.String())
}

func (m ConsoleUI) renderSelectModal() string {
	var content strings.Builder
	switch {
	case m.loadingSaves:
		content.WriteString(modalTitleStyle.Render("Loading Saves..."))
		content.WriteString("\n\n")
		content.WriteString(loadingStyle.Render("Please wait while we fetch your characters..."))
	case m.err != nil:
		content.WriteString(modalTitleStyle.Render("Error"))
		content.WriteString("\n\n")
		content.WriteString(errorStyle.Render(m.err.Error()))
		content.WriteString("\n\n")
		content.WriteString(promptStyle.Render("Press any key to continue"))
	case m.loading:
		content.WriteString(modalTitleStyle.Render("Loading..."))
		content.WriteString("\n\n")
		content.WriteString(loadingStyle.Render("Opening your save..."))
	default:
		content.WriteString(modalTitleStyle.Render("Select a Character"))
		content.WriteString("\n\n")
		renderList(&content, m.saves, m.selected)
		content.WriteString("\n")
		content.WriteString(promptStyle.Render("Use ↑/↓ to navigate, Enter to select, Ctrl+C to exit"))
	}
	return m.renderModal(60, content.String())
}

func (m ConsoleUI) renderCreateModal() string {
	var content strings.Builder
	switch {
	case m.err != nil:
		content.WriteString(modalTitleStyle.Render("Error"))
		content.WriteString("\n\n")
		content.WriteString(errorStyle.Render(m.err.Error()))
		content.WriteString("\n\n")
		content.WriteString(promptStyle.Render("Press any key to continue"))
	case m.loading:
		content.WriteString(modalTitleStyle.Render("Creating Character..."))
		content.WriteString("\n\n")
		content.WriteString(loadingStyle.Render("The game master is writing your backstory..."))
	case m.newTheme == "":
		content.WriteString(modalTitleStyle.Render("Select a Theme"))
		content.WriteString("\n\n")
		renderList(&content, m.themeNames, m.selected)
	default:
		field, _ := m.currentField()
		content.WriteString(modalTitleStyle.Render(fmt.Sprintf("%s: %s", m.newTheme, field.Name)))
		content.WriteString("\n\n")
		if field.FreeText() {
			content.WriteString(m.textarea.View())
			content.WriteString("\n\n")
			content.WriteString(promptStyle.Render("Type a value and press Enter"))
		} else {
			renderList(&content, field.Options, m.selected)
		}
	}
	return m.renderModal(60, content.String())
}

func (m ConsoleUI) View() string {
	if m.showQuitModal {
		return m.renderQuitModal()
	}
	switch m.mode {
	case modeSelect:
		return m.renderSelectModal()
	case modeCreate:
		return m.renderCreateModal()
	}

	if !m.ready {
		return "\n  Initializing..."
	}

	chatWidth := int(float64(m.width)*0.7) - 4
	metaWidth := m.width - chatWidth - 6

	chatPanel := chatPanelStyle.Width(chatWidth).Height(m.height - 3).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.chatViewport.View(),
			"",
			separatorStyle.Render(strings.Repeat("─", chatWidth-4)),
			m.textarea.View(),
		),
	)

	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, chatPanel, metaPanel)
}

// renderProgressBar creates an animated progress bar for loading states
func (m ConsoleUI) renderProgressBar() string {
	usable := m.chatViewport.Width - 6
	if usable <= 0 {
		usable = 30
	}
	if usable > 80 {
		usable = 80
	} else if usable < 10 {
		usable = 10
	}

	const totalFrames = 40
	frame := m.progressTick % totalFrames
	filled := (frame * usable) / totalFrames

	var bar strings.Builder
	for i := 0; i < usable; i++ {
		if i < filled {
			bar.WriteString("█")
		} else if i == filled && frame%4 < 2 {
			bar.WriteString("▓") // Blinking effect at the progress point
		} else {
			bar.WriteString("░")
		}
	}
	return separatorStyle.Render(bar.String())
}

// progressTick creates a command that sends a progress tick message
func progressTick() tea.Cmd {
	return tea.Tick(time.Millisecond*200, func(time.Time) tea.Msg {
		return progressTickMsg{}
	})
}
