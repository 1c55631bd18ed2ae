// Package tui provides the Bubble Tea reading interface.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/inkleaf/inkleaf/internal/access"
	"github.com/inkleaf/inkleaf/internal/model"
	"github.com/inkleaf/inkleaf/internal/store"
)

type view int

const (
	viewLibrary view = iota
	viewChapters
	viewReader
)

// promotionMsg carries chapter IDs promoted from a wait-timer to the
// unlocked set.
type promotionMsg []string

// countdownMsg drives the once-a-second countdown re-render.
type countdownMsg time.Time

var (
	titleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A"))
	lockedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	timerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	footerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#B0B0B0"))
	unlockedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6BCB77"))
)

// Model implements the Bubble Tea reading UI.
type Model struct {
	store *store.Store
	ctrl  *access.Controller
	cfg   model.Config

	view   view
	width  int
	height int

	novels     []model.Novel
	novelTable table.Model

	currentNovel model.Novel
	chapters     []model.Chapter
	cursor       int

	current model.Chapter
	reader  viewport.Model

	promotions  <-chan []string
	countdownOn bool
	status      string
}

// NewModel constructs the reading UI. The promotions channel delivers
// chapter IDs promoted by the access controller's ticker.
func NewModel(st *store.Store, ctrl *access.Controller, cfg model.Config, promotions <-chan []string) (*Model, error) {
	novels, err := st.ListNovels(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to list novels: %w", err)
	}

	columns := []table.Column{
		{Title: "Title", Width: 36},
		{Title: "Author", Width: 20},
		{Title: "Chapters", Width: 8},
	}
	rows := make([]table.Row, len(novels))
	for i, n := range novels {
		rows[i] = table.Row{n.Title, n.Author, fmt.Sprintf("%d", n.Chapters)}
	}
	novelTable := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
	)

	return &Model{
		store:      st,
		ctrl:       ctrl,
		cfg:        cfg,
		novels:     novels,
		novelTable: novelTable,
		promotions: promotions,
	}, nil
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{waitForPromotion(m.promotions)}
	if _, ok := m.ctrl.ActiveChapter(); ok {
		m.countdownOn = true
		cmds = append(cmds, countdownCmd())
	}
	return tea.Batch(cmds...)
}

func waitForPromotion(ch <-chan []string) tea.Cmd {
	return func() tea.Msg {
		ids, ok := <-ch
		if !ok {
			return nil
		}
		return promotionMsg(ids)
	}
}

func countdownCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return countdownMsg(t)
	})
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.novelTable.SetHeight(maxInt(3, m.height-4))
		m.resizeReader()
		return m, nil
	case promotionMsg:
		m.status = promotionStatus(msg, m.chapters)
		return m, waitForPromotion(m.promotions)
	case countdownMsg:
		if _, ok := m.ctrl.ActiveChapter(); ok {
			return m, countdownCmd()
		}
		m.countdownOn = false
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	default:
		return m, nil
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}
	switch m.view {
	case viewLibrary:
		return m.handleLibraryKey(msg)
	case viewChapters:
		return m.handleChaptersKey(msg)
	default:
		return m.handleReaderKey(msg)
	}
}

func (m *Model) handleLibraryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "enter":
		if len(m.novels) == 0 {
			return m, nil
		}
		idx := m.novelTable.Cursor()
		if idx < 0 || idx >= len(m.novels) {
			return m, nil
		}
		if err := m.openNovel(m.novels[idx]); err != nil {
			m.status = err.Error()
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.novelTable, cmd = m.novelTable.Update(msg)
	return m, cmd
}

func (m *Model) handleChaptersKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q":
		m.view = viewLibrary
		m.status = ""
		return m, nil
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "down", "j":
		if m.cursor < len(m.chapters)-1 {
			m.cursor++
		}
		return m, nil
	case "enter":
		return m.openSelected()
	case "w":
		return m.startWait()
	case "u":
		return m.unlockSelected()
	}
	return m, nil
}

func (m *Model) handleReaderKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q":
		m.view = viewChapters
		return m, nil
	}
	var cmd tea.Cmd
	m.reader, cmd = m.reader.Update(msg)
	return m, cmd
}

func (m *Model) openNovel(n model.Novel) error {
	chapters, err := m.store.ListChapters(context.Background(), n.ID)
	if err != nil {
		return fmt.Errorf("failed to list chapters: %w", err)
	}
	m.currentNovel = n
	m.chapters = chapters
	m.cursor = 0
	m.view = viewChapters
	m.status = ""
	return nil
}

func (m *Model) selected() (model.Chapter, bool) {
	if m.cursor < 0 || m.cursor >= len(m.chapters) {
		return model.Chapter{}, false
	}
	return m.chapters[m.cursor], true
}

func (m *Model) openSelected() (tea.Model, tea.Cmd) {
	ch, ok := m.selected()
	if !ok {
		return m, nil
	}
	if !m.ctrl.Unlocked(ch) {
		if rem, waiting := m.ctrl.Remaining(ch.ID); waiting {
			m.status = fmt.Sprintf("chapter %d unlocks in %s", ch.Number, rem.Full)
		} else {
			m.status = fmt.Sprintf("chapter %d is locked: press w to wait or u to unlock", ch.Number)
		}
		return m, nil
	}
	full, err := m.store.GetChapter(context.Background(), ch.ID)
	if err != nil {
		m.status = fmt.Sprintf("failed to load chapter: %v", err)
		return m, nil
	}
	m.current = full
	m.view = viewReader
	m.status = ""
	m.resizeReader()
	m.reader.GotoTop()
	return m, nil
}

func (m *Model) startWait() (tea.Model, tea.Cmd) {
	ch, ok := m.selected()
	if !ok {
		return m, nil
	}
	if m.ctrl.Unlocked(ch) {
		m.status = fmt.Sprintf("chapter %d is already unlocked", ch.Number)
		return m, nil
	}
	err := m.ctrl.StartTimer(ch.ID, ch.WaitHours)
	var conflict *access.ConflictError
	if errors.As(err, &conflict) {
		// Show the running timer instead of an error dialog.
		if rem, waiting := m.ctrl.Remaining(conflict.ActiveChapterID); waiting {
			m.status = fmt.Sprintf("already waiting on %s (%s left)",
				chapterLabel(conflict.ActiveChapterID, m.chapters), rem.Full)
		} else {
			m.status = "another wait is already running"
		}
		return m, nil
	}
	if err != nil {
		m.status = err.Error()
		return m, nil
	}
	m.status = fmt.Sprintf("wait started: chapter %d unlocks in %dh", ch.Number, ch.WaitHours)
	if !m.countdownOn {
		m.countdownOn = true
		return m, countdownCmd()
	}
	return m, nil
}

func (m *Model) unlockSelected() (tea.Model, tea.Cmd) {
	ch, ok := m.selected()
	if !ok {
		return m, nil
	}
	if m.ctrl.Unlocked(ch) {
		m.status = fmt.Sprintf("chapter %d is already unlocked", ch.Number)
		return m, nil
	}
	m.ctrl.UnlockNow(ch.ID)
	m.status = fmt.Sprintf("chapter %d unlocked", ch.Number)
	return m, nil
}

func (m *Model) resizeReader() {
	if m.width == 0 || m.height == 0 {
		return
	}
	contentWidth := int(float64(m.width) * m.cfg.ReaderWidth)
	if contentWidth < 20 {
		contentWidth = minInt(m.width, 20)
	}
	m.reader = viewport.New(contentWidth, maxInt(3, m.height-4))
	m.reader.SetContent(wrapText(m.current.Body, contentWidth))
}

// View implements tea.Model.
func (m *Model) View() string {
	switch m.view {
	case viewLibrary:
		return m.viewLibrary()
	case viewChapters:
		return m.viewChapters()
	default:
		return m.viewReader()
	}
}

func (m *Model) viewLibrary() string {
	if len(m.novels) == 0 {
		empty := dimStyle.Render("No novels imported yet. Run: inkleaf import <feed.json>")
		return "\n" + empty + "\n"
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("Library"))
	b.WriteString("\n")
	b.WriteString(m.novelTable.View())
	b.WriteString("\n")
	b.WriteString(footerStyle.Render("enter open · q quit"))
	b.WriteString(m.statusLine())
	return b.String()
}

func (m *Model) viewChapters() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.currentNovel.Title))
	b.WriteString("\n\n")
	start, end := listWindow(len(m.chapters), m.cursor, m.height-6)
	for i := start; i < end; i++ {
		prefix := "  "
		if i == m.cursor {
			prefix = cursorStyle.Render("> ")
		}
		b.WriteString(prefix + m.chapterRow(m.chapters[i]))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(footerStyle.Render("enter read · w wait · u unlock · esc back"))
	b.WriteString(m.statusLine())
	return b.String()
}

// chapterRow renders one chapter line with its lock badge: nothing for
// readable chapters, a live countdown while a wait-timer runs, "locked"
// otherwise.
func (m *Model) chapterRow(ch model.Chapter) string {
	row := fmt.Sprintf("%3d  %s", ch.Number, ch.Title)
	if m.ctrl.Unlocked(ch) {
		if ch.Number > access.FreeChapters {
			return row + "  " + unlockedStyle.Render("unlocked")
		}
		return row
	}
	if rem, ok := m.ctrl.Remaining(ch.ID); ok {
		return row + "  " + timerStyle.Render(rem.Short)
	}
	return row + "  " + lockedStyle.Render("locked")
}

func (m *Model) viewReader() string {
	var b strings.Builder
	header := fmt.Sprintf("%s / %d. %s", m.currentNovel.Title, m.current.Number, m.current.Title)
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n")
	b.WriteString(m.reader.View())
	b.WriteString("\n")
	b.WriteString(footerStyle.Render("↑/↓ scroll · esc back"))
	return b.String()
}

func (m *Model) statusLine() string {
	if m.status == "" {
		return ""
	}
	return "\n" + statusStyle.Render(m.status)
}

func promotionStatus(ids []string, chapters []model.Chapter) string {
	labels := make([]string, len(ids))
	for i, id := range ids {
		labels[i] = chapterLabel(id, chapters)
	}
	return fmt.Sprintf("unlocked: %s", strings.Join(labels, ", "))
}

func chapterLabel(id string, chapters []model.Chapter) string {
	for _, ch := range chapters {
		if ch.ID == id {
			return fmt.Sprintf("chapter %d", ch.Number)
		}
	}
	return id
}

// listWindow returns the half-open row range to display so the cursor stays
// visible within the available height.
func listWindow(total, cursor, visible int) (int, int) {
	if visible <= 0 || total <= visible {
		return 0, total
	}
	start := cursor - visible/2
	if start < 0 {
		start = 0
	}
	if start+visible > total {
		start = total - visible
	}
	return start, start + visible
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
