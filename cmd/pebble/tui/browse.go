package tui

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/marshallshelly/pebble-integrity/pkg/integrity"
	"github.com/marshallshelly/pebble-integrity/pkg/schema"
	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

// BrowseMode represents the current screen of the browser
type BrowseMode int

const (
	ModeKinds BrowseMode = iota
	ModeRecords
	ModeDetail
	ModeConfirm
)

// BrowseModel is the Bubbletea model for browsing kinds and records
type BrowseModel struct {
	mode         BrowseMode
	engine       *integrity.Engine
	kinds        list.Model
	records      list.Model
	kind         string
	selected     store.Record
	related      []relatedCount
	confirmation ConfirmationDialog
	logs         LogView
	width        int
	height       int
}

type relatedCount struct {
	name   string
	target string
	count  int
}

// NewBrowseModel creates a browser over e
func NewBrowseModel(e *integrity.Engine) BrowseModel {
	kinds := list.New(nil, ItemDelegate{}, 0, 0)
	kinds.Title = "Entity Kinds"
	kinds.SetShowStatusBar(false)
	kinds.SetFilteringEnabled(false)
	kinds.Styles.Title = titleStyle

	records := list.New(nil, ItemDelegate{}, 0, 0)
	records.SetShowStatusBar(true)
	records.SetFilteringEnabled(true)
	records.Styles.Title = titleStyle

	m := BrowseModel{
		mode:    ModeKinds,
		engine:  e,
		kinds:   kinds,
		records: records,
		logs:    NewLogView(5),
	}
	m.kinds.SetItems(m.kindItems())
	return m
}

// Init initializes the model
func (m BrowseModel) Init() tea.Cmd {
	return tea.EnterAltScreen
}

// Messages
type recordsLoadedMsg struct {
	kind    string
	records []store.Record
	err     error
}

type relatedLoadedMsg struct {
	key     store.Key
	related []relatedCount
	err     error
}

type deletedMsg struct {
	record   store.Record
	cascaded map[string]int
	err      error
}

type cancelMsg struct{}

// Commands
func loadRecordsCmd(e *integrity.Engine, kind string) tea.Cmd {
	return func() tea.Msg {
		seq, err := e.Scan(context.Background(), kind, nil)
		if err != nil {
			return recordsLoadedMsg{kind: kind, err: err}
		}
		var records []store.Record
		for rec := range seq {
			records = append(records, rec)
		}
		return recordsLoadedMsg{kind: kind, records: records}
	}
}

func loadRelatedCmd(e *integrity.Engine, rec store.Record) tea.Cmd {
	return func() tea.Msg {
		rels, err := e.Registry().Relationships(rec.Kind)
		if err != nil {
			return relatedLoadedMsg{key: rec.Key, err: err}
		}
		out := make([]relatedCount, 0, len(rels))
		for _, rel := range rels {
			seq, err := e.RelatedOf(context.Background(), rec.Kind, rec.Key, rel.Name)
			if err != nil {
				return relatedLoadedMsg{key: rec.Key, err: err}
			}
			n := 0
			for range seq {
				n++
			}
			out = append(out, relatedCount{name: rel.Name, target: rel.Target, count: n})
		}
		return relatedLoadedMsg{key: rec.Key, related: out}
	}
}

func deleteRecordCmd(e *integrity.Engine, rec store.Record) tea.Cmd {
	return func() tea.Msg {
		before := e.Stats()
		deleted, err := e.Delete(context.Background(), rec.Kind, rec.Key, integrity.ExpectVersion(rec.Version))
		if err != nil {
			return deletedMsg{record: rec, err: err}
		}
		after := e.Stats()
		cascaded := make(map[string]int)
		for kind, n := range before {
			if kind != rec.Kind && n > after[kind] {
				cascaded[kind] = n - after[kind]
			}
		}
		return deletedMsg{record: deleted, cascaded: cascaded}
	}
}

// Update handles messages
func (m BrowseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.kinds.SetSize(msg.Width-4, msg.Height-12)
		m.records.SetSize(msg.Width-4, msg.Height-12)
		return m, nil

	case recordsLoadedMsg:
		if msg.err != nil {
			m.logs.AddLog(FormatStatus("rejected") + " " + msg.err.Error())
			return m, nil
		}
		m.kind = msg.kind
		m.records.Title = fmt.Sprintf("%s (%d)", msg.kind, len(msg.records))
		m.records.SetItems(m.recordItems(msg.records))
		m.mode = ModeRecords
		return m, nil

	case relatedLoadedMsg:
		if msg.err != nil {
			m.logs.AddLog(FormatStatus("rejected") + " " + msg.err.Error())
			return m, nil
		}
		if msg.key == m.selected.Key {
			m.related = msg.related
		}
		return m, nil

	case deletedMsg:
		if msg.err != nil {
			m.logs.AddLog(FormatStatus("rejected") + fmt.Sprintf(" delete %s %s: %v", msg.record.Kind, msg.record.Key, msg.err))
			m.mode = ModeRecords
			return m, nil
		}
		m.logs.AddLog(FormatStatus("committed") + fmt.Sprintf(" deleted %s %s", msg.record.Kind, msg.record.Key))
		for kind, n := range msg.cascaded {
			m.logs.AddLog(FormatStatus("cascaded") + fmt.Sprintf(" %d %s", n, kind))
		}
		m.kinds.SetItems(m.kindItems())
		return m, loadRecordsCmd(m.engine, m.kind)

	case cancelMsg:
		m.mode = ModeRecords
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.mode {
		case ModeKinds:
			switch msg.String() {
			case "q":
				return m, tea.Quit
			case "enter":
				if item, ok := m.kinds.SelectedItem().(KindItem); ok {
					return m, loadRecordsCmd(m.engine, item.Name)
				}
				return m, nil
			}

		case ModeRecords:
			if m.records.FilterState() == list.Filtering {
				break
			}
			switch msg.String() {
			case "esc", "q":
				m.mode = ModeKinds
				m.kinds.SetItems(m.kindItems())
				return m, nil
			case "r":
				return m, loadRecordsCmd(m.engine, m.kind)
			case "enter":
				if item, ok := m.records.SelectedItem().(RecordItem); ok {
					m.selected = item.Record
					m.related = nil
					m.mode = ModeDetail
					return m, loadRelatedCmd(m.engine, item.Record)
				}
				return m, nil
			case "d":
				if item, ok := m.records.SelectedItem().(RecordItem); ok {
					m.openConfirm(item.Record)
				}
				return m, nil
			}

		case ModeDetail:
			switch msg.String() {
			case "esc", "q":
				m.mode = ModeRecords
				return m, nil
			case "d":
				m.openConfirm(m.selected)
				return m, nil
			}

		case ModeConfirm:
			switch msg.String() {
			case "q", "esc":
				m.mode = ModeRecords
				return m, nil
			default:
				return m, m.confirmation.Update(msg)
			}
		}
	}

	var cmd tea.Cmd
	switch m.mode {
	case ModeKinds:
		m.kinds, cmd = m.kinds.Update(msg)
	case ModeRecords:
		m.records, cmd = m.records.Update(msg)
	}
	return m, cmd
}

func (m *BrowseModel) openConfirm(rec store.Record) {
	others := slices.DeleteFunc(m.engine.Registry().DeleteClosure(rec.Kind), func(k string) bool {
		return k == rec.Kind
	})
	message := fmt.Sprintf("Delete %s %s?", rec.Kind, rec.Key)
	if len(others) > 0 {
		message += "\n" + mutedStyle.Render("Checks dependents in: "+strings.Join(others, ", "))
	}
	m.confirmation = NewConfirmationDialog("Confirm Delete", message)
	engine := m.engine
	m.confirmation.OnConfirm = func() tea.Cmd {
		return deleteRecordCmd(engine, rec)
	}
	m.confirmation.OnCancel = func() tea.Cmd {
		return func() tea.Msg { return cancelMsg{} }
	}
	m.mode = ModeConfirm
}

func (m BrowseModel) kindItems() []list.Item {
	reg := m.engine.Registry()
	counts := m.engine.Stats()
	items := make([]list.Item, 0, len(counts))
	for _, meta := range reg.All() {
		items = append(items, KindItem{
			Name:          meta.Name,
			Count:         counts[meta.Name],
			Relationships: len(meta.Relationships),
			Junction:      meta.IsJunction(),
		})
	}
	return items
}

func (m BrowseModel) recordItems(records []store.Record) []list.Item {
	meta, err := m.engine.Registry().Entity(m.kind)
	items := make([]list.Item, len(records))
	for i, rec := range records {
		summary := ""
		if err == nil {
			summary = summarize(meta, rec)
		}
		items[i] = RecordItem{Record: rec, Summary: summary}
	}
	return items
}

// summarize shows the first few non-identity fields.
func summarize(meta *schema.EntityMetadata, rec store.Record) string {
	parts := make([]string, 0, 3)
	for _, f := range meta.Fields {
		if meta.IsPrimaryKey(f.Name) && !meta.IsJunction() {
			continue
		}
		v := rec.Fields[f.Name]
		if v == nil {
			continue
		}
		s := fmt.Sprint(v)
		if len(s) > 24 {
			s = s[:21] + "..."
		}
		parts = append(parts, f.Name+"="+s)
		if len(parts) == cap(parts) {
			break
		}
	}
	return mutedStyle.Render(strings.Join(parts, " "))
}

// View renders the UI
func (m BrowseModel) View() string {
	switch m.mode {
	case ModeKinds:
		help := helpStyle.Render(
			FormatKey("↑/↓", "navigate") + " • " +
				FormatKey("enter", "open") + " • " +
				FormatKey("q", "quit"),
		)
		return lipgloss.JoinVertical(lipgloss.Left, m.kinds.View(), m.logs.View(), help)

	case ModeRecords:
		help := helpStyle.Render(
			FormatKey("enter", "details") + " • " +
				FormatKey("d", "delete") + " • " +
				FormatKey("/", "filter") + " • " +
				FormatKey("r", "reload") + " • " +
				FormatKey("esc", "back"),
		)
		return lipgloss.JoinVertical(lipgloss.Left, m.records.View(), m.logs.View(), help)

	case ModeDetail:
		return lipgloss.JoinVertical(lipgloss.Left, m.detailView(), m.logs.View(),
			helpStyle.Render(FormatKey("d", "delete")+" • "+FormatKey("esc", "back")))

	case ModeConfirm:
		return lipgloss.Place(
			m.width,
			m.height,
			lipgloss.Center,
			lipgloss.Center,
			m.confirmation.View(),
		)
	}

	return "Unknown mode"
}

func (m BrowseModel) detailView() string {
	var b strings.Builder
	rec := m.selected
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s %s", rec.Kind, rec.Key)))
	b.WriteString("\n")
	b.WriteString(subtitleStyle.Render(fmt.Sprintf("version %d • seq %d", rec.Version, rec.Seq)))
	b.WriteString("\n\n")

	if meta, err := m.engine.Registry().Entity(rec.Kind); err == nil {
		for _, f := range meta.Fields {
			b.WriteString(FormatField(f.Name, rec.Fields[f.Name]))
			b.WriteString("\n")
		}
	}

	if m.related == nil {
		b.WriteString("\n")
		b.WriteString(FormatStatus("loading"))
		b.WriteString("\n")
	} else if len(m.related) > 0 {
		b.WriteString("\n")
		b.WriteString(infoStyle.Render("Related"))
		b.WriteString("\n")
		for _, r := range m.related {
			b.WriteString(FormatField(r.name, fmt.Sprintf("%d %s", r.count, r.target)))
			b.WriteString("\n")
		}
	}

	return activeBoxStyle.Render(b.String())
}

// RunBrowseUI starts the interactive browser
func RunBrowseUI(e *integrity.Engine) error {
	p := tea.NewProgram(NewBrowseModel(e))
	_, err := p.Run()
	return err
}
