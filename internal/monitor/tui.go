package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ppiankov/cspwatch/internal/csp"
	"github.com/ppiankov/cspwatch/internal/rules"
)

var (
	critStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))  // dim gray

	headerStyle    = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	detailStyle    = lipgloss.NewStyle().Padding(0, 1)
	separatorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// maxDetailReasons caps the justifications shown in the detail panel.
const maxDetailReasons = 5

// entry is one (directive, source) row of the browser.
type entry struct {
	directive csp.Directive
	source    csp.Token
	emitted   bool
	reasons   []string
	severity  rules.Severity
	messages  []string
}

// Model is the BubbleTea model for the now TUI.
type Model struct {
	policy      *csp.Policy
	violations  []rules.Violation
	allEntries  []entry // full set in policy order
	entries     []entry // current view (may be filtered)
	table       table.Model
	width       int
	height      int
	quitting    bool
	searching   bool
	searchInput textinput.Model
}

// NewModel creates a TUI model from a finalized policy and its violations.
func NewModel(p *csp.Policy, violations []rules.Violation) *Model {
	entries := buildEntries(p, violations)

	cols := []table.Column{
		{Title: "DIRECTIVE", Width: 16},
		{Title: "SOURCE", Width: 40},
		{Title: "KIND", Width: 14},
		{Title: "EMIT", Width: 5},
		{Title: "WHY", Width: 4},
		{Title: "RULE", Width: 5},
	}

	rows := make([]table.Row, len(entries))
	for i := range entries {
		rows[i] = entryToRow(&entries[i])
	}

	s := table.DefaultStyles()
	s.Header = s.Header.Bold(true).BorderBottom(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240"))
	s.Selected = s.Selected.Bold(true).
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("57"))

	t := table.New(
		table.WithColumns(cols),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(10),
		table.WithStyles(s),
	)

	ti := textinput.New()
	ti.Placeholder = "type to filter..."
	ti.CharLimit = 64

	return &Model{
		policy:      p,
		violations:  violations,
		table:       t,
		allEntries:  entries,
		entries:     entries,
		width:       80,
		height:      24,
		searchInput: ti,
	}
}

// Init satisfies tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update handles key events.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.searching {
		return m.updateSearch(msg)
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "esc":
			if m.searchInput.Value() != "" {
				m.searchInput.SetValue("")
				m.applyFilter()
				return m, nil
			}
			m.quitting = true
			return m, tea.Quit
		case "/":
			m.searching = true
			return m, m.searchInput.Focus()
		case "g":
			m.table.GotoTop()
			return m, nil
		case "G":
			m.table.GotoBottom()
			return m, nil
		}
	case tea.WindowSizeMsg:
		m.resize(msg)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) updateSearch(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			m.searching = false
			m.searchInput.Blur()
			return m, nil
		case "esc":
			m.searching = false
			m.searchInput.SetValue("")
			m.searchInput.Blur()
			m.applyFilter()
			return m, nil
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.resize(msg)
	}

	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	m.applyFilter()
	return m, cmd
}

func (m *Model) resize(msg tea.WindowSizeMsg) {
	m.width = msg.Width
	m.height = msg.Height
	m.table.SetHeight(m.tableHeight())
	m.table.SetWidth(m.width)
}

// View renders the full TUI.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteByte('\n')
	b.WriteString(m.table.View())
	b.WriteByte('\n')
	b.WriteString(separatorStyle.Render(strings.Repeat("─", m.width)))
	b.WriteByte('\n')
	b.WriteString(m.detailView())
	b.WriteByte('\n')
	b.WriteString(m.footerView())
	return b.String()
}

func (m *Model) headerView() string {
	doc := m.policy.DocumentURL
	if doc == "" {
		doc = "(unknown document)"
	}
	title := headerStyle.Render(fmt.Sprintf("cspwatch · %s · %s",
		doc, m.policy.GeneratedAt.UTC().Format("2006-01-02 15:04 UTC")))

	var crit, warn int
	for i := range m.violations {
		switch m.violations[i].Severity {
		case rules.SeverityCritical:
			crit++
		case rules.SeverityWarn:
			warn++
		}
	}

	totalStr := fmt.Sprintf("Sources: %d", len(m.entries))
	if len(m.entries) != len(m.allEntries) {
		totalStr = fmt.Sprintf("Showing: %d/%d", len(m.entries), len(m.allEntries))
	}

	flags := []string{
		critStyle.Render(fmt.Sprintf("Critical: %d", crit)),
		warnStyle.Render(fmt.Sprintf("Warn: %d", warn)),
		fmt.Sprintf("Emitted: %d/%d", len(m.policy.Emitted()), len(m.policy.Directives)),
		totalStr,
	}
	if m.policy.Eval {
		flags = append(flags, critStyle.Render("eval"))
	}
	if m.policy.Baseline {
		flags = append(flags, dimStyle.Render("baseline"))
	}
	if m.policy.Partial {
		flags = append(flags, warnStyle.Render("partial"))
	}
	return title + "\n" + headerStyle.Render(strings.Join(flags, "  "))
}

func (m *Model) detailView() string {
	if len(m.entries) == 0 {
		if m.searchInput.Value() != "" {
			return detailStyle.Render(dimStyle.Render("No matches."))
		}
		return detailStyle.Render("No sources.")
	}

	idx := m.table.Cursor()
	if idx < 0 || idx >= len(m.entries) {
		return ""
	}

	e := &m.entries[idx]
	var lines []string
	if ex := csp.Explain(e.source); ex != "" {
		lines = append(lines, ex)
	}
	for _, msg := range e.messages {
		lines = append(lines, "Rule: "+severityStyle(e.severity).Render(msg))
	}
	for i, r := range e.reasons {
		if i == maxDetailReasons {
			lines = append(lines, dimStyle.Render(fmt.Sprintf("... %d more", len(e.reasons)-maxDetailReasons)))
			break
		}
		lines = append(lines, "- "+truncate(oneLine(r), maxInt(m.width-4, 20)))
	}

	if len(lines) == 0 {
		return detailStyle.Render(dimStyle.Render("(no details)"))
	}
	return detailStyle.Render(strings.Join(lines, "\n"))
}

func (m *Model) footerView() string {
	if m.searching {
		return " /" + m.searchInput.View()
	}
	help := " q quit · ↑↓/jk navigate · g/G top/bottom · / search"
	if m.searchInput.Value() != "" {
		help += " · esc clear"
	}
	return dimStyle.Render(help)
}

func (m *Model) tableHeight() int {
	// Reserve space for header, table chrome, separator, detail panel, and footer.
	reserved := 16
	h := m.height - reserved
	if h < 3 {
		h = 3
	}
	return h
}

func (m *Model) applyFilter() {
	query := strings.ToLower(m.searchInput.Value())
	if query == "" {
		m.entries = m.allEntries
	} else {
		var filtered []entry
		for i := range m.allEntries {
			e := &m.allEntries[i]
			hay := strings.ToLower(string(e.directive) + " " + string(e.source) + " " + strings.Join(e.reasons, " "))
			if strings.Contains(hay, query) {
				filtered = append(filtered, m.allEntries[i])
			}
		}
		m.entries = filtered
	}
	m.rebuildRows()
}

func (m *Model) rebuildRows() {
	rows := make([]table.Row, len(m.entries))
	for i := range m.entries {
		rows[i] = entryToRow(&m.entries[i])
	}
	m.table.SetRows(rows)
}

// buildEntries flattens the policy into one entry per source, plus one per
// directive holding inline-element justifications.
func buildEntries(p *csp.Policy, violations []rules.Violation) []entry {
	var out []entry
	for _, ds := range p.Directives {
		sources := append([]csp.Token(nil), ds.Sources...)
		if len(p.Justifications(ds.Directive, csp.Inline)) > 0 {
			sources = append(sources, csp.Inline)
		}
		for _, t := range sources {
			e := entry{
				directive: ds.Directive,
				source:    t,
				emitted:   ds.Emitted,
				reasons:   p.Justifications(ds.Directive, t),
			}
			for i := range violations {
				v := &violations[i]
				if v.Directive != ds.Directive || v.Source != t {
					continue
				}
				if e.severity == "" || v.Severity.Rank() > e.severity.Rank() {
					e.severity = v.Severity
				}
				e.messages = append(e.messages, v.Message)
			}
			out = append(out, e)
		}
	}
	return out
}

// PlainText returns a non-interactive text representation for piped output.
func PlainText(p *csp.Policy, violations []rules.Violation) string {
	entries := buildEntries(p, violations)

	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %-40s %-14s %-5s %-4s %s\n", "DIRECTIVE", "SOURCE", "KIND", "EMIT", "WHY", "RULE")
	fmt.Fprintf(&b, "%-16s %-40s %-14s %-5s %-4s %s\n", "---------", "------", "----", "----", "---", "----")
	for i := range entries {
		row := entryToRow(&entries[i])
		fmt.Fprintf(&b, "%-16s %-40s %-14s %-5s %-4s %s\n", row[0], row[1], row[2], row[3], row[4], row[5])
	}
	if len(violations) > 0 {
		b.WriteString("\nViolations:\n")
		for i := range violations {
			v := &violations[i]
			fmt.Fprintf(&b, "  [%s] %s: %s\n", strings.ToUpper(string(v.Severity)), v.Rule, v.Message)
		}
	}
	return b.String()
}

// entryToRow converts an entry to a table row with plain text (no ANSI).
// Embedding ANSI in cells causes the table to miscalculate column widths
// and truncate escape sequences, bleeding color into adjacent cells/rows.
func entryToRow(e *entry) table.Row {
	emit := "no"
	if e.emitted {
		emit = "yes"
	}
	var rule string
	switch e.severity {
	case rules.SeverityCritical:
		rule = "CRIT"
	case rules.SeverityWarn:
		rule = "WARN"
	case rules.SeverityInfo:
		rule = "INFO"
	}
	return table.Row{
		string(e.directive),
		truncate(string(e.source), 40),
		kindLabel(e.source.Kind()),
		emit,
		fmt.Sprint(len(e.reasons)),
		rule,
	}
}

func kindLabel(k csp.TokenKind) string {
	switch k {
	case csp.KindHash:
		return "hash"
	case csp.KindNonce:
		return "nonce"
	case csp.KindUnsafeInline:
		return "unsafe-inline"
	case csp.KindDataURI:
		return "data"
	case csp.KindInline:
		return "inline"
	default:
		return string(k)
	}
}

func severityStyle(s rules.Severity) lipgloss.Style {
	switch s {
	case rules.SeverityCritical:
		return critStyle
	case rules.SeverityWarn:
		return warnStyle
	default:
		return dimStyle
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
