// Package onboard implements the interactive account-onboarding wizard:
// pick a provider kind, authenticate, choose a model, and land a new
// credentials.Account in the account store — the Bubble Tea equivalent of
// the teacher's first-run setup wizard, retargeted from a single global
// config file onto C2's multi-account store.
package onboard

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"

	"github.com/missionrelay/missionrelay/internal/providerkind"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			MarginLeft(2)

	paginationStyle = lipgloss.NewStyle().PaddingLeft(4)
	helpStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).PaddingLeft(4)
	filterLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				PaddingLeft(2)
	filterInputStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	cursorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	countStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).PaddingLeft(2)
)

// providerItem adapts providerkind.Info to bubbles/list.Item.
type providerItem struct {
	info providerkind.Info
}

func (p providerItem) FilterValue() string { return string(p.info.Kind) + " " + p.info.Display }
func (p providerItem) Title() string       { return p.info.Display }
func (p providerItem) Description() string {
	var parts []string
	if p.info.SupportsProxy() {
		parts = append(parts, "failover-proxy capable")
	}
	if p.info.UsesOAuth {
		parts = append(parts, "supports OAuth sign-in")
	}
	for _, m := range p.info.AuthMethods {
		parts = append(parts, m.Label)
	}
	return strings.Join(parts, " · ")
}

// providerPicker is a fuzzy-filtered list over every known provider kind.
type providerPicker struct {
	list        list.Model
	filterInput textinput.Model
	providers   []providerkind.Info
	filtered    []providerkind.Info
	selected    *providerkind.Info
	canceled    bool
	width       int
	lastFilter  string
}

func newProviderPicker() *providerPicker {
	ti := textinput.New()
	ti.Placeholder = "Type to filter..."
	ti.Focus()
	ti.CharLimit = 50
	ti.Width = 40

	providers := providerkind.All()
	items := make([]list.Item, len(providers))
	for i, p := range providers {
		items[i] = providerItem{info: p}
	}

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetSpacing(0)

	l := list.New(items, delegate, 0, 0)
	l.SetShowTitle(false)
	l.SetFilteringEnabled(false)
	l.SetShowStatusBar(false)
	l.SetShowPagination(true)
	l.SetShowHelp(false)
	l.DisableQuitKeybindings()
	l.Styles.PaginationStyle = paginationStyle

	return &providerPicker{
		list:        l,
		filterInput: ti,
		providers:   providers,
		filtered:    providers,
		width:       80,
	}
}

func (p *providerPicker) Init() tea.Cmd { return nil }

func (p *providerPicker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.width = msg.Width
		p.list.SetSize(msg.Width, msg.Height-4)
		return p, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			p.canceled = true
			return p, tea.Quit
		case "enter":
			if item, ok := p.list.SelectedItem().(providerItem); ok {
				p.selected = &item.info
				return p, tea.Quit
			}
		case "esc":
			if p.filterInput.Value() != "" {
				p.filterInput.SetValue("")
				p.applyFilter("")
				return p, nil
			}
			p.canceled = true
			return p, tea.Quit
		}
	}

	var cmd tea.Cmd
	p.filterInput, cmd = p.filterInput.Update(msg)
	if current := p.filterInput.Value(); current != p.lastFilter {
		p.applyFilter(current)
		p.lastFilter = current
	}

	var listCmd tea.Cmd
	p.list, listCmd = p.list.Update(msg)
	return p, tea.Batch(cmd, listCmd)
}

func (p *providerPicker) applyFilter(filter string) {
	if filter == "" {
		items := make([]list.Item, len(p.providers))
		for i, prov := range p.providers {
			items[i] = providerItem{info: prov}
		}
		p.list.SetItems(items)
		p.filtered = p.providers
		return
	}

	sources := make([]string, len(p.providers))
	for i, prov := range p.providers {
		sources[i] = string(prov.Kind) + " " + prov.Display
	}
	matches := fuzzy.Find(filter, sources)
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })

	filtered := make([]providerkind.Info, 0, len(matches))
	for _, m := range matches {
		filtered = append(filtered, p.providers[m.Index])
	}
	items := make([]list.Item, len(filtered))
	for i, prov := range filtered {
		items[i] = providerItem{info: prov}
	}
	p.list.SetItems(items)
	p.filtered = filtered
}

func (p *providerPicker) View() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(titleStyle.Render("Select a provider"))
	b.WriteString("\n\n")

	filterText := p.filterInput.Value()
	b.WriteString(filterLabelStyle.Render("Filter: "))
	if filterText == "" {
		b.WriteString(cursorStyle.Render("▌"))
		b.WriteString(helpStyle.Render(" Type to filter..."))
	} else {
		b.WriteString(filterInputStyle.Render(filterText))
		b.WriteString(cursorStyle.Render("▌"))
	}
	b.WriteString("\n")
	b.WriteString(p.list.View())
	b.WriteString("\n")
	b.WriteString(countStyle.Render(fmt.Sprintf("Showing %d of %d providers", len(p.filtered), len(p.providers))))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ navigate · Enter select · Esc cancel"))
	return b.String()
}

// ErrCanceled is returned when the user exits a picker without selecting.
var ErrCanceled = fmt.Errorf("onboard: canceled")

// PickProvider runs the provider picker and returns the chosen kind.
func PickProvider() (providerkind.Info, error) {
	picker := newProviderPicker()
	p := tea.NewProgram(picker, tea.WithAltScreen())
	m, err := p.Run()
	if err != nil {
		return providerkind.Info{}, fmt.Errorf("onboard: running provider picker: %w", err)
	}
	result := m.(*providerPicker)
	if result.canceled || result.selected == nil {
		return providerkind.Info{}, ErrCanceled
	}
	return *result.selected, nil
}
