package onboard

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	securePromptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	secureHintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	validKeyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("76"))
)

// apiKeyInput is password-style masked input for an account's API key.
type apiKeyInput struct {
	textInput textinput.Model
	prompt    string
	value     string
	submitted bool
	canceled  bool
}

func newAPIKeyInput(prompt string) *apiKeyInput {
	ti := textinput.New()
	ti.Placeholder = "sk-..."
	ti.EchoMode = textinput.EchoPassword
	ti.EchoCharacter = '•'
	ti.Focus()
	ti.CharLimit = 400
	ti.Width = 50
	return &apiKeyInput{textInput: ti, prompt: prompt}
}

func (a *apiKeyInput) Init() tea.Cmd { return textinput.Blink }

func (a *apiKeyInput) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "ctrl+c", "esc":
			a.canceled = true
			return a, tea.Quit
		case "enter":
			a.value = a.textInput.Value()
			a.submitted = true
			return a, tea.Quit
		}
	}
	var cmd tea.Cmd
	a.textInput, cmd = a.textInput.Update(msg)
	return a, cmd
}

func (a *apiKeyInput) View() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(securePromptStyle.Render(a.prompt))
	b.WriteString("\n\n  ")
	b.WriteString(a.textInput.View())
	b.WriteString("\n\n")
	if len(a.textInput.Value()) >= 10 {
		b.WriteString(validKeyStyle.Render("  looks long enough to be a real key"))
	} else {
		b.WriteString(secureHintStyle.Render("  paste or type the key, then press Enter"))
	}
	b.WriteString("\n\n")
	b.WriteString(secureHintStyle.Render("  Enter to confirm · Esc to cancel"))
	return b.String()
}

// PromptAPIKey runs the masked key-entry screen and returns the typed
// value. Returns ErrCanceled if the user backs out.
func PromptAPIKey(prompt string) (string, error) {
	input := newAPIKeyInput(prompt)
	p := tea.NewProgram(input)
	m, err := p.Run()
	if err != nil {
		return "", fmt.Errorf("onboard: running api key prompt: %w", err)
	}
	result := m.(*apiKeyInput)
	if result.canceled || !result.submitted || result.value == "" {
		return "", ErrCanceled
	}
	return result.value, nil
}

// MaskAPIKeyForDisplay masks an API key for status output, keeping the
// prefix and last 4 characters as a recognition aid.
func MaskAPIKeyForDisplay(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("•", len(key))
	}
	return key[:4] + strings.Repeat("•", len(key)-8) + key[len(key)-4:]
}
