package onboard

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/missionrelay/missionrelay/internal/credentials"
	"github.com/missionrelay/missionrelay/internal/providerkind"
)

// Wizard drives the first-run (or add-another-account) interactive setup:
// pick a provider, authenticate, and land a new credentials.Account in the
// store. Plain prompts (base URL, region, model) stay on a bufio.Reader
// like the teacher's wizard; provider and API key entry use the Bubble Tea
// screens in this package.
type Wizard struct {
	reader *bufio.Reader
	writer io.Writer
}

// NewWizard builds a Wizard reading from stdin and writing to stdout.
func NewWizard() *Wizard {
	return &Wizard{reader: bufio.NewReader(os.Stdin), writer: os.Stdout}
}

// Run executes the wizard end to end, creating one account in store.
func (w *Wizard) Run(store *credentials.AccountStore) (credentials.Account, error) {
	w.println("Let's connect a provider account.")
	w.println("")

	info, err := PickProvider()
	if err != nil {
		return credentials.Account{}, err
	}
	w.println(fmt.Sprintf("Selected: %s", info.Display))

	acct := credentials.Account{Kind: string(info.Kind), Enabled: true}

	switch info.Kind {
	case providerkind.AmazonBedrock:
		region, err := w.prompt("AWS region (e.g. us-east-1)")
		if err != nil {
			return credentials.Account{}, err
		}
		acct.Region = region

	case providerkind.Azure:
		endpoint, err := w.prompt("Azure OpenAI endpoint URL")
		if err != nil {
			return credentials.Account{}, err
		}
		acct.BaseURL = endpoint
		key, err := PromptAPIKey(fmt.Sprintf("Enter your %s API key", info.Display))
		if err != nil {
			return credentials.Account{}, err
		}
		acct.APIKey = key

	case providerkind.Custom:
		baseURL, err := w.prompt("Base URL (OpenAI-compatible /chat/completions endpoint)")
		if err != nil {
			return credentials.Account{}, err
		}
		acct.BaseURL = baseURL
		key, err := w.promptOptional("API key (leave blank if none required)")
		if err != nil {
			return credentials.Account{}, err
		}
		acct.APIKey = key

	default:
		if info.UsesOAuth {
			w.println("This provider supports signing in with OAuth. Run the separate")
			w.println("`account oauth` flow to authorize in a browser, or paste an API key now.")
		}
		key, err := PromptAPIKey(fmt.Sprintf("Enter your %s API key", info.Display))
		if err != nil {
			return credentials.Account{}, err
		}
		acct.APIKey = key
	}

	name, err := w.promptOptional(fmt.Sprintf("Name this account (default: %s)", info.Display))
	if err != nil {
		return credentials.Account{}, err
	}
	if name == "" {
		name = info.Display
	}
	acct.Name = name

	created, err := store.Create(acct)
	if err != nil {
		return credentials.Account{}, fmt.Errorf("onboard: saving account: %w", err)
	}
	w.println(fmt.Sprintf("Created account %q (%s)", created.Name, created.ID))
	return created, nil
}

func (w *Wizard) println(s string) {
	fmt.Fprintln(w.writer, s)
}

func (w *Wizard) prompt(label string) (string, error) {
	for {
		fmt.Fprintf(w.writer, "%s: ", label)
		line, err := w.reader.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("onboard: reading input: %w", err)
		}
		value := strings.TrimSpace(line)
		if value != "" {
			return value, nil
		}
		w.println("  (required)")
	}
}

func (w *Wizard) promptOptional(label string) (string, error) {
	fmt.Fprintf(w.writer, "%s: ", label)
	line, err := w.reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("onboard: reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
