// Package providerkind is the static lookup table of known LLM provider
// kinds: display name, stable id, aliases, the environment variable that
// holds an API key, whether the kind authenticates via OAuth, its default
// OpenAI-compatible chat-completions base URL (when it has one), and the
// authentication methods a user can pick during onboarding.
package providerkind

import "strings"

// Kind is a closed enumeration of known provider kinds, plus a "custom"
// escape hatch for anything not in the table.
type Kind string

const (
	Anthropic     Kind = "anthropic"
	OpenAI        Kind = "openai"
	Google        Kind = "google"
	Mistral       Kind = "mistral"
	Groq          Kind = "groq"
	XAI           Kind = "xai"
	DeepInfra     Kind = "deepinfra"
	Cerebras      Kind = "cerebras"
	Cohere        Kind = "cohere"
	Together      Kind = "together"
	Perplexity    Kind = "perplexity"
	OpenRouter    Kind = "openrouter"
	AmazonBedrock Kind = "amazon-bedrock"
	Azure         Kind = "azure"
	GithubCopilot Kind = "github-copilot"
	ZAI           Kind = "z.ai"
	Custom        Kind = "custom"
)

// AuthMethod is one way a user can authenticate against a provider kind.
type AuthMethod struct {
	ID          string
	Label       string
	Description string
}

var (
	authAPIKey     = AuthMethod{ID: "api_key", Label: "API key", Description: "Paste a provider-issued API key"}
	authOAuthPKCE  = AuthMethod{ID: "oauth_pkce", Label: "Sign in with OAuth", Description: "Authorize in the browser; tokens are refreshed automatically"}
	authAWSSigV4   = AuthMethod{ID: "aws_sigv4", Label: "AWS credentials", Description: "Use AWS access keys or an instance role, signed with SigV4"}
	authAzureAPIKey = AuthMethod{ID: "api_key", Label: "Azure API key", Description: "Paste the deployment's API key"}
)

// Info is the full static record for one provider kind.
type Info struct {
	Kind    Kind
	Display string
	// Aliases are alternate ids that resolve to this kind, e.g. "codex" for OpenAI.
	Aliases []string
	// EnvVar is the conventional environment variable name for an API key.
	// Empty when the kind has no single conventional variable (e.g. Bedrock).
	EnvVar string
	// UsesOAuth is true when the kind supports an OAuth2 refresh-token flow.
	UsesOAuth bool
	// DefaultBaseURL is the kind's OpenAI-compatible chat-completions base
	// URL. Empty means the kind cannot participate in the failover proxy
	// without an explicit base_url override on the account.
	DefaultBaseURL string
	AuthMethods    []AuthMethod
}

var registry = map[Kind]Info{
	Anthropic: {
		Kind: Anthropic, Display: "Anthropic", EnvVar: "ANTHROPIC_API_KEY",
		UsesOAuth: true, DefaultBaseURL: "https://api.anthropic.com",
		AuthMethods: []AuthMethod{authOAuthPKCE, authAPIKey},
	},
	OpenAI: {
		Kind: OpenAI, Display: "OpenAI", Aliases: []string{"codex"}, EnvVar: "OPENAI_API_KEY",
		UsesOAuth: true, DefaultBaseURL: "https://api.openai.com/v1",
		AuthMethods: []AuthMethod{authOAuthPKCE, authAPIKey},
	},
	Google: {
		Kind: Google, Display: "Google", Aliases: []string{"gemini"}, EnvVar: "GOOGLE_API_KEY",
		UsesOAuth: true, DefaultBaseURL: "https://generativelanguage.googleapis.com/v1beta/openai",
		AuthMethods: []AuthMethod{authOAuthPKCE, authAPIKey},
	},
	Mistral: {
		Kind: Mistral, Display: "Mistral", EnvVar: "MISTRAL_API_KEY",
		DefaultBaseURL: "https://api.mistral.ai/v1", AuthMethods: []AuthMethod{authAPIKey},
	},
	Groq: {
		Kind: Groq, Display: "Groq", EnvVar: "GROQ_API_KEY",
		DefaultBaseURL: "https://api.groq.com/openai/v1", AuthMethods: []AuthMethod{authAPIKey},
	},
	XAI: {
		Kind: XAI, Display: "xAI", Aliases: []string{"grok"}, EnvVar: "XAI_API_KEY",
		DefaultBaseURL: "https://api.x.ai/v1", AuthMethods: []AuthMethod{authAPIKey},
	},
	DeepInfra: {
		Kind: DeepInfra, Display: "DeepInfra", EnvVar: "DEEPINFRA_API_KEY",
		DefaultBaseURL: "https://api.deepinfra.com/v1/openai", AuthMethods: []AuthMethod{authAPIKey},
	},
	Cerebras: {
		Kind: Cerebras, Display: "Cerebras", EnvVar: "CEREBRAS_API_KEY",
		DefaultBaseURL: "https://api.cerebras.ai/v1", AuthMethods: []AuthMethod{authAPIKey},
	},
	Cohere: {
		Kind: Cohere, Display: "Cohere", EnvVar: "CO_API_KEY",
		DefaultBaseURL: "https://api.cohere.ai/compatibility/v1", AuthMethods: []AuthMethod{authAPIKey},
	},
	Together: {
		Kind: Together, Display: "Together AI", EnvVar: "TOGETHER_API_KEY",
		DefaultBaseURL: "https://api.together.xyz/v1", AuthMethods: []AuthMethod{authAPIKey},
	},
	Perplexity: {
		Kind: Perplexity, Display: "Perplexity", EnvVar: "PERPLEXITY_API_KEY",
		DefaultBaseURL: "https://api.perplexity.ai", AuthMethods: []AuthMethod{authAPIKey},
	},
	OpenRouter: {
		Kind: OpenRouter, Display: "OpenRouter", EnvVar: "OPENROUTER_API_KEY",
		DefaultBaseURL: "https://openrouter.ai/api/v1", AuthMethods: []AuthMethod{authAPIKey},
	},
	AmazonBedrock: {
		Kind: AmazonBedrock, Display: "Amazon Bedrock", Aliases: []string{"bedrock"},
		DefaultBaseURL: "", AuthMethods: []AuthMethod{authAWSSigV4},
	},
	Azure: {
		Kind: Azure, Display: "Azure OpenAI", EnvVar: "AZURE_OPENAI_API_KEY",
		DefaultBaseURL: "", AuthMethods: []AuthMethod{authAzureAPIKey},
	},
	GithubCopilot: {
		Kind: GithubCopilot, Display: "GitHub Copilot", Aliases: []string{"copilot"},
		UsesOAuth: true, DefaultBaseURL: "https://api.githubcopilot.com",
		AuthMethods: []AuthMethod{authOAuthPKCE},
	},
	ZAI: {
		Kind: ZAI, Display: "Z.ai", Aliases: []string{"zhipu"}, EnvVar: "ZAI_API_KEY",
		DefaultBaseURL: "https://api.z.ai/api/paas/v4", AuthMethods: []AuthMethod{authAPIKey},
	},
	Custom: {
		Kind: Custom, Display: "Custom", EnvVar: "",
		DefaultBaseURL: "", AuthMethods: []AuthMethod{authAPIKey},
	},
}

// aliasIndex maps every lowercase id/alias to the owning Kind, built once.
var aliasIndex = buildAliasIndex()

func buildAliasIndex() map[string]Kind {
	idx := make(map[string]Kind, len(registry)*2)
	for k, info := range registry {
		idx[strings.ToLower(string(k))] = k
		for _, a := range info.Aliases {
			idx[strings.ToLower(a)] = k
		}
	}
	return idx
}

// Lookup resolves an id or alias (case-insensitive) to its Info.
func Lookup(idOrAlias string) (Info, bool) {
	k, ok := aliasIndex[strings.ToLower(idOrAlias)]
	if !ok {
		return Info{}, false
	}
	return registry[k], true
}

// MustLookup is Lookup but panics on an unknown kind; for call sites that
// already validated the kind (e.g. iterating All()).
func MustLookup(k Kind) Info {
	info, ok := registry[k]
	if !ok {
		panic("providerkind: unknown kind " + string(k))
	}
	return info
}

// All returns every known provider kind's Info in a stable order.
func All() []Info {
	order := []Kind{
		Anthropic, OpenAI, Google, Mistral, Groq, XAI, DeepInfra, Cerebras,
		Cohere, Together, Perplexity, OpenRouter, AmazonBedrock, Azure,
		GithubCopilot, ZAI, Custom,
	}
	out := make([]Info, 0, len(order))
	for _, k := range order {
		out = append(out, registry[k])
	}
	return out
}

// SupportsProxy reports whether a kind can be reached through the
// OpenAI-compatible failover proxy without a per-account base_url override.
func (i Info) SupportsProxy() bool {
	return i.DefaultBaseURL != ""
}
