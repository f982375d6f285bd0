package providerkind

import (
	"fmt"
	"net/http"
)

// RequestTarget is the endpoint URL and headers needed to send an
// OpenAI-compatible chat-completions request to one resolved account.
type RequestTarget struct {
	URL     string
	Headers http.Header
}

// BuildRequestTarget constructs the upstream URL and headers for kind, given
// the account's resolved secret and base URL override (empty uses the
// kind's default). azureDeployment and azureAPIVersion are only consulted
// for Kind Azure.
func BuildRequestTarget(kind Kind, secret, baseURLOverride, azureDeployment, azureAPIVersion string) (RequestTarget, error) {
	switch kind {
	case Anthropic:
		return anthropicTarget(secret, baseURLOverride), nil
	case Azure:
		return azureTarget(secret, baseURLOverride, azureDeployment, azureAPIVersion)
	case AmazonBedrock:
		return RequestTarget{}, fmt.Errorf("providerkind: amazon-bedrock is signed per-request, not via BuildRequestTarget")
	default:
		return genericBearerTarget(kind, secret, baseURLOverride)
	}
}

// genericBearerTarget covers every OpenAI-compatible kind that authenticates
// with a plain "Authorization: Bearer <key>" header — openai, google,
// mistral, groq, xai, deepinfra, cerebras, cohere, together, perplexity,
// openrouter, github-copilot, z.ai, custom.
func genericBearerTarget(kind Kind, secret, baseURLOverride string) (RequestTarget, error) {
	info, ok := Lookup(string(kind))
	if !ok {
		return RequestTarget{}, fmt.Errorf("providerkind: unknown kind %q", kind)
	}
	base := baseURLOverride
	if base == "" {
		base = info.DefaultBaseURL
	}
	if base == "" {
		return RequestTarget{}, fmt.Errorf("providerkind: %s has no default base URL; an account override is required", kind)
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+secret)
	h.Set("Content-Type", "application/json")
	if kind == OpenRouter {
		h.Set("HTTP-Referer", "https://github.com/missionrelay/missionrelay")
		h.Set("X-Title", "missionrelay")
	}
	return RequestTarget{URL: base + "/chat/completions", Headers: h}, nil
}

func anthropicTarget(secret, baseURLOverride string) RequestTarget {
	base := baseURLOverride
	if base == "" {
		base = registry[Anthropic].DefaultBaseURL
	}
	h := http.Header{}
	h.Set("x-api-key", secret)
	h.Set("Content-Type", "application/json")
	h.Set("anthropic-version", "2023-06-01")
	return RequestTarget{URL: base + "/v1/messages", Headers: h}
}

func azureTarget(secret, baseURLOverride, deployment, apiVersion string) (RequestTarget, error) {
	if baseURLOverride == "" {
		return RequestTarget{}, fmt.Errorf("providerkind: azure requires an account base_url (resource endpoint)")
	}
	if deployment == "" {
		return RequestTarget{}, fmt.Errorf("providerkind: azure requires a deployment name")
	}
	if apiVersion == "" {
		apiVersion = "2024-02-15-preview"
	}
	h := http.Header{}
	h.Set("api-key", secret)
	h.Set("Content-Type", "application/json")
	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", baseURLOverride, deployment, apiVersion)
	return RequestTarget{URL: url, Headers: h}, nil
}
