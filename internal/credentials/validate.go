package credentials

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaisdk "github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
)

// Validate performs a cheap liveness probe against provider using secret,
// confirming the credential actually authenticates before it is persisted.
// Kinds without a dedicated SDK probe (everything but anthropic/openai)
// report ok=true unconditionally — those accounts are validated the first
// time a real request is routed to them instead.
func Validate(ctx context.Context, provider, secret string) (bool, error) {
	switch provider {
	case "anthropic":
		return validateAnthropic(ctx, secret)
	case "openai":
		return validateOpenAI(ctx, secret)
	default:
		return true, nil
	}
}

func validateAnthropic(ctx context.Context, apiKey string) (bool, error) {
	client := anthropicsdk.NewClient(anthropicoption.WithAPIKey(apiKey))
	_, err := client.Models.List(ctx, anthropicsdk.ModelListParams{})
	if err != nil {
		return false, fmt.Errorf("credentials: anthropic liveness probe failed: %w", err)
	}
	return true, nil
}

func validateOpenAI(ctx context.Context, apiKey string) (bool, error) {
	client := openaisdk.NewClient(openaioption.WithAPIKey(apiKey))
	_, err := client.Models.List(ctx)
	if err != nil {
		return false, fmt.Errorf("credentials: openai liveness probe failed: %w", err)
	}
	return true, nil
}
