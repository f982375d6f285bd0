package providerkind

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	awssigner "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
)

// BedrockAccount carries the account-level settings a Bedrock request needs
// beyond the shared chat-completions body: the AWS region the model is
// hosted in and, for the Converse-compatible invoke path, the model id
// Bedrock expects (distinct from the provider-neutral model alias a chain
// resolves to).
type BedrockAccount struct {
	Region  string
	ModelID string
}

// SignBedrockInvoke builds the InvokeModelWithResponseStream (or
// InvokeModel, when stream is false) request for body against account and
// signs it with AWS SigV4 using credentials resolved the standard SDK way
// (environment, shared config, container/instance role). Unlike the other
// provider kinds, Bedrock is never reached through a user-supplied bearer
// token: the proxy signs each request itself before forwarding the bytes
// unsigned-body-unchanged upstream.
func SignBedrockInvoke(ctx context.Context, account BedrockAccount, body []byte, stream bool) (*http.Request, error) {
	if account.Region == "" {
		return nil, fmt.Errorf("providerkind: amazon-bedrock account is missing a region")
	}
	if account.ModelID == "" {
		return nil, fmt.Errorf("providerkind: amazon-bedrock account is missing a model id")
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(account.Region))
	if err != nil {
		return nil, fmt.Errorf("providerkind: loading AWS config: %w", err)
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("providerkind: resolving AWS credentials: %w", err)
	}

	op := "invoke"
	if stream {
		op = "invoke-with-response-stream"
	}
	url := fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/model/%s/%s",
		account.Region, account.ModelID, op)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "application/vnd.amazon.eventstream")
	}

	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])

	signer := awssigner.NewSigner()
	if err := signer.SignHTTP(ctx, creds, req, payloadHash, "bedrock", account.Region, time.Now()); err != nil {
		return nil, fmt.Errorf("providerkind: signing bedrock request: %w", err)
	}
	req.ContentLength = int64(len(body))
	return req, nil
}
