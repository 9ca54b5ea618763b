package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Secrets are read from SSM Parameter Store when a /path-style name is
// configured, otherwise the env var value is used directly. Resolved values
// are cached for the lifetime of the Lambda container.

var (
	mu    sync.Mutex
	cache = map[string]string{}
)

type ssmAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

var newSSMClient = func(ctx context.Context) (ssmAPI, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return ssm.NewFromConfig(cfg), nil
}

// Get resolves the secret configured under envKey. A value starting with "/"
// is treated as an SSM parameter name (decrypted); anything else is returned
// verbatim so local runs can inject plain env values.
func Get(ctx context.Context, envKey string) (string, error) {
	raw := strings.TrimSpace(os.Getenv(envKey))
	if raw == "" {
		return "", fmt.Errorf("%s not set", envKey)
	}
	if !strings.HasPrefix(raw, "/") {
		return raw, nil
	}

	mu.Lock()
	if v, ok := cache[raw]; ok {
		mu.Unlock()
		return v, nil
	}
	mu.Unlock()

	client, err := newSSMClient(ctx)
	if err != nil {
		return "", err
	}

	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(raw),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm get %s: %w", raw, err)
	}

	v := aws.ToString(out.Parameter.Value)
	mu.Lock()
	cache[raw] = v
	mu.Unlock()
	return v, nil
}

// TokenEncryptionKeyName is the env key holding either the base64 key itself
// or the SSM parameter that stores it.
const TokenEncryptionKeyName = "TOKEN_ENC_KEY_B64"
