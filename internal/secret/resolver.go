// Package secret resolves credentials (OAuth client secret, webhook signing
// secret, JWT key) from SSM Parameter Store or, in dev mode, the environment.
package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SSMClient is the subset of *ssm.Client methods used by SSMResolver.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type Resolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SSMResolver fetches SecureString parameters and caches them for the
// lifetime of the process (a Lambda container or the local server).
type SSMResolver struct {
	client SSMClient

	mu    sync.Mutex
	cache map[string]string
}

func NewSSMResolver(client SSMClient) *SSMResolver {
	return &SSMResolver{client: client, cache: make(map[string]string)}
}

func (r *SSMResolver) GetSecret(ctx context.Context, name string) (string, error) {
	r.mu.Lock()
	if v, ok := r.cache[name]; ok {
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm get parameter %q: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("ssm parameter %q has no value", name)
	}

	r.mu.Lock()
	r.cache[name] = *out.Parameter.Value
	r.mu.Unlock()
	return *out.Parameter.Value, nil
}

// EnvResolver reads secrets from environment variables named after the last
// segment of the parameter path ("/mappa/webhook-secret" -> "WEBHOOK_SECRET").
type EnvResolver struct {
	lookup func(string) (string, bool)
}

func NewEnvResolver() *EnvResolver {
	return &EnvResolver{lookup: os.LookupEnv}
}

func (r *EnvResolver) GetSecret(_ context.Context, name string) (string, error) {
	envName := paramNameToEnvVar(name)
	val, _ := r.lookup(envName)
	if val == "" {
		return "", fmt.Errorf("environment variable %q (from param %q) is not set", envName, name)
	}
	return val, nil
}

// ResolveAll fills every target from its parameter name. Missing secrets
// are collected and returned together.
func ResolveAll(ctx context.Context, r Resolver, targets map[string]*string) error {
	var errs []error
	for name, dst := range targets {
		if name == "" {
			continue
		}
		v, err := r.GetSecret(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*dst = v
	}
	return errors.Join(errs...)
}

func paramNameToEnvVar(name string) string {
	parts := strings.Split(name, "/")
	last := parts[len(parts)-1]
	return strings.ToUpper(strings.ReplaceAll(last, "-", "_"))
}
