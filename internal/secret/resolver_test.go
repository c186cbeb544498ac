package secret

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSSMClient struct {
	params map[string]string
	calls  int
}

func (f *fakeSSMClient) GetParameter(_ context.Context, input *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	val, ok := f.params[*input.Name]
	if !ok {
		return nil, fmt.Errorf("parameter not found: %s", *input.Name)
	}
	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{Name: input.Name, Value: aws.String(val)},
	}, nil
}

func envResolver(vars map[string]string) *EnvResolver {
	return &EnvResolver{lookup: func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}}
}

func TestSSMResolver_CachesValue(t *testing.T) {
	client := &fakeSSMClient{params: map[string]string{"/mappa/webhook-secret": "whsec"}}
	r := NewSSMResolver(client)

	for i := 0; i < 3; i++ {
		v, err := r.GetSecret(context.Background(), "/mappa/webhook-secret")
		require.NoError(t, err)
		assert.Equal(t, "whsec", v)
	}
	assert.Equal(t, 1, client.calls)
}

func TestSSMResolver_NotFound(t *testing.T) {
	r := NewSSMResolver(&fakeSSMClient{params: map[string]string{}})
	_, err := r.GetSecret(context.Background(), "/mappa/nonexistent")
	assert.Error(t, err)
}

func TestEnvResolver(t *testing.T) {
	r := envResolver(map[string]string{"JWT_SECRET": "env-secret-value"})

	v, err := r.GetSecret(context.Background(), "/mappa/jwt-secret")
	require.NoError(t, err)
	assert.Equal(t, "env-secret-value", v)

	_, err = r.GetSecret(context.Background(), "/mappa/platform-client-secret")
	assert.ErrorContains(t, err, "PLATFORM_CLIENT_SECRET")
}

func TestResolveAll(t *testing.T) {
	r := envResolver(map[string]string{"JWT_SECRET": "j", "WEBHOOK_SECRET": "w"})
	var jwtSecret, webhookSecret, clientSecret string

	err := ResolveAll(context.Background(), r, map[string]*string{
		"/mappa/jwt-secret":             &jwtSecret,
		"/mappa/webhook-secret":         &webhookSecret,
		"/mappa/platform-client-secret": &clientSecret,
		"":                              new(string),
	})

	assert.ErrorContains(t, err, "PLATFORM_CLIENT_SECRET")
	assert.Equal(t, "j", jwtSecret)
	assert.Equal(t, "w", webhookSecret)
	assert.Empty(t, clientSecret)
}

func TestParamNameToEnvVar(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/mappa/jwt-secret", "JWT_SECRET"},
		{"/mappa/platform-client-secret", "PLATFORM_CLIENT_SECRET"},
		{"/mappa/api-gateway-secret", "API_GATEWAY_SECRET"},
		{"plain", "PLAIN"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, paramNameToEnvVar(tc.input), tc.input)
	}
}
