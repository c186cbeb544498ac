package handler_test

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mister-97/mappa-pro/internal/handler"
	"github.com/Mister-97/mappa-pro/internal/webhook"
)

type fakeProcessor struct {
	mu   sync.Mutex
	envs []*webhook.Envelope
	err  error
}

func (f *fakeProcessor) Process(_ context.Context, env *webhook.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envs = append(f.envs, env)
	return f.err
}

func (f *fakeProcessor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.envs)
}

const webhookBody = `{"type":"chat.read","accountId":"acct-1","data":{"fanId":"fan-1"}}`

func signedRequest(body string, at time.Time) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: "POST",
		Path:       "/webhooks/platform",
		Body:       body,
		Headers: map[string]string{
			"x-platform-signature": webhook.Sign("hook-secret", at, []byte(body)),
		},
	}
}

func TestWebhookHandler_Receive(t *testing.T) {
	proc := &fakeProcessor{}
	h := handler.NewWebhookHandler(proc, "hook-secret", 0, false, discard)

	resp, err := h.Receive(context.Background(), signedRequest(webhookBody, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, proc.count())
	assert.Equal(t, "chat.read", proc.envs[0].Type)
	assert.Equal(t, "acct-1", proc.envs[0].AccountID)
}

func TestWebhookHandler_Base64Body(t *testing.T) {
	proc := &fakeProcessor{}
	h := handler.NewWebhookHandler(proc, "hook-secret", 0, false, discard)

	req := signedRequest(webhookBody, time.Now())
	req.Body = base64.StdEncoding.EncodeToString([]byte(webhookBody))
	req.IsBase64Encoded = true

	resp, err := h.Receive(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, proc.count())
}

func TestWebhookHandler_RejectsBadSignature(t *testing.T) {
	proc := &fakeProcessor{}
	h := handler.NewWebhookHandler(proc, "hook-secret", 0, false, discard)

	stale := signedRequest(webhookBody, time.Now().Add(-10*time.Minute))
	resp, _ := h.Receive(context.Background(), stale)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	tampered := signedRequest(webhookBody, time.Now())
	tampered.Body = `{"type":"chat.read","accountId":"acct-2","data":{"fanId":"fan-1"}}`
	resp, _ = h.Receive(context.Background(), tampered)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Equal(t, 0, proc.count())
}

func TestWebhookHandler_AcknowledgesProcessingFailure(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("db down")}
	h := handler.NewWebhookHandler(proc, "hook-secret", 0, false, discard)

	resp, err := h.Receive(context.Background(), signedRequest(webhookBody, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.Receive(context.Background(), signedRequest(`not json`, time.Now()))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, proc.count())
}

func TestWebhookHandler_Async(t *testing.T) {
	proc := &fakeProcessor{}
	h := handler.NewWebhookHandler(proc, "hook-secret", 0, true, discard)

	resp, err := h.Receive(context.Background(), signedRequest(webhookBody, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Eventually(t, func() bool { return proc.count() == 1 }, time.Second, 5*time.Millisecond)
}
