package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// HandleRequest routes API Gateway requests to the appropriate handler.
func (a *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	method := req.HTTPMethod
	// Strip /api prefix if present (for CloudFront proxying)
	path := strings.TrimPrefix(req.Path, "/api")

	a.Logger.Debug("request", "method", method, "path", path)

	// CORS Preflight
	if method == http.MethodOptions {
		return a.corsResponse(events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}), nil
	}

	if path == "/health" && method == http.MethodGet {
		return a.corsResponse(events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Body: `{"status":"ok"}`}), nil
	}

	// Webhooks carry their own signature and come straight from the platform.
	if path == "/webhooks/platform" && method == http.MethodPost {
		return a.must(a.webhookHandler.Receive(ctx, req)), nil
	}

	// Security: Verify Request Origin (CloudFront only)
	if !a.Config.DevMode && !a.originVerified(req) {
		a.Logger.Warn("blocked request without origin header", "method", method, "path", path)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusForbidden,
			Body:       "Forbidden: Access denied",
		}, nil
	}

	if req.PathParameters == nil {
		req.PathParameters = make(map[string]string)
	}

	if path == "/oauth/callback" && method == http.MethodGet {
		return a.corsResponse(a.must(a.accountHandler.Callback(ctx, req))), nil
	}

	// /accounts/{accountId}/...
	if rest, ok := strings.CutPrefix(path, "/accounts/"); ok {
		parts := strings.Split(strings.Trim(rest, "/"), "/")
		if parts[0] != "" {
			req.PathParameters["accountId"] = parts[0]
			if resp, ok := a.routeAccount(ctx, method, parts[1:], req); ok {
				return a.corsResponse(resp), nil
			}
		}
	}

	return a.corsResponse(events.APIGatewayProxyResponse{
		StatusCode: http.StatusNotFound,
		Body:       fmt.Sprintf("Not Found: %s %s", method, path),
	}), nil
}

func (a *App) routeAccount(ctx context.Context, method string, parts []string, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, bool) {
	route := method + " " + strings.Join(parts, "/")

	switch {
	case route == "GET ":
		return a.must(a.accountHandler.Status(ctx, req)), true
	case route == "GET connect":
		return a.must(a.accountHandler.Connect(ctx, req)), true
	case route == "POST disconnect":
		return a.must(a.accountHandler.Disconnect(ctx, req)), true
	case route == "POST sync":
		return a.must(a.syncHandler.Trigger(ctx, req)), true
	case route == "GET sync":
		return a.must(a.syncHandler.Status(ctx, req)), true
	case route == "GET earnings":
		return a.must(a.earningsHandler.Summary(ctx, req)), true
	case route == "GET conversations":
		return a.must(a.inboxHandler.Conversations(ctx, req)), true
	}

	// fans/{fanId}/messages, fans/{fanId}/read
	if len(parts) == 3 && parts[0] == "fans" {
		req.PathParameters["fanId"] = parts[1]
		switch method + " " + parts[2] {
		case "GET messages":
			return a.must(a.inboxHandler.Thread(ctx, req)), true
		case "POST read":
			return a.must(a.inboxHandler.MarkRead(ctx, req)), true
		case "POST messages":
			if a.outboxHandler != nil {
				return a.must(a.outboxHandler.Send(ctx, req)), true
			}
		}
		return events.APIGatewayProxyResponse{}, false
	}

	// outbox, outbox/{tempId}, outbox/{tempId}/{action}
	if len(parts) >= 1 && parts[0] == "outbox" && a.outboxHandler != nil {
		if len(parts) == 1 && method == http.MethodGet {
			return a.must(a.outboxHandler.List(ctx, req)), true
		}
		if len(parts) >= 2 {
			req.PathParameters["tempId"] = parts[1]
		}
		switch {
		case len(parts) == 2 && method == http.MethodDelete:
			return a.must(a.outboxHandler.Discard(ctx, req)), true
		case len(parts) == 3 && method == http.MethodPost && parts[2] == "retry":
			return a.must(a.outboxHandler.Retry(ctx, req)), true
		case len(parts) == 3 && method == http.MethodPost && parts[2] == "ack":
			return a.must(a.outboxHandler.Acknowledge(ctx, req)), true
		}
	}

	return events.APIGatewayProxyResponse{}, false
}

func (a *App) originVerified(req events.APIGatewayProxyRequest) bool {
	if a.apiGatewaySecret == "" {
		return false
	}
	for k, v := range req.Headers {
		if strings.EqualFold(k, "X-Origin-Verify") && v == a.apiGatewaySecret {
			return true
		}
	}
	return false
}

// corsResponse adds CORS headers to an API Gateway response.
func (a *App) corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = a.Config.FrontendURL
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,DELETE,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}

// must unwraps a handler response, logging the error.
func (a *App) must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		a.Logger.Error("handler error", "error", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
	}
	return resp
}
