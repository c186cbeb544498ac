package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/Mister-97/mappa-pro/internal/model"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// InboxReader reads the local conversation cache.
type InboxReader interface {
	ListConversations(ctx context.Context, accountID string, limit int) ([]model.Conversation, error)
	ListMessages(ctx context.Context, accountID, fanID string, limit int) ([]model.Message, error)
	GetFan(ctx context.Context, accountID, fanID string) (*model.Fan, error)
}

type ReadMarker interface {
	MarkRead(ctx context.Context, accountID, fanID string) error
}

// InboxHandler serves cached conversations to the CRM.
type InboxHandler struct {
	inbox     InboxReader
	marker    ReadMarker
	jwtSecret string
}

func NewInboxHandler(inbox InboxReader, marker ReadMarker, jwtSecret string) *InboxHandler {
	return &InboxHandler{inbox: inbox, marker: marker, jwtSecret: jwtSecret}
}

func limitParam(req events.APIGatewayProxyRequest) int {
	n, err := strconv.Atoi(req.QueryStringParameters["limit"])
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return min(n, maxListLimit)
}

// Conversations lists the inbox, most recent first.
func (h *InboxHandler) Conversations(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	accountID, resp, ok := authorize(req, h.jwtSecret)
	if !ok {
		return resp, nil
	}
	convs, err := h.inbox.ListConversations(ctx, accountID, limitParam(req))
	if err != nil {
		return failure(err), nil
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	return jsonResponse(http.StatusOK, convs), nil
}

type thread struct {
	Fan      *model.Fan      `json:"fan"`
	Messages []model.Message `json:"messages"`
}

// Thread returns a fan's profile and recent messages, oldest first.
func (h *InboxHandler) Thread(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	accountID, resp, ok := authorize(req, h.jwtSecret)
	if !ok {
		return resp, nil
	}
	fanID := req.PathParameters["fanId"]

	fan, err := h.inbox.GetFan(ctx, accountID, fanID)
	if err != nil {
		return failure(err), nil
	}
	msgs, err := h.inbox.ListMessages(ctx, accountID, fanID, limitParam(req))
	if err != nil {
		return failure(err), nil
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return jsonResponse(http.StatusOK, thread{Fan: fan, Messages: msgs}), nil
}

// MarkRead clears the unread badge of a conversation.
func (h *InboxHandler) MarkRead(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	accountID, resp, ok := authorize(req, h.jwtSecret)
	if !ok {
		return resp, nil
	}
	if err := h.marker.MarkRead(ctx, accountID, req.PathParameters["fanId"]); err != nil {
		return failure(err), nil
	}
	return jsonResponse(http.StatusOK, map[string]bool{"success": true}), nil
}
