package remote

import "time"

// Wire types of the creator-platform API. Money is in integer minor units.

type Fan struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
}

type Media struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type Sender struct {
	ID string `json:"id"`
}

type Message struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	FromUser   Sender    `json:"fromUser"`
	Media      []Media   `json:"media,omitempty"`
	PriceCents int64     `json:"price"`
	IsFree     bool      `json:"isFree"`
	IsOpened   bool      `json:"isOpened"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Chat struct {
	Fan                 Fan      `json:"fan"`
	LastMessage         *Message `json:"lastMessage,omitempty"`
	UnreadMessagesCount int      `json:"unreadMessagesCount"`
}

// SendRequest is the body of an outbound message.
type SendRequest struct {
	Text       string   `json:"text"`
	PriceCents int64    `json:"price,omitempty"`
	MediaIDs   []string `json:"mediaIds,omitempty"`
}

type Transaction struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"` // subscription, tip, message, post
	AmountCents int64     `json:"amount"`
	FeeCents    int64     `json:"fee"`
	NetCents    int64     `json:"net"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"createdAt"`
}

type SubscriberEvent struct {
	FanID     string    `json:"fanId"`
	Type      string    `json:"type"` // new, renew, expire
	CreatedAt time.Time `json:"createdAt"`
}
