package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// OnlineKey is the ephemeral set holding the names of connected users.
	OnlineKey = "online"
	// MessagesKey is the ephemeral list holding the bounded chat history.
	MessagesKey = "messages"

	// AccessCookie carries the access token at upgrade time.
	AccessCookie = "accessToken"
	// RefreshCookie carries the refresh token for the account endpoints.
	RefreshCookie = "refreshToken"
)

// ErrMalformedFrame is returned for inbound frames that are not valid JSON objects.
var ErrMalformedFrame = errors.New("malformed frame")

// MessageRecord is one entry of the chat history. Date is Unix milliseconds.
type MessageRecord struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Date    int64  `json:"date"`
}

// InboundFrame is the only frame clients send.
type InboundFrame struct {
	Token       string `json:"token"`
	ChatMessage string `json:"chatMessage,omitempty"`
}

type snapshotFrame struct {
	Online   []string        `json:"online"`
	Messages []MessageRecord `json:"messages"`
}

type onlineFrame struct {
	Online []string `json:"online"`
}

type messagesFrame struct {
	Messages []MessageRecord `json:"messages"`
}

type errorsFrame struct {
	Errors []string `json:"errors"`
}

func parseInbound(raw []byte) (InboundFrame, error) {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return InboundFrame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return frame, nil
}

func encodeFrame(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// only plain structs of strings and ints are encoded here
		panic(fmt.Sprintf("encode frame: %v", err))
	}
	return b
}

func errorFrame(err error) []byte {
	return encodeFrame(errorsFrame{Errors: []string{err.Error()}})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
