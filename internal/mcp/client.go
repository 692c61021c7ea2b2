package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/interview-voice-lab/internal/logging"
	"github.com/interview-voice-lab/llm"
)

func newSessionID() string { return uuid.NewString() }

// DialWebSocket connects client to the MCP websocket endpoint at rawurl.
// http and https URLs are rewritten to ws and wss.
func DialWebSocket(ctx context.Context, client *sdk.Client, rawurl string) (*sdk.ClientSession, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("mcp: unsupported scheme %q", u.Scheme)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: dial %s: %w", u.Redacted(), err)
	}
	sess, err := client.Connect(ctx, NewWebSocketTransport(conn, ""), nil)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	logging.Debugw("mcp: client connected", "url", u.Redacted())
	return sess, nil
}

// OpeningQuestion asks the content server at rawurl for the first question
// of an interview on topic through its start_interview tool.
func OpeningQuestion(ctx context.Context, rawurl, topic string, level llm.ExpertiseLevel) (string, error) {
	client := sdk.NewClient(&sdk.Implementation{Name: "interview", Version: "v0.1.0"}, nil)
	cs, err := DialWebSocket(ctx, client, rawurl)
	if err != nil {
		return "", err
	}
	defer cs.Close()

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      "start_interview",
		Arguments: LessonArgs{Topic: topic, Level: string(level)},
	})
	if err != nil {
		return "", fmt.Errorf("mcp: start_interview: %w", err)
	}
	var text strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*sdk.TextContent); ok {
			text.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return "", errors.New(text.String())
	}
	q := strings.TrimSpace(text.String())
	if q == "" {
		return "", errors.New("mcp: start_interview returned no text")
	}
	return q, nil
}
