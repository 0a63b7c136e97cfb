package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Client follows a feed and reconnects when the connection drops.
type Client struct {
	url     string
	logger  *slog.Logger
	backoff time.Duration

	// OnHello and OnView are called from the read loop.
	OnHello func(HelloMessage)
	OnView  func(ViewMessage)
}

func NewClient(url string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{url: url, logger: logger, backoff: 5 * time.Second}
}

// Run keeps a connection open until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := c.connect(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("feed connection lost, reconnecting", "error", err, "in", c.backoff)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(c.backoff):
				}
			}
		}
	}
}

func (c *Client) connect(ctx context.Context) error {
	c.logger.Info("connecting to feed", "url", c.url)

	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "goodbye")
	conn.SetReadLimit(32 << 20)

	var hello HelloMessage
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Type != "hello" {
		return fmt.Errorf("expected hello, got %q", hello.Type)
	}
	if c.OnHello != nil {
		c.OnHello(hello)
	}

	return c.readLoop(ctx, conn)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var base BaseMessage
		if err := json.Unmarshal(data, &base); err != nil {
			c.logger.Warn("invalid feed message", "error", err)
			continue
		}

		switch base.Type {
		case "view":
			var v ViewMessage
			if err := json.Unmarshal(data, &v); err != nil {
				c.logger.Warn("invalid view message", "error", err)
				continue
			}
			if c.OnView != nil {
				c.OnView(v)
			}
		case "pong", "preview":
		case "error":
			var e ErrorMessage
			json.Unmarshal(data, &e)
			c.logger.Warn("feed error", "error", e.Error)
		default:
			c.logger.Debug("unknown feed message", "type", base.Type)
		}
	}
}
