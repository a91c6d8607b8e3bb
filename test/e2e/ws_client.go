package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// wsEvent is one message received over a command's response stream.
type wsEvent struct {
	Type     string
	Parsed   map[string]interface{}
	Received time.Time
}

// wsClient connects to a single command's fixed response channel and
// collects every message delivered, in arrival order — there is no
// subscribe/unsubscribe handshake to wait on, since the channel is fixed by
// the URL at connect time.
type wsClient struct {
	conn   *websocket.Conn
	events []wsEvent
	mu     sync.Mutex
	cancel context.CancelFunc
	doneCh chan struct{}
}

func wsConnect(ctx context.Context, url string) (*wsClient, *int, error) {
	conn, resp, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, &status, fmt.Errorf("websocket dial: %w", err)
	}

	clientCtx, cancel := context.WithCancel(ctx)
	c := &wsClient{cancel: cancel, doneCh: make(chan struct{}), conn: conn}
	go c.readLoop(clientCtx)
	return c, nil, nil
}

func (c *wsClient) readLoop(ctx context.Context) {
	defer close(c.doneCh)
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var parsed map[string]interface{}
		if err := json.Unmarshal(data, &parsed); err != nil {
			continue
		}
		evt := wsEvent{Parsed: parsed, Received: time.Now()}
		if t, ok := parsed["type"].(string); ok {
			evt.Type = t
		}
		c.mu.Lock()
		c.events = append(c.events, evt)
		c.mu.Unlock()
	}
}

func (c *wsClient) snapshot() []wsEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wsEvent, len(c.events))
	copy(out, c.events)
	return out
}

// waitFor polls the collected events until match succeeds or timeout elapses.
func (c *wsClient) waitFor(timeout time.Duration, match func(wsEvent) bool) (wsEvent, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, e := range c.snapshot() {
			if match(e) {
				return e, true
			}
		}
		time.Sleep(25 * time.Millisecond)
	}
	return wsEvent{}, false
}

func (c *wsClient) close() {
	c.cancel()
	_ = c.conn.CloseNow()
	<-c.doneCh
}
