package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/openfield/crmsync/internal/model"
)

// frame is the single wire envelope. Requests, responses and
// server-push events share it, discriminated by Kind.
type frame struct {
	Kind string `json:"kind"` // req, res, evt

	// Request fields.
	ID         string         `json:"id,omitempty"`
	Action     string         `json:"action,omitempty"`
	Tenant     string         `json:"tenant,omitempty"`
	Collection string         `json:"collection,omitempty"`
	DocID      string         `json:"doc_id,omitempty"`
	Field      string         `json:"field,omitempty"`
	Value      string         `json:"value,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`

	// Response fields.
	OK    bool       `json:"ok,omitempty"`
	Error string     `json:"error,omitempty"`
	Docs  []Document `json:"docs,omitempty"`
	Found bool       `json:"found,omitempty"`
	Sub   string     `json:"sub,omitempty"`

	// Event fields (Sub, DocID, Fields reused).
	Event string `json:"event,omitempty"`
}

// ClientConfig holds websocket client configuration.
type ClientConfig struct {
	// URL is the websocket endpoint, e.g. wss://sync.example.com/ws.
	URL string

	// CallTimeout bounds a single request/response round trip.
	CallTimeout time.Duration

	// Logger for connection activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(url string) *ClientConfig {
	return &ClientConfig{
		URL:         url,
		CallTimeout: 15 * time.Second,
		Logger:      log.Default(),
	}
}

// Client implements Store over a websocket connection.
//
// The client owns its reliability: on a read failure it redials with
// doubling backoff and re-issues every live subscription, so engine
// listeners survive transient network trouble without noticing.
type Client struct {
	cfg *ClientConfig

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan frame

	subsMu sync.Mutex
	subs   map[string]*clientSub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type clientSub struct {
	tenant string
	col    model.Collection
	field  string
	after  string
	h      Handler
}

// Dial connects and starts the read loop. The caller must Close().
func Dial(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 15 * time.Second
	}

	conn, _, err := websocket.Dial(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.URL, err)
	}
	conn.SetReadLimit(16 << 20)

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:     cfg,
		conn:    conn,
		pending: make(map[string]chan frame),
		subs:    make(map[string]*clientSub),
		ctx:     runCtx,
		cancel:  cancel,
	}

	c.wg.Add(1)
	go c.readLoop()
	return c, nil
}

// Close tears down the connection and stops the read loop.
func (c *Client) Close() error {
	c.cancel()

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	c.connMu.Unlock()

	c.wg.Wait()
	return nil
}

// call performs one request/response round trip.
func (c *Client) call(ctx context.Context, req frame) (frame, error) {
	req.Kind = "req"
	req.ID = uuid.NewString()

	ch := make(chan frame, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.write(ctx, req); err != nil {
		return frame{}, err
	}

	timeout := time.NewTimer(c.cfg.CallTimeout)
	defer timeout.Stop()

	select {
	case res := <-ch:
		if !res.OK {
			return frame{}, fmt.Errorf("remote error on %s %s: %s", req.Action, req.Collection, res.Error)
		}
		return res, nil
	case <-timeout.C:
		return frame{}, fmt.Errorf("%s %s timed out after %s", req.Action, req.Collection, c.cfg.CallTimeout)
	case <-ctx.Done():
		return frame{}, ctx.Err()
	case <-c.ctx.Done():
		return frame{}, fmt.Errorf("client closed")
	}
}

func (c *Client) write(ctx context.Context, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// readLoop dispatches responses and events; on a broken connection it
// reconnects and re-subscribes.
func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		_, data, err := conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.failPending(err)
			if !c.reconnect() {
				return
			}
			continue
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.cfg.Logger.Printf("Dropping unparsable frame: %v", err)
			continue
		}

		switch f.Kind {
		case "res":
			c.pendingMu.Lock()
			ch, ok := c.pending[f.ID]
			c.pendingMu.Unlock()
			if ok {
				ch <- f
			}
		case "evt":
			c.subsMu.Lock()
			sub, ok := c.subs[f.Sub]
			c.subsMu.Unlock()
			if ok {
				sub.h(Event{Type: ParseEventType(f.Event), DocID: f.DocID, Fields: f.Fields})
			}
		default:
			c.cfg.Logger.Printf("Dropping frame of unknown kind %q", f.Kind)
		}
	}
}

// failPending unblocks in-flight calls after a connection loss. Their
// callers see a transient error and retry on the next cycle.
func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		select {
		case ch <- frame{OK: false, Error: fmt.Sprintf("connection lost: %v", err)}:
		default:
		}
		delete(c.pending, id)
	}
}

// reconnect redials with doubling backoff until the client is closed,
// then re-issues every live subscription. Returns false when the
// client shut down instead.
func (c *Client) reconnect() bool {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		c.cfg.Logger.Printf("Connection lost, redialing %s in %s", c.cfg.URL, backoff)

		select {
		case <-c.ctx.Done():
			return false
		case <-time.After(backoff):
		}

		dialCtx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
		conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
		cancel()
		if err != nil {
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		conn.SetReadLimit(16 << 20)

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()

		if err := c.resubscribe(); err != nil {
			c.cfg.Logger.Printf("Failed to restore subscriptions: %v", err)
			continue
		}

		c.cfg.Logger.Printf("Reconnected to %s", c.cfg.URL)
		return true
	}
}

func (c *Client) resubscribe() error {
	c.subsMu.Lock()
	subs := make(map[string]*clientSub, len(c.subs))
	for id, sub := range c.subs {
		subs[id] = sub
	}
	c.subsMu.Unlock()

	for oldID, sub := range subs {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.CallTimeout)
		res, err := c.call(ctx, frame{
			Action:     "subscribe",
			Tenant:     sub.tenant,
			Collection: string(sub.col),
			Field:      sub.field,
			Value:      sub.after,
		})
		cancel()
		if err != nil {
			return err
		}

		c.subsMu.Lock()
		delete(c.subs, oldID)
		c.subs[res.Sub] = sub
		c.subsMu.Unlock()
	}
	return nil
}

// QueryGreaterThan implements Store.
func (c *Client) QueryGreaterThan(ctx context.Context, tenant string, col model.Collection, field, value string) ([]Document, error) {
	res, err := c.call(ctx, frame{
		Action:     "query_gt",
		Tenant:     tenant,
		Collection: string(col),
		Field:      field,
		Value:      value,
	})
	if err != nil {
		return nil, err
	}
	return res.Docs, nil
}

// GetAll implements Store.
func (c *Client) GetAll(ctx context.Context, tenant string, col model.Collection) ([]Document, error) {
	res, err := c.call(ctx, frame{
		Action:     "get_all",
		Tenant:     tenant,
		Collection: string(col),
	})
	if err != nil {
		return nil, err
	}
	return res.Docs, nil
}

// Get implements Store.
func (c *Client) Get(ctx context.Context, tenant string, col model.Collection, docID string) (Document, bool, error) {
	res, err := c.call(ctx, frame{
		Action:     "get",
		Tenant:     tenant,
		Collection: string(col),
		DocID:      docID,
	})
	if err != nil {
		return Document{}, false, err
	}
	if !res.Found || len(res.Docs) == 0 {
		return Document{}, false, nil
	}
	return res.Docs[0], true, nil
}

// UpsertMerge implements Store.
func (c *Client) UpsertMerge(ctx context.Context, tenant string, col model.Collection, docID string, fields map[string]any) error {
	_, err := c.call(ctx, frame{
		Action:     "upsert",
		Tenant:     tenant,
		Collection: string(col),
		DocID:      docID,
		Fields:     fields,
	})
	return err
}

// Delete implements Store.
func (c *Client) Delete(ctx context.Context, tenant string, col model.Collection, docID string) error {
	_, err := c.call(ctx, frame{
		Action:     "delete",
		Tenant:     tenant,
		Collection: string(col),
		DocID:      docID,
	})
	return err
}

// Subscribe implements Store.
func (c *Client) Subscribe(ctx context.Context, tenant string, col model.Collection, field, after string, h Handler) (CancelFunc, error) {
	res, err := c.call(ctx, frame{
		Action:     "subscribe",
		Tenant:     tenant,
		Collection: string(col),
		Field:      field,
		Value:      after,
	})
	if err != nil {
		return nil, err
	}

	subID := res.Sub
	c.subsMu.Lock()
	c.subs[subID] = &clientSub{tenant: tenant, col: col, field: field, after: after, h: h}
	c.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.subs, subID)
			c.subsMu.Unlock()

			// Best effort: the server drops the subscription on its
			// own when the connection goes away.
			unsubCtx, unsubCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer unsubCancel()
			_, _ = c.call(unsubCtx, frame{Action: "unsubscribe", Sub: subID})
		})
	}
	return cancel, nil
}
