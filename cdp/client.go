package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"

	"github.com/reclamefabriek/dashcheck/cdp/domains"
	"github.com/reclamefabriek/dashcheck/log"
)

// ErrConnectionClosed is returned by pending and future commands once the
// CDP connection is gone.
var ErrConnectionClosed = errors.New("CDP connection closed")

var _ cdp.Executor = &Client{}

// Client manages CDP communication with the browser.
type Client struct {
	ctx    context.Context
	logger *log.Logger

	Browser domains.Browser
	Target  domains.Target

	conn  *connection
	msgID int64

	pendingMu sync.Mutex
	pending   map[int64]chan *cdproto.Message

	watcher *eventWatcher

	done     chan struct{}
	doneOnce sync.Once
	errMu    sync.Mutex
	err      error

	wsURL string
}

// NewClient returns a new Client that is unusable until a CDP connection is
// established with Connect(). Cancelling ctx disconnects the client.
func NewClient(ctx context.Context, logger *log.Logger) *Client {
	c := &Client{
		ctx:     ctx,
		logger:  logger,
		pending: make(map[int64]chan *cdproto.Message),
		watcher: newEventWatcher(),
		done:    make(chan struct{}),
	}

	c.Browser = domains.NewBrowser(c)
	c.Target = domains.NewTarget(c)

	return c
}

// Connect to the browser that exposes a CDP API at wsURL.
func (c *Client) Connect(wsURL string) (err error) {
	if c.wsURL != "" {
		return fmt.Errorf("CDP connection already established to %q", c.wsURL)
	}

	if c.conn, err = newConnection(c.ctx, wsURL, c.logger); err != nil {
		return err
	}
	c.logger.Debugf("cdp:Client:Connect", "established CDP connection to %q", wsURL)
	c.wsURL = wsURL

	go c.recvLoop()
	go func() {
		select {
		case <-c.ctx.Done():
			c.logger.Debugf("cdp:Client", "wsURL:%q ctx done: %v", c.wsURL, c.ctx.Err())
			_ = c.Disconnect()
		case <-c.done:
		}
	}()

	return nil
}

// Disconnect from the browser's CDP API. Pending commands fail with
// ErrConnectionClosed.
func (c *Client) Disconnect() error {
	if c.conn == nil {
		return nil
	}
	c.shutdown(ErrConnectionClosed)
	if err := c.conn.close(); err != nil && !isClosedError(err) {
		return fmt.Errorf("closing CDP connection: %w", err)
	}
	return nil
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection is gone, or nil while it is up.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Execute implements cdp.Executor and performs a synchronous send and
// receive on the browser target.
func (c *Client) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	return c.execute(ctx, "", method, params, res)
}

// Session returns an executor that routes commands to the target attached
// under sessionID.
func (c *Client) Session(sessionID target.SessionID, targetID target.ID) *Session {
	return &Session{client: c, id: sessionID, targetID: targetID}
}

// Subscribe returns a channel notified when the given CDP events are
// received for the session, and a function that unsubscribes and closes
// the channel. Use an empty session ID for browser level events.
func (c *Client) Subscribe(
	sessionID target.SessionID, events ...cdproto.MethodType,
) (<-chan *Event, func()) {
	return c.watcher.subscribe(sessionID, events...)
}

func (c *Client) execute(
	ctx context.Context, sessionID target.SessionID,
	method string, params easyjson.Marshaler, res easyjson.Unmarshaler,
) error {
	select {
	case <-c.done:
		return c.Err()
	default:
	}

	// We use different sessions to send messages to "targets"
	// (browser, page, frame etc.) in CDP. Without a session ID the
	// message goes to the browser target.
	msg := &cdproto.Message{
		ID:        atomic.AddInt64(&c.msgID, 1),
		SessionID: sessionID,
		Method:    cdproto.MethodType(method),
	}
	if params != nil {
		buf, err := easyjson.Marshal(params)
		if err != nil {
			return fmt.Errorf("encoding %s params: %w", method, err)
		}
		msg.Params = buf
	}

	recvCh := make(chan *cdproto.Message, 1)
	c.pendingMu.Lock()
	c.pending[msg.ID] = recvCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msg.ID)
		c.pendingMu.Unlock()
	}()

	c.logger.Tracef("cdp:Client:Execute", "sid:%v id:%d method:%q", sessionID, msg.ID, method)
	if err := c.conn.writeMessage(msg); err != nil {
		if isClosedError(err) {
			return ErrConnectionClosed
		}
		return fmt.Errorf("sending %s: %w", method, err)
	}

	select {
	case resp := <-recvCh:
		switch {
		case resp.Error != nil:
			return resp.Error
		case res != nil:
			if err := easyjson.Unmarshal(resp.Result, res); err != nil {
				return fmt.Errorf("decoding %s result: %w", method, err)
			}
		}
		return nil
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) recvLoop() {
	for {
		msg, err := c.conn.readMessage()
		if err != nil {
			if !isClosedError(err) {
				c.logger.Errorf("cdp:Client:recvLoop", "wsURL:%q ioErr:%v", c.wsURL, err)
			}
			c.shutdown(fmt.Errorf("%w: %v", ErrConnectionClosed, err))
			return
		}

		switch {
		case msg.ID > 0:
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			c.pendingMu.Unlock()
			if !ok {
				c.logger.Debugf("cdp:Client:recvLoop", "no waiter for message id:%d", msg.ID)
				continue
			}
			// Buffered and written once: one response per message ID.
			ch <- msg
		case msg.Method != "":
			c.dispatchEvent(msg)
		default:
			c.logger.Errorf("cdp:Client:recvLoop", "ignoring malformed incoming CDP message (missing id or method): %#v", msg)
		}
	}
}

func (c *Client) dispatchEvent(msg *cdproto.Message) {
	if !c.watcher.wants(msg.SessionID, msg.Method) {
		return
	}
	evt, err := cdproto.UnmarshalMessage(msg)
	if err != nil {
		c.logger.Debugf("cdp:Client:dispatchEvent", "unmarshalling CDP event %q: %v", msg.Method, err)
		return
	}
	dropped := c.watcher.notify(&Event{
		Name:      msg.Method,
		SessionID: msg.SessionID,
		Data:      evt,
	})
	if dropped > 0 {
		c.logger.Warnf("cdp:Client:dispatchEvent", "sid:%v event %q dropped for %d slow subscribers", msg.SessionID, msg.Method, dropped)
	}
}

func (c *Client) shutdown(err error) {
	c.doneOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
		c.watcher.closeAll()
	})
}

var _ cdp.Executor = &Session{}

// Session is a CDP executor bound to a target attached in flatten mode.
type Session struct {
	client   *Client
	id       target.SessionID
	targetID target.ID
}

// ID returns the session ID.
func (s *Session) ID() target.SessionID {
	return s.id
}

// TargetID returns the ID of the target the session is attached to.
func (s *Session) TargetID() target.ID {
	return s.targetID
}

// Execute implements cdp.Executor for the session's target.
func (s *Session) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	return s.client.execute(ctx, s.id, method, params, res)
}

// Subscribe is like Client.Subscribe for this session's events.
func (s *Session) Subscribe(events ...cdproto.MethodType) (<-chan *Event, func()) {
	return s.client.Subscribe(s.id, events...)
}
