package cdp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jwriter"
	"github.com/oxtoacart/bpool"

	"github.com/reclamefabriek/dashcheck/log"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsBufferSize       = 1 << 20
	wsCloseTimeout     = time.Second
	readBufferPoolSize = 8
)

// connection is a websocket connection speaking CDP messages.
type connection struct {
	ws     *websocket.Conn
	wsURL  string
	logger *log.Logger

	// gorilla/websocket supports one concurrent writer.
	writeMu sync.Mutex
	bufPool *bpool.BufferPool

	closeOnce sync.Once
}

func newConnection(ctx context.Context, wsURL string, logger *log.Logger) (*connection, error) {
	wd := &websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
		ReadBufferSize:   wsBufferSize,
		WriteBufferSize:  wsBufferSize,
		Proxy:            http.ProxyFromEnvironment,
	}
	ws, _, err := wd.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dialing %q: %w", wsURL, err)
	}

	return &connection{
		ws:      ws,
		wsURL:   wsURL,
		logger:  logger,
		bufPool: bpool.NewBufferPool(readBufferPoolSize),
	}, nil
}

// readMessage blocks until the next CDP message arrives.
func (c *connection) readMessage() (*cdproto.Message, error) {
	_, r, err := c.ws.NextReader()
	if err != nil {
		return nil, err
	}

	buf := c.bufPool.Get()
	defer c.bufPool.Put(buf)

	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("reading CDP message: %w", err)
	}

	// easyjson keeps references into the input for raw fields, and buf
	// goes back to the pool.
	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())

	var msg cdproto.Message
	if err := easyjson.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decoding CDP message: %w", err)
	}

	return &msg, nil
}

func (c *connection) writeMessage(msg *cdproto.Message) error {
	var encoder jwriter.Writer
	msg.MarshalEasyJSON(&encoder)
	if err := encoder.Error; err != nil {
		return fmt.Errorf("encoding CDP message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	w, err := c.ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return fmt.Errorf("opening websocket writer: %w", err)
	}
	if _, err := encoder.DumpTo(w); err != nil {
		_ = w.Close()
		return fmt.Errorf("writing CDP message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("flushing CDP message: %w", err)
	}

	return nil
}

// close sends a websocket close frame and closes the underlying network
// connection. It is safe to call more than once.
func (c *connection) close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		werr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseTimeout))
		c.writeMu.Unlock()
		if werr != nil && !isClosedError(werr) {
			c.logger.Debugf("cdp:connection:close", "wsURL:%q sending close frame: %v", c.wsURL, werr)
		}
		err = c.ws.Close()
	})

	return err
}

// isClosedError reports whether err is the expected result of reading from
// or writing to a connection that was closed by either side.
func isClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
	)
}
