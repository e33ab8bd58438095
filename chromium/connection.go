/*
 *
 * remotebrowser - a remote-debugging protocol client for Chromium and Firefox
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package chromium

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"

	"github.com/liuxd6825/remotebrowser/common"
	"github.com/liuxd6825/remotebrowser/log"
)

const wsWriteBufferSize = 1 << 20

// Ensure Connection implements the cdp.Executor interface.
var _ cdp.Executor = &Connection{}

/*
Connection is the WebSocket connection to one CDP endpoint, either the
browser or a single page target.

	┌──────────────────────────────┐
	│   Browser / target endpoint  │
	└──────────────────────────────┘
	      │                  ▲
	      ▼                  │
	┌──────────┐       ┌──────────┐
	│ recvLoop │       │ sendLoop │◄──── Execute: id from msgID,
	└──────────┘       └──────────┘      pending[id] = reply channel
	  │      │
	  │      └──► id: resolves pending[id] exactly once
	  └──► method: common.Router (waiters, subscriptions)
*/
type Connection struct {
	wsURL  string
	logger *log.Logger
	conn   *websocket.Conn
	router *common.Router

	sendCh       chan *cdproto.Message
	done         chan struct{}
	shutdownOnce sync.Once
	msgID        int64

	pendingMu sync.Mutex
	pending   map[int64]chan *cdproto.Message
	err       error

	// Reuse the easyjson structs to avoid allocs per Read/Write.
	decoder jlexer.Lexer
	encoder jwriter.Writer
}

// NewConnection dials the CDP endpoint at wsURL.
func NewConnection(ctx context.Context, wsURL string, logger *log.Logger) (*Connection, error) {
	wsd := websocket.Dialer{
		HandshakeTimeout: time.Second * 60,
		Proxy:            http.ProxyFromEnvironment,
		WriteBufferSize:  wsWriteBufferSize,
	}

	conn, _, err := wsd.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, &common.ConnectionError{Op: "dialing " + wsURL, Err: err}
	}

	c := Connection{
		wsURL:   wsURL,
		logger:  logger,
		conn:    conn,
		router:  common.NewRouter(logger),
		sendCh:  make(chan *cdproto.Message, 32), // Avoid blocking in Execute
		done:    make(chan struct{}),
		pending: make(map[int64]chan *cdproto.Message),
	}

	go c.recvLoop()
	go c.sendLoop()

	return &c, nil
}

// Router returns the router notifications of this connection go to.
func (c *Connection) Router() *common.Router {
	return c.router
}

// Done is closed once the connection is shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// shutdown closes the socket and fails every pending command and armed
// waiter with common.ErrConnectionClosed.
func (c *Connection) shutdown(cause error) {
	c.shutdownOnce.Do(func() {
		c.logger.Debugf("Connection:close", "wsURL:%q cause:%v", c.wsURL, cause)
		_ = c.conn.Close()

		c.pendingMu.Lock()
		c.err = common.ErrConnectionClosed
		pending := c.pending
		c.pending = make(map[int64]chan *cdproto.Message)
		c.pendingMu.Unlock()

		for _, ch := range pending {
			ch <- nil
		}
		c.router.Close(common.ErrConnectionClosed)

		// Stop the send loop
		close(c.done)
	})
}

func (c *Connection) handleIOError(err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Errorf("Connection:handleIOError", "wsURL:%q unexpected closure: %v", c.wsURL, err)
	}
	c.shutdown(err)
}

func (c *Connection) recvLoop() {
	for {
		_, buf, err := c.conn.ReadMessage()
		if err != nil {
			c.handleIOError(err)
			return
		}

		c.logger.Tracef("cdp:recv", "<- %s", buf)

		var msg cdproto.Message
		c.decoder = jlexer.Lexer{Data: buf}
		msg.UnmarshalEasyJSON(&c.decoder)
		if err := c.decoder.Error(); err != nil {
			c.logger.Errorf("cdp", "decoding message: %v", err)
			continue
		}

		switch {
		case msg.ID != 0:
			c.resolve(&msg)

		case msg.Method != "":
			n := &common.Notification{Key: string(msg.Method), Params: msg.Params}
			if ev, err := cdproto.UnmarshalMessage(&msg); err == nil {
				n.Event = ev
			} else {
				c.logger.Tracef("cdp", "untyped event %q: %v", msg.Method, err)
			}
			c.router.Deliver(n)

		default:
			c.logger.Errorf("cdp", "ignoring malformed incoming message (missing id or method): %s", buf)
		}
	}
}

// resolve hands a response to the command waiting for its id. Responses
// nobody waits for any more are dropped.
func (c *Connection) resolve(msg *cdproto.Message) {
	c.pendingMu.Lock()
	ch, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Debugf("cdp", "dropping response to unknown id %d", msg.ID)
		return
	}
	ch <- msg
}

func (c *Connection) sendLoop() {
	for {
		select {
		case msg := <-c.sendCh:
			c.encoder = jwriter.Writer{}
			msg.MarshalEasyJSON(&c.encoder)
			if err := c.encoder.Error; err != nil {
				c.logger.Errorf("cdp", "encoding message %d: %v", msg.ID, err)
				c.fail(msg.ID)
				continue
			}

			buf, _ := c.encoder.BuildBytes()
			c.logger.Tracef("cdp:send", "-> %s", buf)
			if err := c.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
				c.handleIOError(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// fail resolves a command that could not be sent.
func (c *Connection) fail(id int64) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.pendingMu.Unlock()
	if ok {
		ch <- &cdproto.Message{ID: id, Error: &cdproto.Error{Message: "could not encode command"}}
	}
}

// Close sends a close frame and shuts the connection down.
func (c *Connection) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.shutdown(common.ErrConnectionClosed)
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.logger.Debugf("Connection:Close", "wsURL:%q sending close frame: %v", c.wsURL, err)
	}
	return nil
}

// Execute implements cdp.Executor. It sends the command and blocks until
// its response arrives, ctx is done or the connection closes. Error
// responses are returned as *common.ProtocolError.
func (c *Connection) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	var buf []byte
	if params != nil {
		var err error
		buf, err = easyjson.Marshal(params)
		if err != nil {
			return err
		}
	}

	id := atomic.AddInt64(&c.msgID, 1)
	ch := make(chan *cdproto.Message, 1)

	c.pendingMu.Lock()
	if c.err != nil {
		err := c.err
		c.pendingMu.Unlock()
		return err
	}
	c.pending[id] = ch
	c.pendingMu.Unlock()

	msg := &cdproto.Message{
		ID:     id,
		Method: cdproto.MethodType(method),
		Params: buf,
	}
	select {
	case c.sendCh <- msg:
	case <-c.done:
		return common.ErrConnectionClosed
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}

	select {
	case msg := <-ch:
		switch {
		case msg == nil:
			return common.ErrConnectionClosed
		case msg.Error != nil:
			return &common.ProtocolError{Method: method, Code: msg.Error.Code, Message: msg.Error.Message}
		case res != nil:
			return easyjson.Unmarshal(msg.Result, res)
		}
		return nil
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
}

// forget drops the pending entry of an abandoned command so its late
// response is discarded.
func (c *Connection) forget(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}
