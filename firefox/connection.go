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

package firefox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/liuxd6825/remotebrowser/common"
	"github.com/liuxd6825/remotebrowser/log"
)

type reply struct {
	p   Packet
	err error
}

type pendingRequest struct {
	typ string
	ch  chan reply
}

// Connection is a debugger client connection. Replies of an actor come
// back in the order the actor received its requests, so pending requests
// are kept in one FIFO per actor.
type Connection struct {
	conn   net.Conn
	framer *Framer
	logger *log.Logger
	router *common.Router

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string][]*pendingRequest
	err     error

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the debugger server at host:port, retrying while the
// browser is starting, and consumes the greeting the server sends first.
func Dial(
	ctx context.Context, host string, port int, attempts int, interval time.Duration, logger *log.Logger,
) (*Connection, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	var (
		conn   net.Conn
		dialer net.Dialer
	)
	err := common.Poll(ctx, attempts, interval, func(ctx context.Context) error {
		var err error
		conn, err = dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			logger.Debugf("Connection:Dial", "addr:%s: %v", addr, err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrRetriesExhausted) {
			return nil, &common.ConnectionError{
				Op:  "connecting to " + addr,
				Err: fmt.Errorf("%w: %w", common.ErrConnectionRefused, err),
			}
		}
		return nil, &common.ConnectionError{Op: "connecting to " + addr, Err: err}
	}

	return newConnection(ctx, conn, logger)
}

func newConnection(ctx context.Context, conn net.Conn, logger *log.Logger) (*Connection, error) {
	c := &Connection{
		conn:    conn,
		framer:  NewFramer(conn, logger),
		logger:  logger,
		router:  common.NewRouter(logger),
		pending: make(map[string][]*pendingRequest),
		done:    make(chan struct{}),
	}
	c.framer.Dropped = c.dropped

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	welcome, err := c.framer.Next()
	if err != nil {
		_ = conn.Close()
		return nil, &common.ConnectionError{Op: "reading greeting", Err: err}
	}
	_ = conn.SetReadDeadline(time.Time{})
	logger.Debugf("Connection:greeting", "%s", welcome)

	go c.recvLoop()

	return c, nil
}

// Router returns the router notifications of this connection go to.
func (c *Connection) Router() *common.Router {
	return c.router
}

// Request sends a packet of type typ to the actor to and waits for the
// actor's reply. An error reply is returned as a *common.ProtocolError.
func (c *Connection) Request(ctx context.Context, to, typ string, params map[string]any) (Packet, error) {
	msg := make(map[string]any, len(params)+2)
	for k, v := range params {
		msg[k] = v
	}
	msg["to"] = to
	msg["type"] = typ
	buf, err := EncodePacket(msg)
	if err != nil {
		return nil, err
	}

	pr := &pendingRequest{typ: typ, ch: make(chan reply, 1)}

	// Registration and write happen under one lock so the FIFO order is
	// the order the actor sees.
	c.writeMu.Lock()
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		c.writeMu.Unlock()
		return nil, err
	}
	c.pending[to] = append(c.pending[to], pr)
	c.mu.Unlock()

	c.logger.Debugf("rdp:send", "-> %s", buf)
	_, werr := c.conn.Write(buf)
	c.writeMu.Unlock()
	if werr != nil {
		c.shutdown(&common.ConnectionError{Op: "writing " + typ, Err: werr})
	}

	select {
	case r := <-pr.ch:
		return r.p, r.err
	case <-ctx.Done():
		// The entry stays queued to absorb the late reply. Actors answer
		// every request they receive, in order; an actor that never
		// answers stalls its own queue until the connection closes, and
		// other actors are not affected.
		return nil, ctx.Err()
	}
}

func (c *Connection) recvLoop() {
	for {
		p, err := c.framer.Next()
		if err != nil {
			c.shutdown(&common.ConnectionError{Op: "reading packet", Err: err})
			return
		}

		if isEvent(p) {
			c.router.Deliver(&common.Notification{Key: eventKey(p.Type(), p.From()), Params: p})
			continue
		}

		from := p.From()
		c.mu.Lock()
		queue := c.pending[from]
		if len(queue) == 0 {
			c.mu.Unlock()
			c.logger.Debugf("Connection:recv", "dropping packet from %q without a pending request", from)
			continue
		}
		pr := queue[0]
		if len(queue) == 1 {
			delete(c.pending, from)
		} else {
			c.pending[from] = queue[1:]
		}
		c.mu.Unlock()

		if name := p.ErrorName(); name != "" {
			pr.ch <- reply{err: &common.ProtocolError{
				Method:  pr.typ + "@" + from,
				Message: fmt.Sprintf("%s: %s", name, p.Get("message").String()),
			}}
			continue
		}
		pr.ch <- reply{p: p}
	}
}

// dropped routes filtered page errors to passive subscribers.
func (c *Connection) dropped(p Packet) {
	if p.Type() == "pageError" {
		c.router.Deliver(&common.Notification{Key: eventKey(p.Type(), p.From()), Params: p})
	}
}

func (c *Connection) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.logger.Debugf("Connection:close", "%v", err)
		_ = c.conn.Close()

		c.mu.Lock()
		c.err = common.ErrConnectionClosed
		pending := c.pending
		c.pending = make(map[string][]*pendingRequest)
		c.mu.Unlock()

		for _, queue := range pending {
			for _, pr := range queue {
				pr.ch <- reply{err: common.ErrConnectionClosed}
			}
		}
		c.router.Close(common.ErrConnectionClosed)
		close(c.done)
	})
}

// Close closes the connection and fails everything outstanding with
// common.ErrConnectionClosed.
func (c *Connection) Close() error {
	c.shutdown(common.ErrConnectionClosed)
	return nil
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func eventKey(typ, actor string) string {
	return typ + "@" + actor
}
