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

// Package ws provides a fake CDP endpoint for tests: the HTTP discovery
// documents plus WebSocket sessions driven by a handler function.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
	"github.com/mccutchen/go-httpbin/httpbin"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
)

// Server can be used as a test alternative to a real CDP compatible browser.
type Server struct {
	t             testing.TB
	Mux           *http.ServeMux
	ServerHTTP    *httptest.Server
	HTTPTransport *http.Transport
	Context       context.Context

	mu       sync.Mutex
	sessions map[*Session]struct{}
	commands []Command
}

// Command is a CDP command a session received.
type Command struct {
	Path   string
	Method cdproto.MethodType
	Params []byte
}

// NewServer returns a fully configured and running WS test server. Paths
// no option claims are served by httpbin.
func NewServer(t testing.TB, opts ...func(*Server)) *Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.Handle("/", httpbin.New().Handler())
	server := httptest.NewServer(mux)

	transport := &http.Transport{DisableKeepAlives: true}
	require.NoError(t, http2.ConfigureTransport(transport))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		t:             t,
		Mux:           mux,
		ServerHTTP:    server,
		HTTPTransport: transport,
		Context:       ctx,
		sessions:      make(map[*Session]struct{}),
	}
	t.Cleanup(func() {
		cancel()
		s.closeSessions()
		server.Close()
		transport.CloseIdleConnections()
	})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Host returns the host the server listens on.
func (s *Server) Host() string {
	u, err := url.Parse(s.ServerHTTP.URL)
	require.NoError(s.t, err)
	return u.Hostname()
}

// Port returns the port the server listens on.
func (s *Server) Port() int {
	u, err := url.Parse(s.ServerHTTP.URL)
	require.NoError(s.t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(s.t, err)
	return port
}

// WSURL returns the WebSocket URL of path.
func (s *Server) WSURL(path string) string {
	return "ws" + strings.TrimPrefix(s.ServerHTTP.URL, "http") + path
}

// Commands returns the commands received so far on every session.
func (s *Server) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.commands...)
}

// CommandsFor returns the received commands named method.
func (s *Server) CommandsFor(method cdproto.MethodType) []Command {
	var out []Command
	for _, c := range s.Commands() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Push sends an event on every open session at path.
func (s *Server) Push(path string, method cdproto.MethodType, params string) {
	s.mu.Lock()
	var targets []*Session
	for sess := range s.sessions {
		if sess.Path == path {
			targets = append(targets, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range targets {
		sess.Event(method, params)
	}
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sess := range s.sessions {
		_ = sess.conn.Close()
	}
}

// Target is a page listed by WithDiscovery.
type Target struct {
	ID   string
	Type string
	URL  string
}

// Path returns the WebSocket path of the target.
func (t Target) Path() string {
	return "/devtools/page/" + t.ID
}

// BrowserPath is the WebSocket path of the browser endpoint.
const BrowserPath = "/devtools/browser/fake"

// WithDiscovery serves /json/version and a /json/list built from the
// current result of targets.
func WithDiscovery(product string, targets func() []Target) func(*Server) {
	return func(s *Server) {
		s.Mux.HandleFunc("/json/version", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, map[string]string{
				"Browser":              product,
				"Protocol-Version":     "1.3",
				"User-Agent":           "Mozilla/5.0 " + product,
				"webSocketDebuggerUrl": s.WSURL(BrowserPath),
			})
		})
		s.Mux.HandleFunc("/json/list", func(w http.ResponseWriter, _ *http.Request) {
			list := []map[string]string{}
			for _, t := range targets() {
				typ := t.Type
				if typ == "" {
					typ = "page"
				}
				list = append(list, map[string]string{
					"id":                   t.ID,
					"type":                 typ,
					"title":                "",
					"url":                  t.URL,
					"webSocketDebuggerUrl": s.WSURL(t.Path()),
				})
			}
			writeJSON(w, list)
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// WithClosureAbnormalHandler attaches an abnormal closure behavior to Server.
func WithClosureAbnormalHandler(path string) func(*Server) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, req, w.Header())
		if err != nil {
			return
		}
		// This forces a connection closure without a proper WS close
		// message exchange.
		_ = conn.Close()
	}
	return func(s *Server) {
		s.Mux.Handle(path, http.HandlerFunc(handler))
	}
}

// Session is one WebSocket connection to the fake endpoint.
type Session struct {
	Path string

	conn    *websocket.Conn
	writeCh chan cdproto.Message
	done    chan struct{}
}

// Send writes msg unless the session is gone.
func (s *Session) Send(msg cdproto.Message) {
	select {
	case s.writeCh <- msg:
	case <-s.done:
	}
}

// Reply answers msg with a JSON result.
func (s *Session) Reply(msg *cdproto.Message, result string) {
	s.Send(cdproto.Message{ID: msg.ID, SessionID: msg.SessionID, Result: easyjson.RawMessage(result)})
}

// ReplyError answers msg with an error payload.
func (s *Session) ReplyError(msg *cdproto.Message, code int64, message string) {
	s.Send(cdproto.Message{ID: msg.ID, SessionID: msg.SessionID, Error: &cdproto.Error{Code: code, Message: message}})
}

// Event sends an event.
func (s *Session) Event(method cdproto.MethodType, params string) {
	s.Send(cdproto.Message{Method: method, Params: easyjson.RawMessage(params)})
}

// Close drops the connection without a close frame.
func (s *Session) Close() {
	_ = s.conn.Close()
}

// CDPHandler handles one command received by a session.
type CDPHandler func(s *Session, msg *cdproto.Message)

// WithCDPHandler serves CDP sessions at path, calling fn for every
// received command.
func WithCDPHandler(path string, fn CDPHandler) func(*Server) {
	return func(srv *Server) {
		srv.Mux.Handle(path, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			conn, err := (&websocket.Upgrader{}).Upgrade(w, req, w.Header())
			if err != nil {
				return
			}
			srv.serve(&Session{
				Path:    path,
				conn:    conn,
				writeCh: make(chan cdproto.Message),
				done:    make(chan struct{}),
			}, fn)
		}))
	}
}

func (srv *Server) serve(s *Session, fn CDPHandler) {
	srv.mu.Lock()
	srv.sessions[s] = struct{}{}
	srv.mu.Unlock()
	defer func() {
		srv.mu.Lock()
		delete(srv.sessions, s)
		srv.mu.Unlock()
		_ = s.conn.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case msg := <-s.writeCh:
				encoder := jwriter.Writer{}
				msg.MarshalEasyJSON(&encoder)
				if encoder.Error != nil {
					continue
				}
				writer, err := s.conn.NextWriter(websocket.TextMessage)
				if err != nil {
					continue
				}
				_, _ = encoder.DumpTo(writer)
				_ = writer.Close()
			case <-s.done:
				return
			}
		}
	}()

	for {
		_, buf, err := s.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg cdproto.Message
		decoder := jlexer.Lexer{Data: buf}
		msg.UnmarshalEasyJSON(&decoder)
		if decoder.Error() != nil {
			continue
		}

		srv.mu.Lock()
		srv.commands = append(srv.commands, Command{Path: s.Path, Method: msg.Method, Params: msg.Params})
		srv.mu.Unlock()

		if fn != nil {
			fn(s, &msg)
		}
	}
	close(s.done)
	wg.Wait()
}

// CDPDefaultHandler answers every command with an empty result.
func CDPDefaultHandler(s *Session, msg *cdproto.Message) {
	s.Reply(msg, "{}")
}
