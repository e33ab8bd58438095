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
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/liuxd6825/remotebrowser/common"
)

// VersionInfo is the browser description served on /json/version.
type VersionInfo struct {
	Browser              string
	ProtocolVersion      string
	UserAgent            string
	WebSocketDebuggerURL string
}

// TargetInfo is one entry of /json/list.
type TargetInfo struct {
	ID                   string
	Type                 string
	Title                string
	URL                  string
	WebSocketDebuggerURL string
}

// Connections are not kept alive between discovery requests.
var discoveryClient = &http.Client{
	Timeout:   5 * time.Second,
	Transport: &http.Transport{DisableKeepAlives: true},
}

func endpoint(host string, port int, path string) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + path
}

func getJSON(ctx context.Context, u string) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	resp, err := discoveryClient.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("GET %s: %s", u, resp.Status)
	}
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("reading %s: %w", u, err)
	}
	if !gjson.ValidBytes(buf) {
		return gjson.Result{}, fmt.Errorf("GET %s: %w", u, common.ErrMalformedPacket)
	}
	return gjson.ParseBytes(buf), nil
}

// Discover polls /json/version until the browser answers with its
// debugger URL. Exhausting the attempts wraps common.ErrConnectionRefused.
func Discover(ctx context.Context, host string, port, attempts int, interval time.Duration) (*VersionInfo, error) {
	u := endpoint(host, port, "/json/version")

	var info *VersionInfo
	err := common.Poll(ctx, attempts, interval, func(ctx context.Context) error {
		r, err := getJSON(ctx, u)
		if err != nil {
			return err
		}
		ws := r.Get("webSocketDebuggerUrl").String()
		if ws == "" {
			return errors.New("no webSocketDebuggerUrl in /json/version")
		}
		info = &VersionInfo{
			Browser:              r.Get("Browser").String(),
			ProtocolVersion:      r.Get("Protocol-Version").String(),
			UserAgent:            r.Get("User-Agent").String(),
			WebSocketDebuggerURL: ws,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, &common.ConnectionError{Op: "discovering " + u, Err: err}
		}
		return nil, &common.ConnectionError{
			Op:  "discovering " + u,
			Err: fmt.Errorf("%w: %w", common.ErrConnectionRefused, err),
		}
	}

	return info, nil
}

// ListTargets returns the targets listed on /json/list.
func ListTargets(ctx context.Context, host string, port int) ([]TargetInfo, error) {
	u := endpoint(host, port, "/json/list")
	r, err := getJSON(ctx, u)
	if err != nil {
		return nil, &common.ConnectionError{Op: "listing targets", Err: err}
	}

	var targets []TargetInfo
	r.ForEach(func(_, t gjson.Result) bool {
		targets = append(targets, TargetInfo{
			ID:                   t.Get("id").String(),
			Type:                 t.Get("type").String(),
			Title:                t.Get("title").String(),
			URL:                  t.Get("url").String(),
			WebSocketDebuggerURL: t.Get("webSocketDebuggerUrl").String(),
		})
		return true
	})

	return targets, nil
}
