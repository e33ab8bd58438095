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
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/liuxd6825/remotebrowser/common"
	"github.com/liuxd6825/remotebrowser/log"
)

const (
	framerReadSize = 64 * 1024
	// maxLengthDigits caps the length prefix so garbage is detected early.
	maxLengthDigits = 10
)

// Framer splits the debugger byte stream into packets. A read can carry
// several packets or only part of one: extra packets are queued and
// served before the next read, a trailing fragment is kept until the rest
// of it arrives.
//
// Framer is not safe for concurrent use; the connection's read loop owns it.
type Framer struct {
	r      io.Reader
	logger *log.Logger

	// Dropped, when set, receives the packets filtered out of the stream.
	Dropped func(Packet)

	partial []byte
	queue   []Packet
	readBuf []byte
	err     error
}

// NewFramer returns a framer reading from r.
func NewFramer(r io.Reader, logger *log.Logger) *Framer {
	return &Framer{
		r:       r,
		logger:  logger,
		readBuf: make([]byte, framerReadSize),
	}
}

// Next returns the next packet that passes the filter, in arrival order.
func (f *Framer) Next() (Packet, error) {
	for {
		if len(f.queue) > 0 {
			p := f.queue[0]
			f.queue[0] = nil
			f.queue = f.queue[1:]
			return p, nil
		}
		if f.err != nil {
			return nil, f.err
		}

		n, rerr := f.r.Read(f.readBuf)
		if n > 0 {
			f.partial = append(f.partial, f.readBuf[:n]...)
			packets, err := f.split()
			if err != nil {
				f.err = err
				return nil, err
			}
			f.enqueue(packets)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) && len(f.partial) > 0 {
				rerr = fmt.Errorf("%d bytes of a packet left: %w", len(f.partial), io.ErrUnexpectedEOF)
			}
			f.err = rerr
		}
	}
}

// Buffered returns the number of queued packets and fragment bytes.
func (f *Framer) Buffered() (packets, partial int) {
	return len(f.queue), len(f.partial)
}

func (f *Framer) enqueue(packets []Packet) {
	for _, p := range packets {
		if dropPacket(p) {
			f.logger.Tracef("rdp:recv", "dropped %s", p)
			if f.Dropped != nil {
				f.Dropped(p)
			}
			continue
		}
		f.queue = append(f.queue, p)
	}
}

// split cuts every complete packet off the front of the partial buffer.
func (f *Framer) split() ([]Packet, error) {
	var packets []Packet
	for len(f.partial) > 0 {
		colon := bytes.IndexByte(f.partial, ':')
		if colon < 0 {
			if len(f.partial) > maxLengthDigits || !allDigits(f.partial) {
				return nil, fmt.Errorf("%w: bad length prefix %q", common.ErrMalformedPacket, truncate(f.partial))
			}
			break
		}
		prefix := f.partial[:colon]
		if colon == 0 || colon > maxLengthDigits || !allDigits(prefix) {
			return nil, fmt.Errorf("%w: bad length prefix %q", common.ErrMalformedPacket, truncate(f.partial))
		}
		size, err := strconv.Atoi(string(prefix))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrMalformedPacket, err)
		}
		end := colon + 1 + size
		if len(f.partial) < end {
			break
		}

		body := make([]byte, size)
		copy(body, f.partial[colon+1:end])
		if !gjson.ValidBytes(body) {
			return nil, fmt.Errorf("%w: invalid json %q", common.ErrMalformedPacket, truncate(body))
		}
		f.logger.Debugf("rdp:recv", "<- %s", body)
		packets = append(packets, Packet(body))
		f.partial = f.partial[end:]
	}
	if len(f.partial) == 0 {
		f.partial = nil
	}

	return packets, nil
}

func allDigits(b []byte) bool {
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func truncate(b []byte) []byte {
	const limit = 64
	if len(b) > limit {
		return b[:limit]
	}
	return b
}
