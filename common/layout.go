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

package common

import (
	"fmt"
	"math"
)

// MinQuadArea is the area a clipped quad must exceed to be clickable.
const MinQuadArea = 0.99

// Position is a point in CSS pixels relative to the viewport.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Quad is a polygon given as flat x,y pairs, four points for the content
// quads browsers report.
type Quad []float64

// Area returns the absolute polygon area, computed with the shoelace
// formula.
func (q Quad) Area() float64 {
	n := len(q) / 2
	var area float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		area += q[2*i]*q[2*j+1] - q[2*j]*q[2*i+1]
	}
	return math.Abs(area) / 2
}

// Clip returns a copy of q with every point clamped to the
// [0,width]x[0,height] viewport.
func (q Quad) Clip(width, height float64) Quad {
	nq := make(Quad, len(q))
	for i := 0; i+1 < len(q); i += 2 {
		nq[i] = math.Min(math.Max(q[i], 0), width)
		nq[i+1] = math.Min(math.Max(q[i+1], 0), height)
	}
	return nq
}

// Centroid returns the mean of the quad's points.
func (q Quad) Centroid() Position {
	n := len(q) / 2
	var p Position
	for i := 0; i < n; i++ {
		p.X += q[2*i]
		p.Y += q[2*i+1]
	}
	p.X /= float64(n)
	p.Y /= float64(n)
	return p
}

// Bounds returns the smallest rect containing q.
func (q Quad) Bounds() Rect {
	if len(q) < 2 {
		return Rect{}
	}
	minX, minY := q[0], q[1]
	maxX, maxY := q[0], q[1]
	for i := 2; i+1 < len(q); i += 2 {
		minX, maxX = math.Min(minX, q[i]), math.Max(maxX, q[i])
		minY, maxY = math.Min(minY, q[i+1]), math.Max(maxY, q[i+1])
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// RectQuad returns the quad outlining r clockwise from its top left corner.
func RectQuad(r Rect) Quad {
	return Quad{
		r.X, r.Y,
		r.X + r.Width, r.Y,
		r.X + r.Width, r.Y + r.Height,
		r.X, r.Y + r.Height,
	}
}

// ClickablePoint clips every quad to the viewport, drops the ones with
// an area of at most MinQuadArea and returns the centroid of the first
// quad left.
func ClickablePoint(quads []Quad, clientWidth, clientHeight float64) (*Position, error) {
	for _, q := range quads {
		if len(q) < 6 || len(q)%2 != 0 {
			continue
		}
		cq := q.Clip(clientWidth, clientHeight)
		if cq.Area() <= MinQuadArea {
			continue
		}
		p := cq.Centroid()
		return &p, nil
	}

	return nil, fmt.Errorf("computing clickable point of %d quad(s) in a %gx%g viewport: %w",
		len(quads), clientWidth, clientHeight, ErrNoClickableQuad)
}
