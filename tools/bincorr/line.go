/*
 * Copyright 2020 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 *     Unless required by applicable law or agreed to in writing, software
 *     distributed under the License is distributed on an "AS IS" BASIS,
 *     WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *     See the License for the specific language governing permissions and
 *     limitations under the License.
 */
package bincorr

// Direction is the direction a signal travels along the delay line.
type Direction int

const (
	// FromLeft is fed by the left ear at the tail of the line and travels towards index 0.
	FromLeft Direction = iota
	// FromRight is fed by the right ear at the head of the line and travels towards the tail.
	FromRight
)

func (d Direction) String() string {
	switch d {
	case FromLeft:
		return "FromLeft"
	case FromRight:
		return "FromRight"
	}
	return "Unknown"
}

// Line is one direction of the binaural delay line for a single frequency channel.
//
// The values live in a ring, so shifting the line by one position only moves the
// head. Logical index k always means delay position k, with 0 being the head.
type Line struct {
	dir    Direction
	values []float64
	head   int
}

// NewLine returns a silent line with size positions.
func NewLine(dir Direction, size int) *Line {
	return &Line{
		dir:    dir,
		values: make([]float64, size),
	}
}

// Len returns the number of delay positions.
func (l *Line) Len() int {
	return len(l.values)
}

// Direction returns the direction of the line.
func (l *Line) Direction() Direction {
	return l.dir
}

func (l *Line) idx(k int) int {
	return (l.head + k) % len(l.values)
}

// At returns the value at delay position k.
func (l *Line) At(k int) float64 {
	return l.values[l.idx(k)]
}

// Snapshot copies the line in logical order into dst, growing it if needed, and returns it.
func (l *Line) Snapshot(dst []float64) []float64 {
	if cap(dst) < len(l.values) {
		dst = make([]float64, len(l.values))
	}
	dst = dst[:len(l.values)]
	n := copy(dst, l.values[l.head:])
	copy(dst[n:], l.values[:l.head])
	return dst
}

// ShiftAndInject moves the line one position in its direction, scales every
// surviving value by (1 - cs * inhibitor) where inhibitor is the opposite
// direction's value at the position the surviving value had before the shift,
// and injects sample at the input end.
//
// inhibitor must be a Snapshot of the opposite line taken before either line
// was updated for this sample.
func (l *Line) ShiftAndInject(sample float64, inhibitor []float64, cs float64) {
	size := len(l.values)
	switch l.dir {
	case FromLeft:
		l.head = (l.head + 1) % size
		for k := 0; k < size-1; k++ {
			l.values[l.idx(k)] *= 1 - cs*inhibitor[k+1]
		}
		l.values[l.idx(size-1)] = sample
	case FromRight:
		l.head = (l.head + size - 1) % size
		for k := 1; k < size; k++ {
			l.values[l.idx(k)] *= 1 - cs*inhibitor[k-1]
		}
		l.values[l.head] = sample
	}
}

// Sensitize writes value*(1-profile)+profile for each position into dst, in logical order.
func (l *Line) Sensitize(dst, profile []float64) {
	for k := range dst {
		v := l.values[l.idx(k)]
		dst[k] = v*(1-profile[k]) + profile[k]
	}
}

// Reset silences the line.
func (l *Line) Reset() {
	for i := range l.values {
		l.values[i] = 0
	}
	l.head = 0
}
