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

import (
	"github.com/google-research/binaural/tools/synthesize/signals"
	"gonum.org/v1/gonum/stat"
)

// Tensor is a running cross-correlation indexed [frame][delay][channel].
// Delay index i corresponds to a relative delay of i-MaxLag() samples.
type Tensor [][][]float64

func newTensor(frames, delays, channels int) Tensor {
	backing := make([]float64, frames*delays*channels)
	result := make(Tensor, frames)
	for frameIdx := range result {
		result[frameIdx] = make([][]float64, delays)
		for delayIdx := range result[frameIdx] {
			offset := (frameIdx*delays + delayIdx) * channels
			result[frameIdx][delayIdx] = backing[offset : offset+channels : offset+channels]
		}
	}
	return result
}

// Frames returns the number of frames.
func (t Tensor) Frames() int {
	return len(t)
}

// Delays returns the number of delay positions.
func (t Tensor) Delays() int {
	if len(t) == 0 {
		return 0
	}
	return len(t[0])
}

// Channels returns the number of frequency channels.
func (t Tensor) Channels() int {
	if t.Delays() == 0 {
		return 0
	}
	return len(t[0][0])
}

// MaxLag returns the largest relative delay, in samples.
func (t Tensor) MaxLag() int {
	return (t.Delays() - 1) / 2
}

// Lag returns the relative delay in samples of a delay index.
func (t Tensor) Lag(delayIdx int) int {
	return delayIdx - t.MaxLag()
}

// Lags returns the relative delay of every delay index.
func (t Tensor) Lags() []float64 {
	lags := make([]float64, t.Delays())
	for delayIdx := range lags {
		lags[delayIdx] = float64(t.Lag(delayIdx))
	}
	return lags
}

// Centroid returns, for each [frame][channel], the correlation weighted mean lag in samples.
// Frames where a channel has no correlation at all get a centroid of 0.
func (t Tensor) Centroid() [][]float64 {
	lags := t.Lags()
	weights := make([]float64, t.Delays())
	result := make([][]float64, t.Frames())
	for frameIdx := range t {
		result[frameIdx] = make([]float64, t.Channels())
		for chanIdx := range result[frameIdx] {
			sum := 0.0
			for delayIdx := range weights {
				weights[delayIdx] = t[frameIdx][delayIdx][chanIdx]
				sum += weights[delayIdx]
			}
			if sum == 0 {
				continue
			}
			result[frameIdx][chanIdx] = stat.Mean(lags, weights)
		}
	}
	return result
}

// CentroidMS returns Centroid converted to milliseconds at the given sample rate.
func (t Tensor) CentroidMS(rate signals.Hz) [][]float64 {
	result := t.Centroid()
	msPerSample := 1000 / float64(rate)
	for frameIdx := range result {
		for chanIdx := range result[frameIdx] {
			result[frameIdx][chanIdx] *= msPerSample
		}
	}
	return result
}

// MeanFrame returns the correlation averaged over all frames, indexed [delay][channel].
func (t Tensor) MeanFrame() [][]float64 {
	result := make([][]float64, t.Delays())
	for delayIdx := range result {
		result[delayIdx] = make([]float64, t.Channels())
		for chanIdx := range result[delayIdx] {
			column := make([]float64, t.Frames())
			for frameIdx := range t {
				column[frameIdx] = t[frameIdx][delayIdx][chanIdx]
			}
			result[delayIdx][chanIdx] = stat.Mean(column, nil)
		}
	}
	return result
}
