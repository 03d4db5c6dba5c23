/* bincorr computes the running binaural cross-correlation of Lindemann's delay-line model,
 * with contralateral inhibition and monaural sensitivity.
 *
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
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/cwbudde/algo-vecmath"
	"github.com/google-research/binaural/tools/synthesize/signals"
	"github.com/google-research/binaural/tools/workerpool"
)

const (
	// Left is the index of the left ear in a Signal sample.
	Left = 0
	// Right is the index of the right ear in a Signal sample.
	Right = 1

	// epsilon is added to the peak when normalizing a signal.
	epsilon = 2.220446049250313e-16
	// cancelCheckInterval is how many samples to process between context checks.
	cancelCheckInterval = 1024
)

// InfiniteWindow as IntegrationWindowMS integrates the entire signal into one frame.
var InfiniteWindow = math.Inf(1)

// ErrInvalidParameter is wrapped by every error caused by bad input to Correlate.
var ErrInvalidParameter = errors.New("invalid parameter")

// Signal is a band-decomposed stereo signal, indexed [sample][channel][ear].
type Signal [][][]float64

// NewSignal returns a silent two-ear signal with one backing array.
func NewSignal(numSamples, numChannels int) Signal {
	backing := make([]float64, numSamples*numChannels*2)
	result := make(Signal, numSamples)
	for sampleIdx := range result {
		result[sampleIdx] = make([][]float64, numChannels)
		for chanIdx := range result[sampleIdx] {
			offset := (sampleIdx*numChannels + chanIdx) * 2
			result[sampleIdx][chanIdx] = backing[offset : offset+2 : offset+2]
		}
	}
	return result
}

// NumChannels returns the number of frequency channels, or 0 for an empty signal.
func (s Signal) NumChannels() int {
	if len(s) == 0 {
		return 0
	}
	return len(s[0])
}

func (s Signal) validate() (peak float64, err error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("%w: empty signal", ErrInvalidParameter)
	}
	numChannels := len(s[0])
	if numChannels == 0 {
		return 0, fmt.Errorf("%w: signal has no frequency channels", ErrInvalidParameter)
	}
	for sampleIdx, sample := range s {
		if len(sample) != numChannels {
			return 0, fmt.Errorf("%w: sample %v has %v channels, wanted %v", ErrInvalidParameter, sampleIdx, len(sample), numChannels)
		}
		for chanIdx, ears := range sample {
			if len(ears) != 2 {
				return 0, fmt.Errorf("%w: sample %v channel %v has %v ears, wanted 2", ErrInvalidParameter, sampleIdx, chanIdx, len(ears))
			}
			for _, v := range ears {
				if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
					return 0, fmt.Errorf("%w: sample %v channel %v has value %v, wanted finite and non negative", ErrInvalidParameter, sampleIdx, chanIdx, v)
				}
				if v > peak {
					peak = v
				}
			}
		}
	}
	return peak, nil
}

// Params configures the correlator.
type Params struct {
	// SampleRate is the sample rate of the signal.
	SampleRate signals.Hz
	// InhibitionFactor (c_s) is the strength of the contralateral inhibition, in [0, 1].
	InhibitionFactor float64
	// SensitivityFloor (w_f) is the monaural sensitivity at the input end of the delay line, in [0, 1).
	SensitivityFloor float64
	// SensitivityDecay (M_f) is the decay constant, in delay positions, of the monaural sensitivity.
	SensitivityDecay float64
	// IntegrationWindowMS (T_int) is the length of each output frame in milliseconds, or InfiniteWindow.
	IntegrationWindowMS float64
	// OnsetOffset (N_1) is the 1-based sample index after which the first window starts.
	OnsetOffset int
	// Workers is the number of channels processed concurrently. <= 0 means runtime.NumCPU().
	Workers int
}

// DefaultParams returns the parameters from Lindemann (1986) for the given rate.
func DefaultParams(rate signals.Hz) Params {
	return Params{
		SampleRate:          rate,
		InhibitionFactor:    0.3,
		SensitivityFloor:    0.035,
		SensitivityDecay:    6,
		IntegrationWindowMS: 5,
		OnsetOffset:         1,
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Validate returns an error wrapping ErrInvalidParameter if any scalar parameter is out of range.
func (p Params) Validate() error {
	switch {
	case !finite(float64(p.SampleRate)) || p.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %v must be positive", ErrInvalidParameter, p.SampleRate)
	case !finite(p.InhibitionFactor) || p.InhibitionFactor < 0 || p.InhibitionFactor > 1:
		return fmt.Errorf("%w: inhibition factor %v must be in [0, 1]", ErrInvalidParameter, p.InhibitionFactor)
	case !finite(p.SensitivityFloor) || p.SensitivityFloor < 0 || p.SensitivityFloor >= 1:
		return fmt.Errorf("%w: sensitivity floor %v must be in [0, 1)", ErrInvalidParameter, p.SensitivityFloor)
	case !finite(p.SensitivityDecay) || p.SensitivityDecay <= 0:
		return fmt.Errorf("%w: sensitivity decay %v must be positive", ErrInvalidParameter, p.SensitivityDecay)
	case math.IsNaN(p.IntegrationWindowMS) || p.IntegrationWindowMS <= 0:
		return fmt.Errorf("%w: integration window %vms must be positive", ErrInvalidParameter, p.IntegrationWindowMS)
	case p.OnsetOffset < 1:
		return fmt.Errorf("%w: onset offset %v must be at least 1", ErrInvalidParameter, p.OnsetOffset)
	}
	if !math.IsInf(p.IntegrationWindowMS, 1) && p.windowSamples() < 1 {
		return fmt.Errorf("%w: integration window %vms is shorter than a sample at %vHz", ErrInvalidParameter, p.IntegrationWindowMS, p.SampleRate)
	}
	return nil
}

// MaxLag returns M, the number of delay positions on each side of the center of the delay line.
func (p Params) MaxLag() int {
	return int(math.Round(float64(p.SampleRate) / 2000))
}

func (p Params) windowSamples() int {
	return int(math.Round(p.IntegrationWindowMS / 1000 * float64(p.SampleRate)))
}

// window tracks the active integration window. Samples n (1-based) with
// start < n <= end are integrated.
type window struct {
	length int
	start  int
	end    int
	frames int
}

func (w *window) advance() {
	w.start += w.length
	w.end += w.length
}

func (p Params) window(numSamples int) (window, error) {
	if math.IsInf(p.IntegrationWindowMS, 1) {
		if numSamples <= p.OnsetOffset {
			return window{}, fmt.Errorf("%w: signal of %v samples leaves no room after onset offset %v", ErrInvalidParameter, numSamples, p.OnsetOffset)
		}
		return window{
			length: numSamples - p.OnsetOffset,
			start:  p.OnsetOffset,
			end:    numSamples,
			frames: 1,
		}, nil
	}
	length := p.windowSamples()
	if numSamples <= p.OnsetOffset+length {
		return window{}, fmt.Errorf("%w: signal of %v samples is too short for onset offset %v and a window of %v samples", ErrInvalidParameter, numSamples, p.OnsetOffset, length)
	}
	return window{
		length: length,
		start:  p.OnsetOffset,
		end:    p.OnsetOffset + length,
		frames: (numSamples+length-1)/length - 1,
	}, nil
}

// Correlate is CorrelateContext with a background context.
func Correlate(signal Signal, p Params) (Tensor, error) {
	return CorrelateContext(context.Background(), signal, p)
}

// CorrelateContext runs the delay-line model over the signal and returns the
// correlation indexed [frame][delay][channel].
//
// All parameter and shape errors are reported before any processing starts.
// Samples must be finite and non negative, as produced by a rectifying
// periphery; anything else fails with ErrInvalidParameter.
// If ctx is cancelled no tensor is returned.
func CorrelateContext(ctx context.Context, signal Signal, p Params) (Tensor, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	peak, err := signal.validate()
	if err != nil {
		return nil, err
	}
	win, err := p.window(len(signal))
	if err != nil {
		return nil, err
	}

	size := 2*p.MaxLag() + 1
	c := &correlator{
		params: p,
		signal: signal,
		scale:  1 / (peak + epsilon),
		win:    win,
		out:    newTensor(win.frames, size, signal.NumChannels()),
	}
	c.leftProfile, c.rightProfile = sensitivityProfiles(size, p.SensitivityFloor, p.SensitivityDecay)

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	wp := workerpool.New(ctx, workers)
	for chanVar := 0; chanVar < signal.NumChannels(); chanVar++ {
		channel := chanVar
		wp.Go(func() error {
			return c.correlateChannel(wp.Context(), channel)
		})
	}
	if err := wp.Wait(); err != nil {
		return nil, err
	}
	return c.out, nil
}

type correlator struct {
	params       Params
	signal       Signal
	scale        float64
	win          window
	leftProfile  []float64
	rightProfile []float64
	out          Tensor
}

// correlateChannel runs one frequency channel through its own pair of delay lines,
// writing only to that channel of the output.
func (c *correlator) correlateChannel(ctx context.Context, channel int) error {
	size := len(c.leftProfile)
	cs := c.params.InhibitionFactor
	left := NewLine(FromLeft, size)
	right := NewLine(FromRight, size)
	leftSnapshot := make([]float64, size)
	rightSnapshot := make([]float64, size)
	leftSensitized := make([]float64, size)
	rightSensitized := make([]float64, size)
	weighted := make([]float64, size)
	acc := make([]float64, size)

	win := c.win
	frame := 0
	for sampleIdx, sample := range c.signal {
		if sampleIdx%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		n := sampleIdx + 1

		left.Snapshot(leftSnapshot)
		right.Snapshot(rightSnapshot)
		left.ShiftAndInject(sample[channel][Left]*c.scale, rightSnapshot, cs)
		right.ShiftAndInject(sample[channel][Right]*c.scale, leftSnapshot, cs)

		if n <= win.start || n > win.end {
			continue
		}
		left.Sensitize(leftSensitized, c.leftProfile)
		right.Sensitize(rightSensitized, c.rightProfile)
		leak := math.Exp(-float64(win.end-n) / float64(win.length))
		vecmath.ScaleBlock(weighted, leftSensitized, leak)
		vecmath.MulAddBlock(acc, weighted, rightSensitized, acc)

		if n == win.end {
			if frame >= len(c.out) {
				panic(fmt.Sprintf("frame %v is outside the %v preallocated frames", frame, len(c.out)))
			}
			for delayIdx := range acc {
				c.out[frame][delayIdx][channel] = acc[delayIdx]
				acc[delayIdx] = 0
			}
			frame++
			win.advance()
		}
	}
	return nil
}
