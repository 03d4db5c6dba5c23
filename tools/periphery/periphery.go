/* Package periphery decomposes stereo sound into per-channel inner hair cell
 * excitation suitable as input to the binaural correlator.
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
package periphery

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/google-research/binaural/tools/bincorr"
	"github.com/google-research/binaural/tools/filter"
	"github.com/google-research/binaural/tools/synthesize/signals"
	"github.com/google-research/binaural/tools/workerpool"
)

// Params configures the filterbank and hair cell model.
type Params struct {
	// LowFrequency is the center frequency of the lowest channel.
	LowFrequency signals.Hz
	// HighFrequency is the center frequency of the highest channel.
	HighFrequency signals.Hz
	// NumChannels is the number of channels, equally spaced on the ERB-rate scale.
	NumChannels int
	// GammatoneOrder is the order of each channel filter.
	GammatoneOrder int
	// EnvelopeCutoff is the cutoff of the hair cell lowpass.
	EnvelopeCutoff signals.Hz
	// EnvelopeOrder is the order of the hair cell lowpass.
	EnvelopeOrder int
	// Workers is the number of channels filtered concurrently. <= 0 means runtime.NumCPU().
	Workers int
}

// DefaultParams returns a 24 channel filterbank from 200Hz to 5kHz with an 800Hz hair cell lowpass.
func DefaultParams() Params {
	return Params{
		LowFrequency:   200,
		HighFrequency:  5000,
		NumChannels:    24,
		GammatoneOrder: 4,
		EnvelopeCutoff: 800,
		EnvelopeOrder:  1,
	}
}

// CenterFrequencies returns the center frequency of each channel.
func (p Params) CenterFrequencies() []signals.Hz {
	return filter.ERBSpace(p.LowFrequency, p.HighFrequency, p.NumChannels)
}

func (p Params) validate(rate signals.Hz) error {
	switch {
	case p.NumChannels < 1:
		return fmt.Errorf("%w: %v channels", bincorr.ErrInvalidParameter, p.NumChannels)
	case p.LowFrequency <= 0 || p.HighFrequency < p.LowFrequency:
		return fmt.Errorf("%w: channel frequencies [%v, %v]", bincorr.ErrInvalidParameter, p.LowFrequency, p.HighFrequency)
	case p.HighFrequency >= rate/2:
		return fmt.Errorf("%w: highest channel %v is above Nyquist at %v", bincorr.ErrInvalidParameter, p.HighFrequency, rate)
	}
	return nil
}

type channel struct {
	gammatone filter.LTIConf
	envelope  filter.LTIConf
}

func (c channel) process(s signals.Float64Slice) ([]float64, error) {
	gammatone, err := c.gammatone.Make()
	if err != nil {
		return nil, err
	}
	envelope, err := c.envelope.Make()
	if err != nil {
		return nil, err
	}
	filtered := gammatone.Filter(s)
	for i, v := range filtered {
		filtered[i] = math.Max(0, v)
	}
	res := envelope.Filter(filtered)
	for i, v := range res {
		res[i] = math.Max(0, v)
	}
	return res, nil
}

// Process returns the hair cell excitation of each ear and channel of the stereo sound,
// along with the center frequency of each channel.
func Process(ctx context.Context, sound signals.Stereo, p Params) (bincorr.Signal, []signals.Hz, error) {
	if len(sound.Left) != len(sound.Right) {
		return nil, nil, fmt.Errorf("%w: left channel has %v samples and right channel has %v", bincorr.ErrInvalidParameter, len(sound.Left), len(sound.Right))
	}
	if err := p.validate(sound.Rate); err != nil {
		return nil, nil, err
	}
	centers := p.CenterFrequencies()
	channels := make([]channel, len(centers))
	for chanIdx, fc := range centers {
		gammatone, err := filter.Gammatone(fc, sound.Rate, p.GammatoneOrder)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", bincorr.ErrInvalidParameter, err)
		}
		envelope, err := filter.Lowpass(p.EnvelopeCutoff, sound.Rate, p.EnvelopeOrder)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", bincorr.ErrInvalidParameter, err)
		}
		channels[chanIdx] = channel{gammatone: gammatone, envelope: envelope}
	}

	result := bincorr.NewSignal(len(sound.Left), len(centers))
	workers := p.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	wp := workerpool.New(ctx, workers)
	for chanVar := range channels {
		chanIdx := chanVar
		for earVar, earVal := range []signals.Float64Slice{sound.Left, sound.Right} {
			ear, samples := earVar, earVal
			wp.Go(func() error {
				if err := wp.Context().Err(); err != nil {
					return err
				}
				excitation, err := channels[chanIdx].process(samples)
				if err != nil {
					return err
				}
				for sampleIdx, v := range excitation {
					result[sampleIdx][chanIdx][ear] = v
				}
				return nil
			})
		}
	}
	if err := wp.Wait(); err != nil {
		return nil, nil, err
	}
	return result, centers, nil
}
