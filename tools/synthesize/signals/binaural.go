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
package signals

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/youpy/go-wav"
)

// Binaural places a monaural source in the horizontal plane using
// an interaural time and level difference.
type Binaural struct {
	// Source is the monaural sound presented to both ears.
	Source SamplerWrapper
	// ITD is the interaural time difference. Positive values delay the right ear,
	// making the sound lead in the left ear.
	ITD Seconds
	// ILD is the interaural level difference. Positive values make the left ear
	// louder, by ILD/2 in the left ear and -ILD/2 in the right ear.
	ILD DB
}

func (b *Binaural) String() string {
	return fmt.Sprintf("%+v", *b)
}

// Delay returns the ITD rounded to whole samples at rate.
func (b Binaural) Delay(rate Hz) int {
	return rate.Samples(b.ITD)
}

// SampleStereo samples the source during ts and returns the left and right ear signals.
// The lagging ear is the leading ear shifted by the ITD, with silence before the shift.
func (b Binaural) SampleStereo(ts TimeStretch, rate Hz) (Stereo, error) {
	sampler, err := b.Source.Sampler()
	if err != nil {
		return Stereo{}, err
	}
	mono, err := sampler.Sample(ts, rate)
	if err != nil {
		return Stereo{}, err
	}
	result := Stereo{
		Left:  make(Float64Slice, len(mono)),
		Right: make(Float64Slice, len(mono)),
		Rate:  rate,
	}
	delay := b.Delay(rate)
	leading, lagging := result.Left, result.Right
	if delay < 0 {
		leading, lagging = lagging, leading
		delay = -delay
	}
	copy(leading, mono)
	if delay < len(mono) {
		copy(lagging[delay:], mono)
	}
	result.Left.AddLevel(b.ILD / 2)
	result.Right.AddLevel(-b.ILD / 2)
	return result, nil
}

// Stereo is a two channel sound buffer.
type Stereo struct {
	Left  Float64Slice
	Right Float64Slice
	Rate  Hz
}

// Len returns the number of samples per channel.
func (s Stereo) Len() int {
	return len(s.Left)
}

// Peak returns the largest absolute sample value in either channel.
func (s Stereo) Peak() float64 {
	peak := 0.0
	for _, channel := range []Float64Slice{s.Left, s.Right} {
		for _, v := range channel {
			peak = math.Max(peak, math.Abs(v))
		}
	}
	return peak
}

func clip16(v float64) int {
	return int(math.Max(-1, math.Min(1, v)) * float64(math.MaxInt16))
}

// WriteWAV writes the buffer as a 16 bit stereo WAV file to w.
// Samples outside [-1, 1] are clipped.
func (s Stereo) WriteWAV(w io.Writer) error {
	if len(s.Left) != len(s.Right) {
		return fmt.Errorf("left channel has %v samples and right channel has %v", len(s.Left), len(s.Right))
	}
	wavSamples := make([]wav.Sample, len(s.Left))
	for idx := range wavSamples {
		wavSamples[idx] = wav.Sample{
			Values: [2]int{clip16(s.Left[idx]), clip16(s.Right[idx])},
		}
	}
	buf := &bytes.Buffer{}
	wavWriter := wav.NewWriter(buf, uint32(len(wavSamples)), 2, uint32(s.Rate), 16)
	if err := wavWriter.WriteSamples(wavSamples); err != nil {
		return err
	}
	_, err := io.Copy(w, buf)
	return err
}

// WAVSource is something a WAV file can be decoded from, like *os.File or *bytes.Reader.
type WAVSource interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

// ReadWAV decodes a WAV file. Mono files are presented to both ears.
func ReadWAV(r WAVSource) (Stereo, error) {
	reader := wav.NewReader(r)
	format, err := reader.Format()
	if err != nil {
		return Stereo{}, err
	}
	if format.NumChannels < 1 || format.NumChannels > 2 {
		return Stereo{}, fmt.Errorf("unsupported number of channels %v", format.NumChannels)
	}
	rightChannel := uint(0)
	if format.NumChannels == 2 {
		rightChannel = 1
	}
	result := Stereo{Rate: Hz(format.SampleRate)}
	for {
		samples, err := reader.ReadSamples()
		if err == io.EOF {
			break
		} else if err != nil {
			return Stereo{}, err
		}
		for _, sample := range samples {
			result.Left = append(result.Left, reader.FloatValue(sample, 0))
			result.Right = append(result.Right, reader.FloatValue(sample, rightChannel))
		}
	}
	return result, nil
}
