/* Package signals contains logic to express and synthesize binaural audio stimuli. *
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
package signals

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"reflect"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/stat"
)

const (
	// FullScaleSinePower is the variance of a sine with amplitude 1.
	FullScaleSinePower Power = 0.5
)

// Hz is cycles per second.
type Hz float64

// Period is the duration of one cycle.
func (h Hz) Period() Seconds {
	return Seconds(1.0 / h)
}

// Samples returns the number of whole samples at this rate during d.
func (h Hz) Samples(d Seconds) int {
	return int(math.Round(float64(d) * float64(h)))
}

// Power is the variance of a signal.
type Power float64

// DB converts p to decibels.
func (p Power) DB() DB {
	return DB(10 * math.Log10(float64(p)))
}

// DB is a level in decibels.
type DB float64

// Gain is the amplitude factor corresponding to d.
func (d DB) Gain() float64 {
	return math.Pow(10, float64(d/20))
}

// Seconds is a point in time.
type Seconds float64

// TimeStretch is the half open interval [FromInclusive, ToExclusive).
type TimeStretch struct {
	FromInclusive Seconds
	ToExclusive   Seconds
}

// Len is the duration of t.
func (t TimeStretch) Len() Seconds {
	return t.ToExclusive - t.FromInclusive
}

// ErrUnknownSampler is returned when a SamplerWrapper names a type this package doesn't know.
var ErrUnknownSampler = errors.New("unknown sampler type")

// Sampler can synthesize a monaural signal for a given time.
type Sampler interface {
	// Sample renders the signal during t at rate.
	Sample(t TimeStretch, rate Hz) (Float64Slice, error)
}

// OnsetShape is the envelope of a signal while it ramps up.
type OnsetShape int

const (
	// Sudden starts at full level.
	Sudden OnsetShape = iota
	// Linear ramps the amplitude from 0 to full level.
	Linear
)

func (o OnsetShape) String() string {
	switch o {
	case Sudden:
		return "Sudden"
	case Linear:
		return "Linear"
	}
	return "Unknown"
}

// Onset silences a signal for Delay, then ramps it up with Shape over Duration.
type Onset struct {
	Shape    OnsetShape
	Delay    Seconds
	Duration Seconds
}

// Filter applies the onset to a signal sampled at rate starting at from.
func (o Onset) Filter(signal Float64Slice, from Seconds, rate Hz) error {
	peakT := o.Delay + o.Duration
	for idx := range signal {
		t := from + Seconds(float64(idx)/float64(rate))
		if t >= peakT {
			return nil
		}
		switch {
		case t < o.Delay:
			signal[idx] = 0
		case o.Shape == Linear:
			signal[idx] *= float64((t - o.Delay) / o.Duration)
		case o.Shape != Sudden:
			return fmt.Errorf("unknown onset shape %v", o.Shape)
		}
	}
	return nil
}

// Tone is a pure tone.
type Tone struct {
	// Onset is the onset of this tone.
	Onset Onset
	// Frequency is the frequency of this tone.
	Frequency Hz
	// Level is the level of this tone compared to a full scale sine.
	Level DB
	// Phase is the phase in radians at time zero.
	Phase float64
}

func (s *Tone) String() string {
	return fmt.Sprintf("%+v", *s)
}

// Sample samples this tone during the provided time stretch, at the provided rate.
func (s Tone) Sample(ts TimeStretch, rate Hz) (Float64Slice, error) {
	result := make(Float64Slice, rate.Samples(ts.Len()))
	gain := s.Level.Gain()
	for idx := range result {
		t := float64(ts.FromInclusive) + float64(idx)/float64(rate)
		result[idx] = gain * math.Sin(2*math.Pi*t*float64(s.Frequency)+s.Phase)
	}
	if err := s.Onset.Filter(result, ts.FromInclusive, rate); err != nil {
		return nil, err
	}
	return result, nil
}

// Noise is white noise limited to [LowerLimit, UpperLimit).
// The same Seed always renders the same noise.
type Noise struct {
	Onset      Onset
	LowerLimit Hz
	UpperLimit Hz
	// Level is relative to a full scale sine.
	Level DB
	Seed  int64
}

func (n *Noise) String() string {
	return fmt.Sprintf("%+v", *n)
}

// Sample renders the noise as one inverse FFT over the whole of ts, so it is periodic in ts.Len().
func (n Noise) Sample(ts TimeStretch, rate Hz) (Float64Slice, error) {
	if n.LowerLimit < 0 {
		return nil, fmt.Errorf("noise lower limit %v is negative", n.LowerLimit)
	}
	if n.UpperLimit <= n.LowerLimit {
		return nil, fmt.Errorf("noise upper limit %v is not above lower limit %v", n.UpperLimit, n.LowerLimit)
	}
	nSamples := rate.Samples(ts.Len())
	if nSamples < 1 {
		return nil, fmt.Errorf("no samples in %v at %v", ts, rate)
	}
	coefficients := make([]complex128, nSamples)
	freqStepHz := Hz(float64(rate) / float64(nSamples))
	fMinIdx := int(math.Round(float64(n.LowerLimit / freqStepHz)))
	fMaxIdx := int(math.Round(float64(n.UpperLimit / freqStepHz)))
	if fMaxIdx > nSamples/2 {
		fMaxIdx = nSamples / 2
	}
	if fMaxIdx <= fMinIdx {
		return nil, fmt.Errorf("noise band [%v, %v) has no frequency bins at %v resolution", n.LowerLimit, n.UpperLimit, freqStepHz)
	}
	r := rand.New(rand.NewSource(n.Seed))
	for i := fMinIdx; i < fMaxIdx; i++ {
		coefficients[i] = complex(r.NormFloat64(), r.NormFloat64())
	}
	samples := fft.IFFT(coefficients)
	result := make(Float64Slice, len(samples))
	for idx := range samples {
		result[idx] = real(samples[idx])
	}
	result.SetDBFS(n.Level)
	if err := n.Onset.Filter(result, ts.FromInclusive, rate); err != nil {
		return nil, err
	}
	return result, nil
}

// Superposition is the sum of its samplers.
type Superposition []Sampler

func (s Superposition) String() string {
	return fmt.Sprintf("%+v", []Sampler(s))
}

// Sample renders every sampler during ts and adds them up.
func (s Superposition) Sample(ts TimeStretch, rate Hz) (Float64Slice, error) {
	result := make(Float64Slice, rate.Samples(ts.Len()))
	for idx, sampler := range s {
		part, err := sampler.Sample(ts, rate)
		if err != nil {
			return nil, err
		}
		if len(part) != len(result) {
			return nil, fmt.Errorf("component %v rendered %v samples, wanted %v", idx, len(part), len(result))
		}
		for sampleIdx, v := range part {
			result[sampleIdx] += v
		}
	}
	return result, nil
}

// SamplerWrapper is the JSON form of a Sampler: the name of its type and its fields.
// A "Superposition" has a list of SamplerWrappers as Params.
type SamplerWrapper struct {
	Type   string
	Params interface{}
}

var (
	typeMap = map[string]reflect.Type{
		reflect.TypeOf(Tone{}).Name():  reflect.TypeOf(Tone{}),
		reflect.TypeOf(Noise{}).Name(): reflect.TypeOf(Noise{}),
	}
)

// Sampler decodes the wrapped sampler.
func (s *SamplerWrapper) Sampler() (Sampler, error) {
	params, err := json.Marshal(s.Params)
	if err != nil {
		return nil, err
	}
	if s.Type == reflect.TypeOf(Superposition{}).Name() {
		components := []SamplerWrapper{}
		if err := json.Unmarshal(params, &components); err != nil {
			return nil, fmt.Errorf("decoding superposition %s: %v", params, err)
		}
		result := make(Superposition, 0, len(components))
		for idx := range components {
			sampler, err := components[idx].Sampler()
			if err != nil {
				return nil, err
			}
			result = append(result, sampler)
		}
		return result, nil
	}
	typ, found := typeMap[s.Type]
	if !found {
		return nil, fmt.Errorf("%w %q", ErrUnknownSampler, s.Type)
	}
	sampler := reflect.New(typ)
	if err := json.Unmarshal(params, sampler.Interface()); err != nil {
		return nil, fmt.Errorf("decoding %s as %v: %v", params, s.Type, err)
	}
	return sampler.Interface().(Sampler), nil
}

// ParseSampler decodes a JSON SamplerWrapper.
func ParseSampler(encoded string) (Sampler, error) {
	wrapper := &SamplerWrapper{}
	if err := json.Unmarshal([]byte(encoded), wrapper); err != nil {
		return nil, err
	}
	return wrapper.Sampler()
}

// Float64Slice is a mono buffer, nominally within [-1, 1].
type Float64Slice []float64

// EqTol reports whether f and o have the same length and differ by at most tol everywhere.
func (f Float64Slice) EqTol(o Float64Slice, tol float64) bool {
	if len(f) != len(o) {
		return false
	}
	for idx, v := range f {
		if math.Abs(v-o[idx]) > tol {
			return false
		}
	}
	return true
}

// Power is the population variance of f.
func (f Float64Slice) Power() Power {
	if len(f) == 0 {
		return 0
	}
	mean := stat.Mean(f, nil)
	sum := 0.0
	for _, v := range f {
		sum += (v - mean) * (v - mean)
	}
	return Power(sum / float64(len(f)))
}

// SetDBFS scales f to d relative to a full scale sine.
func (f Float64Slice) SetDBFS(d DB) {
	f.AddLevel(FullScaleSinePower.DB() - f.Power().DB() + d)
}

// AddLevel amplifies f by d.
func (f Float64Slice) AddLevel(d DB) {
	gain := d.Gain()
	for idx := range f {
		f[idx] *= gain
	}
}
