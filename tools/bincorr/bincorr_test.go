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
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google-research/binaural/tools/synthesize/signals"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func makeSignal(numSamples, numChannels int, seed int64) Signal {
	r := rand.New(rand.NewSource(seed))
	s := NewSignal(numSamples, numChannels)
	for sampleIdx := range s {
		for chanIdx := range s[sampleIdx] {
			s[sampleIdx][chanIdx][Left] = r.Float64()
			s[sampleIdx][chanIdx][Right] = r.Float64()
		}
	}
	return s
}

func constantSignal(numSamples, numChannels int, v float64) Signal {
	s := NewSignal(numSamples, numChannels)
	for sampleIdx := range s {
		for chanIdx := range s[sampleIdx] {
			s[sampleIdx][chanIdx][Left] = v
			s[sampleIdx][chanIdx][Right] = v
		}
	}
	return s
}

// delayedNoise returns half wave rectified noise where the right ear lags the left by itd samples.
func delayedNoise(numSamples, itd int, seed int64) Signal {
	r := rand.New(rand.NewSource(seed))
	pad := itd
	if pad < 0 {
		pad = -pad
	}
	x := make([]float64, numSamples+2*pad)
	for idx := range x {
		x[idx] = math.Max(0, r.NormFloat64())
	}
	s := NewSignal(numSamples, 1)
	for n := range s {
		s[n][0][Left] = x[n+pad]
		s[n][0][Right] = x[n+pad-itd]
	}
	return s
}

// referenceCorrelate computes the correlation by shifting plain slices.
func referenceCorrelate(sig Signal, p Params) Tensor {
	peak := 0.0
	for _, sample := range sig {
		for _, ears := range sample {
			peak = math.Max(peak, math.Max(ears[Left], ears[Right]))
		}
	}
	scale := 1 / (peak + epsilon)
	size := 2*p.MaxLag() + 1
	leftProfile, rightProfile := sensitivityProfiles(size, p.SensitivityFloor, p.SensitivityDecay)
	win, err := p.window(len(sig))
	if err != nil {
		panic(err)
	}
	cs := p.InhibitionFactor
	out := newTensor(win.frames, size, sig.NumChannels())
	for chanIdx := 0; chanIdx < sig.NumChannels(); chanIdx++ {
		l := make([]float64, size)
		r := make([]float64, size)
		acc := make([]float64, size)
		start, end, frame := win.start, win.end, 0
		for sampleIdx := range sig {
			n := sampleIdx + 1
			lOld := append([]float64{}, l...)
			rOld := append([]float64{}, r...)
			for k := 0; k < size-1; k++ {
				l[k] = lOld[k+1] * (1 - cs*rOld[k+1])
			}
			l[size-1] = sig[sampleIdx][chanIdx][Left] * scale
			for k := size - 1; k > 0; k-- {
				r[k] = rOld[k-1] * (1 - cs*lOld[k-1])
			}
			r[0] = sig[sampleIdx][chanIdx][Right] * scale
			if n > start && n <= end {
				for k := range acc {
					lAdj := l[k]*(1-leftProfile[k]) + leftProfile[k]
					rAdj := r[k]*(1-rightProfile[k]) + rightProfile[k]
					acc[k] += lAdj * rAdj * math.Exp(-float64(end-n)/float64(win.length))
				}
			}
			if n == end {
				for k := range acc {
					out[frame][k][chanIdx] = acc[k]
					acc[k] = 0
				}
				frame++
				start += win.length
				end += win.length
			}
		}
	}
	return out
}

func TestMatchesReference(t *testing.T) {
	for _, tc := range []struct {
		name   string
		signal Signal
		params Params
	}{
		{
			name:   "defaults",
			signal: makeSignal(1000, 3, 1),
			params: DefaultParams(8000),
		},
		{
			name:   "strong inhibition, late onset",
			signal: makeSignal(777, 2, 2),
			params: Params{
				SampleRate:          10000,
				InhibitionFactor:    1,
				SensitivityFloor:    0.5,
				SensitivityDecay:    2,
				IntegrationWindowMS: 3.3,
				OnsetOffset:         40,
			},
		},
		{
			name:   "infinite window",
			signal: makeSignal(500, 2, 3),
			params: Params{
				SampleRate:          6000,
				InhibitionFactor:    0.3,
				SensitivityFloor:    0.035,
				SensitivityDecay:    6,
				IntegrationWindowMS: InfiniteWindow,
				OnsetOffset:         17,
			},
		},
		{
			name:   "single worker",
			signal: makeSignal(600, 4, 4),
			params: Params{
				SampleRate:          4000,
				InhibitionFactor:    0.6,
				SensitivityFloor:    0,
				SensitivityDecay:    1,
				IntegrationWindowMS: 10,
				OnsetOffset:         1,
				Workers:             1,
			},
		},
	} {
		got, err := Correlate(tc.signal, tc.params)
		if err != nil {
			t.Fatalf("%v: %v", tc.name, err)
		}
		want := referenceCorrelate(tc.signal, tc.params)
		if diff := cmp.Diff(want, got, cmpopts.EquateApprox(tolerance, tolerance)); diff != "" {
			t.Errorf("%v: correlation differs from reference: %v", tc.name, diff)
		}
	}
}

func TestShape(t *testing.T) {
	for _, tc := range []struct {
		rate       float64
		channels   int
		wantDelays int
	}{
		{
			rate:       8000,
			channels:   1,
			wantDelays: 9,
		},
		{
			rate:       44100,
			channels:   3,
			wantDelays: 45,
		},
		{
			rate:       48000,
			channels:   2,
			wantDelays: 49,
		},
		{
			rate:       800,
			channels:   2,
			wantDelays: 1,
		},
	} {
		p := DefaultParams(signals.Hz(tc.rate))
		p.IntegrationWindowMS = 10
		numSamples := int(tc.rate / 100 * 3)
		got, err := Correlate(makeSignal(numSamples, tc.channels, 5), p)
		if err != nil {
			t.Fatal(err)
		}
		if got.Delays() != tc.wantDelays {
			t.Errorf("Got %v delays at %vHz, wanted %v", got.Delays(), tc.rate, tc.wantDelays)
		}
		if got.Delays() != 2*int(math.Round(tc.rate/2000))+1 {
			t.Errorf("Got %v delays at %vHz, wanted 2*round(fs/2000)+1", got.Delays(), tc.rate)
		}
		if got.Channels() != tc.channels {
			t.Errorf("Got %v channels, wanted %v", got.Channels(), tc.channels)
		}
		if got.MaxLag() != (tc.wantDelays-1)/2 || got.Lag(0) != -got.MaxLag() || got.Lag(got.Delays()-1) != got.MaxLag() {
			t.Errorf("Lags of %v delays run from %v to %v", got.Delays(), got.Lag(0), got.Lag(got.Delays()-1))
		}
	}
}

func TestInfiniteWindowSingleton(t *testing.T) {
	numSamples := 400
	onset := 100
	span := numSamples - onset
	// At 800Hz the delay line has a single position, so each frame is the
	// leak weighted sum of left*right.
	p := Params{
		SampleRate:          800,
		InhibitionFactor:    0.5,
		SensitivityFloor:    0,
		SensitivityDecay:    1,
		IntegrationWindowMS: InfiniteWindow,
		OnsetOffset:         onset,
	}
	previous := 0.0
	for _, at := range []int{onset + 1, onset + 50, onset + 150, numSamples} {
		s := constantSignal(numSamples, 1, 0)
		s[at-1][0][Left] = 1
		s[at-1][0][Right] = 1
		got, err := Correlate(s, p)
		if err != nil {
			t.Fatal(err)
		}
		if got.Frames() != 1 {
			t.Fatalf("Got %v frames for an infinite window, wanted 1", got.Frames())
		}
		want := math.Exp(-float64(numSamples-at) / float64(span))
		if math.Abs(got[0][0][0]-want) > 1e-6 {
			t.Errorf("Impulse at %v produced %v, wanted %v", at, got[0][0][0], want)
		}
		if got[0][0][0] <= previous {
			t.Errorf("Impulse at %v produced %v, not more than the earlier impulse's %v", at, got[0][0][0], previous)
		}
		previous = got[0][0][0]
	}

	s := constantSignal(numSamples, 1, 0)
	s[onset-1][0][Left] = 1
	s[onset-1][0][Right] = 1
	got, err := Correlate(s, p)
	if err != nil {
		t.Fatal(err)
	}
	if got[0][0][0] != 0 {
		t.Errorf("Impulse at the onset offset produced %v, wanted it outside the window", got[0][0][0])
	}
}

func TestSilentEarDisablesInhibition(t *testing.T) {
	s := makeSignal(2000, 2, 6)
	for sampleIdx := range s {
		for chanIdx := range s[sampleIdx] {
			s[sampleIdx][chanIdx][Right] = 0
		}
	}
	inhibited := DefaultParams(16000)
	inhibited.InhibitionFactor = 0.9
	free := inhibited
	free.InhibitionFactor = 0
	want, err := Correlate(s, free)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Correlate(s, inhibited)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Inhibition from a silent ear changed the correlation: %v", diff)
	}
}

func TestParameterRejection(t *testing.T) {
	valid := DefaultParams(8000)
	ragged := makeSignal(1000, 2, 7)
	ragged[10] = ragged[10][:1]
	threeEars := makeSignal(1000, 1, 8)
	threeEars[3][0] = append(threeEars[3][0], 0)
	oneEar := makeSignal(1000, 1, 9)
	oneEar[0][0] = oneEar[0][0][:1]
	negative := makeSignal(1000, 1, 10)
	negative[5][0][Right] = -0.1
	notANumber := makeSignal(1000, 1, 11)
	notANumber[5][0][Left] = math.NaN()
	for _, tc := range []struct {
		name   string
		signal Signal
		modify func(p *Params)
	}{
		{
			name:   "inhibition factor 1.5",
			signal: makeSignal(1000, 1, 12),
			modify: func(p *Params) { p.InhibitionFactor = 1.5 },
		},
		{
			name:   "negative inhibition factor",
			signal: makeSignal(1000, 1, 12),
			modify: func(p *Params) { p.InhibitionFactor = -0.1 },
		},
		{
			name:   "sensitivity floor 1.0",
			signal: makeSignal(1000, 1, 12),
			modify: func(p *Params) { p.SensitivityFloor = 1.0 },
		},
		{
			name:   "sample rate -1",
			signal: makeSignal(1000, 1, 12),
			modify: func(p *Params) { p.SampleRate = -1 },
		},
		{
			name:   "zero sensitivity decay",
			signal: makeSignal(1000, 1, 12),
			modify: func(p *Params) { p.SensitivityDecay = 0 },
		},
		{
			name:   "NaN sensitivity decay",
			signal: makeSignal(1000, 1, 12),
			modify: func(p *Params) { p.SensitivityDecay = math.NaN() },
		},
		{
			name:   "negative integration window",
			signal: makeSignal(1000, 1, 12),
			modify: func(p *Params) { p.IntegrationWindowMS = -5 },
		},
		{
			name:   "integration window shorter than a sample",
			signal: makeSignal(1000, 1, 12),
			modify: func(p *Params) { p.IntegrationWindowMS = 0.01 },
		},
		{
			name:   "zero onset offset",
			signal: makeSignal(1000, 1, 12),
			modify: func(p *Params) { p.OnsetOffset = 0 },
		},
		{
			name:   "shorter than onset and window",
			signal: makeSignal(40, 2, 13),
			modify: func(p *Params) { p.OnsetOffset = 1 },
		},
		{
			name:   "exactly onset and window",
			signal: makeSignal(41, 2, 13),
			modify: func(p *Params) { p.OnsetOffset = 1 },
		},
		{
			name:   "infinite window without room after onset",
			signal: makeSignal(50, 2, 14),
			modify: func(p *Params) {
				p.IntegrationWindowMS = InfiniteWindow
				p.OnsetOffset = 50
			},
		},
		{
			name:   "empty signal",
			signal: Signal{},
			modify: func(p *Params) {},
		},
		{
			name:   "no channels",
			signal: NewSignal(1000, 0),
			modify: func(p *Params) {},
		},
		{
			name:   "ragged channels",
			signal: ragged,
			modify: func(p *Params) {},
		},
		{
			name:   "three ears",
			signal: threeEars,
			modify: func(p *Params) {},
		},
		{
			name:   "one ear",
			signal: oneEar,
			modify: func(p *Params) {},
		},
		{
			name:   "negative sample",
			signal: negative,
			modify: func(p *Params) {},
		},
		{
			name:   "NaN sample",
			signal: notANumber,
			modify: func(p *Params) {},
		},
	} {
		p := valid
		tc.modify(&p)
		got, err := Correlate(tc.signal, p)
		if !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("%v: got error %v, wanted %v", tc.name, err, ErrInvalidParameter)
		}
		if got != nil {
			t.Errorf("%v: got partial output %v", tc.name, got)
		}
	}
}

func TestFrameCount(t *testing.T) {
	// 2000Hz and 50ms gives windows of 100 samples.
	p := DefaultParams(2000)
	p.IntegrationWindowMS = 50
	for _, tc := range []struct {
		numSamples       int
		onset            int
		wantFrames       int
		wantFilledFrames int
	}{
		{
			numSamples:       1000,
			onset:            1,
			wantFrames:       9,
			wantFilledFrames: 9,
		},
		{
			numSamples:       1000,
			onset:            150,
			wantFrames:       9,
			wantFilledFrames: 8,
		},
		{
			numSamples:       1050,
			onset:            1,
			wantFrames:       10,
			wantFilledFrames: 10,
		},
		{
			numSamples:       1001,
			onset:            1,
			wantFrames:       10,
			wantFilledFrames: 10,
		},
		{
			numSamples:       950,
			onset:            849,
			wantFrames:       9,
			wantFilledFrames: 1,
		},
	} {
		p.OnsetOffset = tc.onset
		got, err := Correlate(constantSignal(tc.numSamples, 2, 0.5), p)
		if err != nil {
			t.Fatal(err)
		}
		if got.Frames() != tc.wantFrames {
			t.Errorf("%v samples: got %v frames, wanted %v", tc.numSamples, got.Frames(), tc.wantFrames)
		}
		if filled := (tc.numSamples - tc.onset) / 100; filled != tc.wantFilledFrames {
			t.Fatalf("Test case wants %v filled frames, but floor((L-N1)/T) is %v", tc.wantFilledFrames, filled)
		}
		for frameIdx := range got {
			sum := 0.0
			for delayIdx := range got[frameIdx] {
				for _, v := range got[frameIdx][delayIdx] {
					sum += v
				}
			}
			if frameIdx < tc.wantFilledFrames && sum <= 0 {
				t.Errorf("%v samples, onset %v: frame %v is empty, wanted it filled", tc.numSamples, tc.onset, frameIdx)
			}
			if frameIdx >= tc.wantFilledFrames && sum != 0 {
				t.Errorf("%v samples, onset %v: frame %v has %v, wanted it empty", tc.numSamples, tc.onset, frameIdx, sum)
			}
		}
	}
}

func TestLateralization(t *testing.T) {
	p := Params{
		SampleRate:          16000,
		InhibitionFactor:    0,
		SensitivityFloor:    0,
		SensitivityDecay:    0.25,
		IntegrationWindowMS: InfiniteWindow,
		OnsetOffset:         100,
	}
	for _, tc := range []struct {
		itd      int
		wantSign float64
	}{
		{
			itd:      4,
			wantSign: -1,
		},
		{
			itd:      -4,
			wantSign: 1,
		},
	} {
		got, err := Correlate(delayedNoise(16000, tc.itd, 15), p)
		if err != nil {
			t.Fatal(err)
		}
		peakIdx := 1
		for delayIdx := 1; delayIdx < got.Delays()-1; delayIdx++ {
			if got[0][delayIdx][0] > got[0][peakIdx][0] {
				peakIdx = delayIdx
			}
		}
		if wantLag := -tc.itd / 2; got.Lag(peakIdx) != wantLag {
			t.Errorf("ITD %v: got interior peak at lag %v, wanted %v", tc.itd, got.Lag(peakIdx), wantLag)
		}
		centroid := got.Centroid()[0][0]
		if centroid*tc.wantSign <= 0 {
			t.Errorf("ITD %v: got centroid %v, wanted sign %v", tc.itd, centroid, tc.wantSign)
		}
		ms := got.CentroidMS(p.SampleRate)[0][0]
		if math.Abs(ms-centroid/16) > tolerance {
			t.Errorf("ITD %v: got centroid %vms, wanted %vms", tc.itd, ms, centroid/16)
		}
	}
}

func TestCentroidOfSilence(t *testing.T) {
	tensor := newTensor(2, 5, 3)
	tensor[1][4][2] = 1
	want := [][]float64{{0, 0, 0}, {0, 0, 2}}
	if diff := cmp.Diff(want, tensor.Centroid()); diff != "" {
		t.Errorf("Centroid: %v", diff)
	}
	if diff := cmp.Diff(0.5, tensor.MeanFrame()[4][2]); diff != "" {
		t.Errorf("MeanFrame: %v", diff)
	}
}

func TestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := CorrelateContext(ctx, makeSignal(5000, 4, 16), DefaultParams(8000))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Got error %v, wanted %v", err, context.Canceled)
	}
	if got != nil {
		t.Errorf("Got partial output from a cancelled correlation")
	}
}
