package filter

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/google-research/binaural/tools/synthesize/signals"
	"github.com/mjibson/go-dsp/fft"
)

// ErrUnstable is returned when making a filter with a pole outside the unit circle.
var ErrUnstable = errors.New("unstable filter")

// LTIConf describes a linear time invariant filter as gain, poles and zeros of H(z).
type LTIConf struct {
	Gain  float64
	Poles []complex128
	Zeros []complex128
}

// Make returns a filter with empty history realizing l.
func (l LTIConf) Make() (*LTI, error) {
	if !l.Causal() {
		return nil, fmt.Errorf("anti-causal: %v zeros and %v poles", len(l.Zeros), len(l.Poles))
	}
	if !l.Stable() {
		return nil, fmt.Errorf("%w: poles %v", ErrUnstable, l.Poles)
	}
	b := expand(l.Zeros)
	for i := range b {
		b[i] *= complex(l.Gain, 0)
	}
	return &LTI{
		b:     b,
		a:     expand(l.Poles),
		delay: len(l.Poles) - len(l.Zeros),
		x:     make([]complex128, len(l.Poles)+1),
		y:     make([]complex128, len(l.Poles)+1),
	}, nil
}

// Stable reports whether all poles are strictly inside the unit circle.
func (l LTIConf) Stable() bool {
	for _, p := range l.Poles {
		if cmplx.Abs(p) >= 1 {
			return false
		}
	}
	return true
}

// Causal reports whether l has no more zeros than poles.
func (l LTIConf) Causal() bool {
	return len(l.Zeros) <= len(l.Poles)
}

// Convolve filters s circularly in the frequency domain.
func (l LTIConf) Convolve(s []complex128) []complex128 {
	spectrum := fft.FFT(s)
	step := 2 * math.Pi / float64(len(spectrum))
	for bin := range spectrum {
		spectrum[bin] *= l.H(cmplx.Rect(1, step*float64(bin)))
	}
	return fft.IFFT(spectrum)
}

// H evaluates the transfer function at z.
func (l LTIConf) H(z complex128) complex128 {
	num := complex(l.Gain, 0)
	for _, q := range l.Zeros {
		num *= z - q
	}
	den := complex128(1)
	for _, p := range l.Poles {
		den *= z - p
	}
	return num / den
}

// Z returns the point on the unit circle for frequency f at the given rate.
func Z(f, rate signals.Hz) complex128 {
	return cmplx.Exp(complex(0, 2*math.Pi*float64(f/rate)))
}

// ERB returns the equivalent rectangular bandwidth of the auditory filter at f,
// according to Glasberg and Moore (1990).
func ERB(f signals.Hz) signals.Hz {
	return 24.7 * (4.37*f/1000 + 1)
}

func erbRate(f signals.Hz) float64 {
	return 21.4 * math.Log10(4.37*float64(f)/1000+1)
}

func erbRateInverse(e float64) signals.Hz {
	return signals.Hz((math.Pow(10, e/21.4) - 1) * 1000 / 4.37)
}

// ERBSpace returns num frequencies from low to high, inclusive, equally spaced on the ERB-rate scale.
func ERBSpace(low, high signals.Hz, num int) []signals.Hz {
	if num < 1 {
		return nil
	}
	if num == 1 {
		return []signals.Hz{low}
	}
	lowRate := erbRate(low)
	step := (erbRate(high) - lowRate) / float64(num-1)
	res := make([]signals.Hz, num)
	for i := range res {
		res[i] = erbRateInverse(lowRate + step*float64(i))
	}
	res[0], res[num-1] = low, high
	return res
}

// Gammatone returns an approximate gammatone filter of the given order centered on fc:
// order coincident complex one pole filters with bandwidth 1.019 ERB(fc).
//
// The real part of the output has unit gain at fc.
func Gammatone(fc, rate signals.Hz, order int) (LTIConf, error) {
	if order < 1 {
		return LTIConf{}, fmt.Errorf("gammatone order %v must be positive", order)
	}
	if fc <= 0 || fc >= rate/2 {
		return LTIConf{}, fmt.Errorf("gammatone center frequency %v must be in (0, %v)", fc, rate/2)
	}
	bandwidth := 1.019 * ERB(fc)
	pole := complex(math.Exp(-2*math.Pi*float64(bandwidth/rate)), 0) * Z(fc, rate)
	conf := LTIConf{
		Gain:  1,
		Poles: make([]complex128, order),
		Zeros: make([]complex128, order),
	}
	for i := range conf.Poles {
		conf.Poles[i] = pole
	}
	conf.Gain = 2 / cmplx.Abs(conf.H(Z(fc, rate)))
	return conf, nil
}

// Lowpass returns order coincident real one pole filters with the given cutoff and unit DC gain.
func Lowpass(cutoff, rate signals.Hz, order int) (LTIConf, error) {
	if order < 1 {
		return LTIConf{}, fmt.Errorf("lowpass order %v must be positive", order)
	}
	if cutoff <= 0 || cutoff >= rate/2 {
		return LTIConf{}, fmt.Errorf("lowpass cutoff %v must be in (0, %v)", cutoff, rate/2)
	}
	pole := math.Exp(-2 * math.Pi * float64(cutoff/rate))
	conf := LTIConf{
		Gain:  math.Pow(1-pole, float64(order)),
		Poles: make([]complex128, order),
		Zeros: make([]complex128, order),
	}
	for i := range conf.Poles {
		conf.Poles[i] = complex(pole, 0)
	}
	return conf, nil
}

// LTI is a direct form filter made by LTIConf.Make.
type LTI struct {
	// b and a are the numerator and denominator in powers of z^-1, a[0] is 1.
	b, a []complex128
	// delay is the number of samples between the input and the first numerator tap.
	delay int
	// x and y are input and output history rings, newest at pos.
	x, y []complex128
	pos  int
}

func (l *LTI) past(ring []complex128, d int) complex128 {
	return ring[(l.pos-d+len(ring))%len(ring)]
}

// Y feeds x to the filter and returns the next output.
//
//	y[t] = sum_i b[i] x[t-delay-i] - sum_{i>0} a[i] y[t-i]
func (l *LTI) Y(x complex128) complex128 {
	l.pos = (l.pos + 1) % len(l.x)
	l.x[l.pos] = x
	res := complex128(0)
	for i, b := range l.b {
		res += b * l.past(l.x, l.delay+i)
	}
	for i := 1; i < len(l.a); i++ {
		res -= l.a[i] * l.past(l.y, i)
	}
	l.y[l.pos] = res
	return res
}

// Filter feeds a real signal to the filter and returns the real part of the output.
func (l *LTI) Filter(s []float64) []float64 {
	res := make([]float64, len(s))
	for i, x := range s {
		res[i] = real(l.Y(complex(x, 0)))
	}
	return res
}

// Reset clears the filter history.
func (l *LTI) Reset() {
	for i := range l.x {
		l.x[i], l.y[i] = 0, 0
	}
	l.pos = 0
}

// expand returns c such that (1 - r0 x)(1 - r1 x)...(1 - rn x) = c0 + c1 x + ... + cn x^n.
func expand(roots []complex128) []complex128 {
	c := []complex128{1}
	for _, r := range roots {
		next := make([]complex128, len(c)+1)
		for i, v := range c {
			next[i] += v
			next[i+1] -= r * v
		}
		c = next
	}
	return c
}
