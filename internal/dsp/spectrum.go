package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

const adcScale = 2048.0 // 2^11, full scale of the 12-bit converters behind SC16 Q11

// flatnessSegment is the periodogram length SpectralFlatness averages over.
// Averaging many short periodograms narrows the per-bin variance enough that
// white input scores close to 1; a single long periodogram of white noise
// only reaches about 0.56.
const flatnessSegment = 512

// IQSamples converts interleaved signed 16-bit I/Q into complex samples.
// A trailing unpaired value is dropped.
func IQSamples(frame []int16) []complex128 {
	n := len(frame) / 2
	out := make([]complex128, n)
	for i := 0; i < n; i++ {
		out[i] = complex(float64(frame[2*i]), float64(frame[2*i+1]))
	}
	return out
}

// FFTShift returns the FFT output shifted so that DC is centered.
func FFTShift(data []complex128) []complex128 {
	n := len(data)
	if n == 0 {
		return []complex128{}
	}
	half := n / 2
	shifted := append(data[half:], data[:half]...)
	return shifted
}

// SpectrumDBFS returns the Hamming-windowed spectrum of interleaved signed
// 16-bit I/Q, DC-centered, in dBFS relative to the converter full scale.
func SpectrumDBFS(frame []int16) []float64 {
	samples := IQSamples(frame)
	if len(samples) == 0 {
		return []float64{}
	}
	win := Hamming(len(samples))
	return spectrumDBFS(samples, win, windowSum(win), fourier.NewCmplxFFT(len(samples)))
}

// SpectralFlatness scores how evenly energy spreads across the band of one
// interleaved I/Q frame: the ratio of geometric to arithmetic mean of the
// averaged periodogram. 1 means perfectly flat; a tone scores near 0.
func SpectralFlatness(frame []int16) float64 {
	samples := IQSamples(frame)
	seg := flatnessSegment
	if len(samples) < seg {
		seg = len(samples)
	}
	if seg == 0 {
		return 0
	}
	return welchFlatness(samples, fourier.NewCmplxFFT(seg))
}

// FlatnessDB expresses a flatness ratio in decibels; 0 dB is perfectly flat.
func FlatnessDB(ratio float64) float64 {
	if ratio <= 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(ratio)
}

func windowSum(win []float64) float64 {
	sum := 0.0
	for _, v := range win {
		sum += v
	}
	return sum
}

func spectrumDBFS(samples []complex128, win []float64, sumWin float64, plan *fourier.CmplxFFT) []float64 {
	windowed := ApplyWindow(samples, win)
	fft := plan.Coefficients(nil, windowed)
	for i := range fft {
		fft[i] /= complex(sumWin, 0)
	}
	shifted := FFTShift(fft)
	dbfs := make([]float64, len(shifted))
	for i, v := range shifted {
		mag := cmplx.Abs(v)
		if mag == 0 {
			dbfs[i] = math.Inf(-1)
			continue
		}
		dbfs[i] = 20 * math.Log10(mag/adcScale)
	}
	return dbfs
}

// welchFlatness averages one periodogram per plan-sized segment, then takes
// the geometric over arithmetic mean of the averaged bins.
func welchFlatness(samples []complex128, plan *fourier.CmplxFFT) float64 {
	seg := plan.Len()
	if seg == 0 || len(samples) < seg {
		return 0
	}
	power := make([]float64, seg)
	var coeffs []complex128
	segments := 0
	for off := 0; off+seg <= len(samples); off += seg {
		coeffs = plan.Coefficients(coeffs, samples[off:off+seg])
		for i, c := range coeffs {
			power[i] += real(c)*real(c) + imag(c)*imag(c)
		}
		segments++
	}
	for i := range power {
		power[i] /= float64(segments)
	}
	am := stat.Mean(power, nil)
	if am <= 0 {
		return 0
	}
	return stat.GeometricMean(power, nil) / am
}
