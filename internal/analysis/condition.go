package analysis

import (
	"errors"
	"fmt"
)

// ErrInsufficientSignal is returned when a signal is silent or too
// close to silent to normalize.
var ErrInsufficientSignal = errors.New("insufficient signal: audio is silent or near-silent")

// silenceFloor is the peak amplitude below which a signal is treated
// as silence rather than divided into rounding noise.
const silenceFloor = 1e-6

// DefaultAnalysisWindowSeconds caps how much of each signal is fed to
// the correlator. Early content is usually the most distinctive part.
const DefaultAnalysisWindowSeconds = 30.0

// Condition prepares a video-audio/external-audio pair for correlation.
// Both signals are resampled to the canonical rate and peak-normalized
// over their kept span. The video audio (reference) is cut to the
// analysis window; the external audio (candidate) keeps window plus
// search range seconds, so lags up to the full range stay observable.
func Condition(videoAudio, externalAudio Signal, windowSeconds, searchRangeSeconds float64) (Signal, Signal, error) {
	if windowSeconds <= 0 {
		windowSeconds = DefaultAnalysisWindowSeconds
	}
	if searchRangeSeconds <= 0 {
		searchRangeSeconds = DefaultSearchRangeSeconds
	}

	a, err := conditionOne(videoAudio, windowSeconds)
	if err != nil {
		return Signal{}, Signal{}, fmt.Errorf("video audio: %w", err)
	}
	b, err := conditionOne(externalAudio, windowSeconds+searchRangeSeconds)
	if err != nil {
		return Signal{}, Signal{}, fmt.Errorf("external audio: %w", err)
	}
	return a, b, nil
}

func conditionOne(s Signal, windowSeconds float64) (Signal, error) {
	if len(s.Samples) == 0 || s.SampleRate <= 0 {
		return Signal{}, ErrInsufficientSignal
	}

	resampled := Resample(s, CanonicalSampleRate)
	windowed := resampled.Window(windowSeconds)

	normalized, err := normalize(windowed.Samples)
	if err != nil {
		return Signal{}, err
	}
	return Signal{Samples: normalized, SampleRate: windowed.SampleRate}, nil
}

// normalize divides by the peak absolute amplitude. Silence cannot be
// scaled to a common level and fails instead.
func normalize(samples []float64) ([]float64, error) {
	peak := 0.0
	for _, v := range samples {
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	if peak < silenceFloor {
		return nil, ErrInsufficientSignal
	}

	out := make([]float64, len(samples))
	for i, v := range samples {
		out[i] = v / peak
	}
	return out, nil
}

// Resample converts a signal to the target rate using linear
// interpolation between neighboring source samples. Returns the input
// unchanged when the rates already match.
func Resample(s Signal, targetRate int) Signal {
	if targetRate <= 0 || s.SampleRate == targetRate || len(s.Samples) == 0 {
		return s
	}

	ratio := float64(s.SampleRate) / float64(targetRate)
	outLen := int(float64(len(s.Samples)) / ratio)
	if outLen < 1 {
		outLen = 1
	}

	out := make([]float64, outLen)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(s.Samples)-1 {
			out[i] = s.Samples[len(s.Samples)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = s.Samples[j]*(1-frac) + s.Samples[j+1]*frac
	}
	return Signal{Samples: out, SampleRate: targetRate}
}
