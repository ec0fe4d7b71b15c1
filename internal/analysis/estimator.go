package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/mjibson/go-dsp/fft"

	"avsync-studio/internal/domain"
)

// ErrDegenerateSignal is returned when an analysis window has
// near-zero variance after normalization, e.g. DC-only input.
var ErrDegenerateSignal = errors.New("analysis window is degenerate (near-zero variance)")

// DefaultSearchRangeSeconds bounds the lag search. Real recordings of
// the same event rarely drift further apart than a minute.
const DefaultSearchRangeSeconds = 60.0

const varianceFloor = 1e-10

// EstimateOptions tune one estimator invocation.
type EstimateOptions struct {
	// SearchRangeSeconds bounds the admissible lag to +/- this value.
	// Zero selects the default of 60 seconds.
	SearchRangeSeconds float64
	// Workers caps the goroutines used for the lag scan. Zero selects
	// one per CPU.
	Workers int
}

// Estimate computes the best-alignment lag between the conditioned
// video audio (reference) and external audio (candidate) along with a
// normalized confidence score.
//
// The correlation R[k] = sum_t A[t]*B[t+k] is evaluated over the
// admissible lag range through an FFT, which is numerically equivalent
// to the dense sum up to rounding. Negative lags are bounded by the
// reference length; RangeClamped reports a candidate too short to
// cover the requested positive range. The estimator is stateless and
// may be re-invoked with different search ranges on the same signals.
func Estimate(ctx context.Context, videoAudio, externalAudio Signal, opts EstimateOptions) (domain.SyncResult, error) {
	a := videoAudio.Samples
	b := externalAudio.Samples
	if len(a) == 0 || len(b) == 0 {
		return domain.SyncResult{}, ErrDegenerateSignal
	}
	if videoAudio.SampleRate != externalAudio.SampleRate {
		return domain.SyncResult{}, fmt.Errorf(
			"sample rates differ: %d vs %d; condition the signals first",
			videoAudio.SampleRate, externalAudio.SampleRate)
	}
	rate := videoAudio.SampleRate

	if !hasVariance(a) || !hasVariance(b) {
		return domain.SyncResult{}, ErrDegenerateSignal
	}

	searchRange := opts.SearchRangeSeconds
	if searchRange <= 0 {
		searchRange = DefaultSearchRangeSeconds
	}
	maxLag := int(math.Round(searchRange * float64(rate)))

	// Positive lags need candidate content at t+k, negative lags
	// reference content at t-|k|, so the negative side is inherently
	// bounded by the reference length. The clamp flag fires only when
	// the candidate cannot cover the requested positive range.
	lo := -maxLag
	hi := maxLag
	if lo < -(len(a) - 1) {
		lo = -(len(a) - 1)
	}
	clamped := maxLag > len(b)-1
	if hi > len(b)-1 {
		hi = len(b) - 1
	}

	if err := ctx.Err(); err != nil {
		return domain.SyncResult{}, err
	}

	corr := crossCorrelate(a, b)

	if err := ctx.Err(); err != nil {
		return domain.SyncResult{}, err
	}

	best, err := scanLags(ctx, corr, lo, hi, opts.Workers)
	if err != nil {
		return domain.SyncResult{}, err
	}

	refEnergy, candEnergy := overlapEnergy(a, b, best.lag)
	confidence := 0.0
	if denom := math.Sqrt(refEnergy * candEnergy); denom > 0 {
		confidence = best.value / denom
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return domain.SyncResult{
		LagSeconds:   float64(best.lag) / float64(rate),
		Confidence:   confidence,
		RawPeakValue: best.value,
		SampleRate:   rate,
		RangeClamped: clamped,
	}, nil
}

// hasVariance reports whether the signal carries enough variance to
// correlate at all.
func hasVariance(samples []float64) bool {
	var sum, sumSq float64
	for _, v := range samples {
		sum += v
		sumSq += v * v
	}
	mean := sum / float64(len(samples))
	variance := sumSq/float64(len(samples)) - mean*mean
	return variance > varianceFloor
}

// overlapEnergy sums squares over the region both signals cover when
// the candidate is shifted by lag. Normalizing over the aligned span
// rather than the candidate's full length keeps a perfect match at
// confidence 1 even when the candidate carries search-range seconds of
// extra content past the reference window.
func overlapEnergy(a, b []float64, lag int) (refSum, candSum float64) {
	start := 0
	if lag < 0 {
		start = -lag
	}
	end := len(a)
	if limit := len(b) - lag; limit < end {
		end = limit
	}
	for t := start; t < end; t++ {
		refSum += a[t] * a[t]
		candSum += b[t+lag] * b[t+lag]
	}
	return refSum, candSum
}

// crossCorrelate returns the circular buffer of R[k] values; the value
// for lag k lives at index (k+N)%N where N is the padded FFT length.
func crossCorrelate(a, b []float64) []float64 {
	n := nextPowerOfTwo(len(a) + len(b) - 1)

	fa := make([]complex128, n)
	fb := make([]complex128, n)
	for i, v := range a {
		fa[i] = complex(v, 0)
	}
	for i, v := range b {
		fb[i] = complex(v, 0)
	}

	ffa := fft.FFT(fa)
	ffb := fft.FFT(fb)

	// R[k] = sum_t a[t]*b[t+k] corresponds to IFFT(B * conj(A)) with
	// negative lags wrapped to the top of the buffer.
	prod := make([]complex128, n)
	for i := range prod {
		prod[i] = ffb[i] * complex(real(ffa[i]), -imag(ffa[i]))
	}

	timeDomain := fft.IFFT(prod)
	out := make([]float64, n)
	for i, c := range timeDomain {
		out[i] = real(c)
	}
	return out
}

type lagPeak struct {
	lag   int
	value float64
}

// better implements the deterministic reduction order: larger value
// wins; numerically equal values prefer the lag closest to zero, then
// the smaller lag. The order is total, so merging per-chunk results is
// independent of goroutine scheduling.
func better(candidate, current lagPeak) bool {
	if candidate.value != current.value {
		return candidate.value > current.value
	}
	ca, cu := abs(candidate.lag), abs(current.lag)
	if ca != cu {
		return ca < cu
	}
	return candidate.lag < current.lag
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// scanLags locates the maximal R[k] over [lo, hi], splitting the range
// across workers. Cancellation is honored at chunk boundaries.
func scanLags(ctx context.Context, corr []float64, lo, hi, workers int) (lagPeak, error) {
	if hi < lo {
		return lagPeak{}, fmt.Errorf("empty lag range [%d, %d]", lo, hi)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	total := hi - lo + 1
	if workers > total {
		workers = total
	}

	n := len(corr)
	chunk := (total + workers - 1) / workers
	results := make([]lagPeak, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := lo + w*chunk
		end := start + chunk - 1
		if end > hi {
			end = hi
		}
		wg.Add(1)
		go func(idx, start, end int) {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			best := lagPeak{lag: start, value: math.Inf(-1)}
			for k := start; k <= end; k++ {
				v := corr[((k%n)+n)%n]
				if better(lagPeak{lag: k, value: v}, best) {
					best = lagPeak{lag: k, value: v}
				}
			}
			results[idx] = best
		}(w, start, end)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return lagPeak{}, err
	}

	best := results[0]
	for _, r := range results[1:] {
		if better(r, best) {
			best = r
		}
	}
	return best, nil
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
