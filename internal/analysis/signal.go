package analysis

import "time"

// CanonicalSampleRate is the rate both signals are brought to before
// correlation. 22.05 kHz keeps the dense lag search tractable while
// retaining enough bandwidth for alignment.
const CanonicalSampleRate = 22050

// Signal is an immutable mono sample sequence at a fixed rate. It is
// produced once by the loader and owned by whichever pipeline stage
// currently holds it; stages never mutate a Signal they received.
type Signal struct {
	Samples    []float64
	SampleRate int
}

// Duration derives the signal length from sample count and rate.
func (s Signal) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(s.Samples)) / float64(s.SampleRate) * float64(time.Second))
}

// Window returns a signal holding at most the first n seconds. When the
// signal is shorter than n seconds the full signal is returned.
func (s Signal) Window(seconds float64) Signal {
	if s.SampleRate <= 0 || seconds <= 0 {
		return s
	}
	limit := int(seconds * float64(s.SampleRate))
	if limit >= len(s.Samples) {
		return s
	}
	return Signal{Samples: s.Samples[:limit], SampleRate: s.SampleRate}
}
