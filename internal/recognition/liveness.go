package recognition

// LivenessCheck decides whether the embedding sequence collected in a
// consistency window looks like a live subject rather than a replayed static
// image. Checks run just before an attendance record would be written; a
// rejected window simply keeps the student pending.
type LivenessCheck interface {
	Live(window [][]float32) bool
}

// PassThrough accepts every window.
type PassThrough struct{}

func (PassThrough) Live([][]float32) bool { return true }

// MinVariance rejects windows whose mean pairwise embedding distance falls
// below a floor. A live video feed always carries some frame-to-frame noise;
// (near-)identical embeddings across frames usually mean the exact same image
// was sent repeatedly, e.g. a photo held up to the camera feed.
type MinVariance struct {
	Floor float64
}

func (c MinVariance) Live(window [][]float32) bool {
	if len(window) < 2 {
		return true
	}

	var total float64
	var pairs int
	for i := 0; i < len(window); i++ {
		for j := i + 1; j < len(window); j++ {
			total += L2Distance(window[i], window[j])
			pairs++
		}
	}
	return total/float64(pairs) >= c.Floor
}

// NewLivenessCheck returns the liveness predicate for the configured
// variance floor; zero disables the check.
func NewLivenessCheck(minVariance float64) LivenessCheck {
	if minVariance > 0 {
		return MinVariance{Floor: minVariance}
	}
	return PassThrough{}
}

var (
	_ LivenessCheck = PassThrough{}
	_ LivenessCheck = MinVariance{}
)
