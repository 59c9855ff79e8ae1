package analysis

// Weights of the combined per-beat downbeat score.
const (
	onsetWeight  = 0.7
	chromaWeight = 0.3
)

// EstimateDownbeats returns indices into beatFrames that start a bar.
//
// Each beat is scored by onset strength and beat-synchronous chroma energy;
// the first score peak within the opening bar anchors the grid, which then
// advances by timeSig beats. An empty result means no anchor could be found.
func EstimateDownbeats(env []float64, chroma [][12]float64, beatFrames []int, timeSig int) []int {
	if timeSig <= 0 || len(beatFrames) == 0 {
		return nil
	}
	if len(beatFrames) < timeSig {
		return []int{0}
	}

	var valid []int
	for _, f := range beatFrames {
		if f >= 0 && f < len(env) {
			valid = append(valid, f)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	strength := syncChromaStrength(chroma, valid)
	n := min(len(valid), len(strength))
	if n == 0 {
		return nil
	}

	combined := make([]float64, n)
	for i := range n {
		combined[i] = onsetWeight*env[valid[i]] + chromaWeight*strength[i]
	}

	peaks := FindPeaks(combined, NoHeight, timeSig)
	if len(peaks) == 0 {
		return nil
	}

	first := 0
	if peaks[0] < timeSig {
		first = peaks[0]
	}

	var downbeats []int
	for i := first; i < len(valid); i += timeSig {
		downbeats = append(downbeats, i)
	}
	return downbeats
}

// StrideDownbeats marks every timeSig-th beat starting at the first.
// It assumes the clip starts on a downbeat and is only used when requested explicitly.
func StrideDownbeats(numBeats, timeSig int) []int {
	if numBeats <= 0 || timeSig <= 0 {
		return nil
	}
	if numBeats < timeSig {
		return []int{0}
	}

	var downbeats []int
	for i := 0; i < numBeats; i += timeSig {
		downbeats = append(downbeats, i)
	}
	return downbeats
}
