package process

// PeakStorage defines what we need from our storage backend to keep peak
// counters between runs
type PeakStorage interface {
	LoadPeaks() (map[int]int64, error)
	SavePeaks(peaks map[int]int64) error
}
