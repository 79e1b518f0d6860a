package metrics

// sampleRing is a bounded sequence of latency samples in milliseconds.
// When full, the oldest sample is overwritten. Not safe for concurrent use;
// the Aggregator mutex guards it.
type sampleRing struct {
	samples  []float64
	head     int // next write position
	count    int
	capacity int

	dropped int64
}

func newSampleRing(capacity int) *sampleRing {
	if capacity <= 0 {
		capacity = DefaultSampleRetention
	}
	return &sampleRing{
		samples:  make([]float64, capacity),
		capacity: capacity,
	}
}

func (r *sampleRing) push(v float64) {
	if r.count == r.capacity {
		r.dropped++
	} else {
		r.count++
	}
	r.samples[r.head] = v
	r.head = (r.head + 1) % r.capacity
}

// values returns the retained samples, oldest first.
func (r *sampleRing) values() []float64 {
	out := make([]float64, r.count)
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := range r.count {
		out[i] = r.samples[(start+i)%r.capacity]
	}
	return out
}

func (r *sampleRing) mean() float64 {
	if r.count == 0 {
		return 0
	}
	var sum float64
	for _, v := range r.values() {
		sum += v
	}
	return sum / float64(r.count)
}

func (r *sampleRing) clear() {
	r.head = 0
	r.count = 0
	r.dropped = 0
}
