//go:build !linux

package resources

func processSampler() Sampler {
	return func() (float64, uint64, error) { return 0, 0, ErrUnsupported }
}
