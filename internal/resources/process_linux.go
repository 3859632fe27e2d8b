//go:build linux

package resources

import "github.com/prometheus/procfs"

func processSampler() Sampler {
	return func() (float64, uint64, error) {
		p, err := procfs.Self()
		if err != nil {
			return 0, 0, err
		}
		stat, err := p.Stat()
		if err != nil {
			return 0, 0, err
		}
		return stat.CPUTime(), uint64(stat.ResidentMemory()), nil
	}
}
