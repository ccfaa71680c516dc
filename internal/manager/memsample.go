package manager

import (
	"context"

	"github.com/shirou/gopsutil/v4/mem"
)

// MemorySampler reports host memory utilisation as a fraction in [0,1].
type MemorySampler func(ctx context.Context) (float64, error)

func hostMemorySampler(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent / 100, nil
}
