package store

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
)

const hostLookupTimeout = 2 * time.Second

var (
	hostOnce sync.Once
	hostDesc string
)

// describeHost returns "hostname (cpu model, N cores)" for the local machine.
// Cycle counts are comparable across hosts; recorded durations are not.
func describeHost() string {
	hostOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), hostLookupTimeout)
		defer cancel()
		hostDesc = lookupHost(ctx)
	})
	return hostDesc
}

func lookupHost(ctx context.Context) string {
	name := runtime.GOOS + "/" + runtime.GOARCH
	if info, err := host.InfoWithContext(ctx); err == nil && info.Hostname != "" {
		name = info.Hostname
	}

	cores := runtime.NumCPU()
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 && infos[0].ModelName != "" {
		return fmt.Sprintf("%s (%s, %d cores)", name, infos[0].ModelName, cores)
	}
	return fmt.Sprintf("%s (%d cores)", name, cores)
}
