// Package sdk runs instrumented guest programs from Go code and writes cycle
// tracker annotations from Go code.
//
// Running a program and reading its report:
//
//	import "github.com/coral-mesh/cycletrack/pkg/sdk"
//
//	func main() {
//	    s, err := sdk.New(sdk.Config{Logger: logger})
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    res, err := s.RunFile(ctx, "fib.s", os.Stdout)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    cycles, err := res.CycleTracker("fib")
//	}
//
// With profiling enabled every run also produces a sampled call-stack trace:
//
//	s, err := sdk.New(sdk.Config{
//	    Profiling: sdk.ProfilingConfig{
//	        Enabled:        true,
//	        OutputPath:     "fib.pprof",
//	        SampleInterval: 100,
//	    },
//	})
//
// Reports of every completed run on the same SDK are accumulated and can be
// read with Cumulative. An SDK may be used by concurrent goroutines.
//
// Track, TrackReport and Start write region markers around Go code, for hosts
// that produce annotated output themselves. The closing marker is written on
// every exit path, including panics.
package sdk
