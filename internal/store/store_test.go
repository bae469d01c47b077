package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/cycletrack/internal/executor"
	"github.com/coral-mesh/cycletrack/internal/store"
	"github.com/coral-mesh/cycletrack/internal/testutil"
	"github.com/coral-mesh/cycletrack/internal/tracker"
	"github.com/coral-mesh/cycletrack/internal/vm"
	"github.com/coral-mesh/cycletrack/internal/vm/asm"
)

func result(program, hash string, started time.Time, totals map[string]uint64) *executor.Result {
	return &executor.Result{
		Program:     program,
		ProgramHash: hash,
		StartedAt:   started,
		Duration:    1500 * time.Microsecond,
		TotalCycles: 5000,
		Report:      tracker.ExecutionReport{CycleTracker: totals},
	}
}

func TestFromResult(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 999, time.FixedZone("X", 3600))
	res := result("fib", "abc", started, map[string]uint64{"fib": 10})
	res.GuestErr = vm.ErrTrap
	res.Warnings = []*tracker.Warning{{Kind: tracker.ErrUnterminatedRegion, Label: "x"}}
	res.TracePath = "/tmp/fib.pprof"

	run := store.FromResult(res)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "fib", run.Program)
	assert.Equal(t, "abc", run.ProgramHash)
	assert.Equal(t, time.UTC, run.StartedAt.Location())
	assert.Zero(t, run.StartedAt.Nanosecond()%1000, "truncated to microseconds")
	assert.Equal(t, 1500*time.Microsecond, run.Duration())
	assert.Equal(t, int32(1), run.Warnings)
	assert.Equal(t, vm.ErrTrap.Error(), run.GuestError)
	assert.Equal(t, "/tmp/fib.pprof", run.TracePath)

	assert.NotEqual(t, run.ID, store.FromResult(res).ID)
}

func TestStore_CumulativeReport(t *testing.T) {
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	s := testutil.NewTestStore(t)

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveRun(ctx, store.FromResult(result("compute", "h1", base,
		map[string]uint64{"compute": 1000, "setup": 5}))))
	require.NoError(t, s.SaveRun(ctx, store.FromResult(result("compute", "h1", base.Add(time.Second),
		map[string]uint64{"compute": 1000}))))
	require.NoError(t, s.SaveRun(ctx, store.FromResult(result("other", "h2", base.Add(2*time.Second),
		map[string]uint64{"compute": 7}))))

	report, err := s.CumulativeReport(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"compute": 2000, "setup": 5}, report.CycleTracker)

	all, err := s.CumulativeReport(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(2007), all.CycleTracker["compute"])

	none, err := s.CumulativeReport(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none.CycleTracker)
	_, err = none.Cycles("compute")
	assert.ErrorIs(t, err, tracker.ErrLabelNotRecorded)
}

func TestStore_ListRuns(t *testing.T) {
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	s := testutil.NewTestStore(t)

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := range 3 {
		res := result("compute", "h1", base.Add(time.Duration(i)*time.Minute),
			map[string]uint64{"compute": uint64(100 * (i + 1))})
		require.NoError(t, s.SaveRun(ctx, store.FromResult(res)))
	}
	require.NoError(t, s.SaveRun(ctx, store.FromResult(result("empty", "h2", base, nil))))

	runs, err := s.ListRuns(ctx, "h1", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, base.Add(2*time.Minute).Equal(runs[0].StartedAt), "newest first")
	assert.Equal(t, uint64(300), runs[0].Report.CycleTracker["compute"])
	assert.Equal(t, uint64(200), runs[1].Report.CycleTracker["compute"])
	assert.Equal(t, uint64(5000), runs[0].TotalCycles)
	assert.Equal(t, 1500*time.Microsecond, runs[0].Duration())
	assert.NotEmpty(t, runs[0].Host)
	assert.Contains(t, runs[0].Host, "cores)")

	all, err := s.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	empty, err := s.ListRuns(ctx, "h2", 10)
	require.NoError(t, err)
	require.Len(t, empty, 1)
	assert.Empty(t, empty[0].Report.CycleTracker)

	n, err := s.CountRuns(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestStore_SaveRunAssignsIDAndTime(t *testing.T) {
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	s := testutil.NewTestStore(t)

	run := &store.Run{Program: "p", ProgramHash: "h"}
	require.NoError(t, s.SaveRun(ctx, run))
	assert.NotEmpty(t, run.ID)
	assert.False(t, run.StartedAt.IsZero())

	err := s.SaveRun(ctx, run)
	require.Error(t, err, "duplicate run id")
	n, err := s.CountRuns(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_ConcurrentSaves(t *testing.T) {
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	s := testutil.NewTestStore(t)

	g, gctx := errgroup.WithContext(ctx)
	for range 8 {
		g.Go(func() error {
			return s.SaveRun(gctx, store.FromResult(result("compute", "h", time.Now(),
				map[string]uint64{"compute": 1000})))
		})
	}
	require.NoError(t, g.Wait())

	report, err := s.CumulativeReport(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, uint64(8000), report.CycleTracker["compute"])
}

func TestStore_RecordsExecutorRun(t *testing.T) {
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	s := testutil.NewTestStore(t)

	prog, err := asm.Assemble([]byte(`
.func work report
    push 3
loop:
    dec
    dup
    jnz loop
    pop
    ret
.end
.func main
    call work
    call work
    halt
.end
`), asm.Options{Name: "work"})
	require.NoError(t, err)

	exec := executor.New(testutil.NewTestLogger(t))
	for range 2 {
		res, err := exec.Run(ctx, prog, executor.Options{})
		require.NoError(t, err)
		require.NoError(t, s.SaveRun(ctx, store.FromResult(res)))
	}

	single, err := exec.Run(ctx, prog, executor.Options{})
	require.NoError(t, err)
	want, err := single.Report.Cycles("work")
	require.NoError(t, err)

	report, err := s.CumulativeReport(ctx, prog.Hash())
	require.NoError(t, err)
	assert.Equal(t, 2*want, report.CycleTracker["work"])
}

func TestStore_SaveRunCancelled(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.SaveRun(ctx, store.FromResult(result("p", "h", time.Now(), nil)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
