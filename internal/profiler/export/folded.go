package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/coral-mesh/cycletrack/internal/profiler"
)

// encodeFolded writes one "root;child;leaf cycles" line per distinct stack,
// weighted by the sample interval, in order of first appearance. Samples with
// an empty stack are dropped.
func encodeFolded(w io.Writer, trace *profiler.Trace) error {
	counts := make(map[string]uint64)
	var order []string
	for _, s := range trace.Samples {
		if len(s.Stack) == 0 {
			continue
		}
		names := trace.StackNames(s)
		for i, name := range names {
			names[i] = sanitizeFoldedName(name)
		}
		key := strings.Join(names, ";")
		if _, ok := counts[key]; !ok {
			order = append(order, key)
		}
		counts[key] += trace.SampleInterval
	}

	for _, key := range order {
		if _, err := fmt.Fprintf(w, "%s %d\n", key, counts[key]); err != nil {
			return err
		}
	}
	return nil
}

var foldedReplacer = strings.NewReplacer(";", "_", " ", "_", "\n", "_")

// sanitizeFoldedName removes the separators of the collapsed format.
func sanitizeFoldedName(name string) string {
	return foldedReplacer.Replace(name)
}
