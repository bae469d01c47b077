package tracker

import (
	"bytes"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// Annotation prefixes, matched at the start of a line.
const (
	PrefixStart       = "cycle-tracker-start:"
	PrefixEnd         = "cycle-tracker-end:"
	PrefixReportStart = "cycle-tracker-report-start:"
	PrefixReportEnd   = "cycle-tracker-report-end:"
)

// StartMarker returns the annotation line, without newline, that opens a
// region.
func StartMarker(mode Mode, label string) string {
	if mode == ModeReport {
		return PrefixReportStart + " " + label
	}
	return PrefixStart + " " + label
}

// EndMarker returns the annotation line, without newline, that closes a
// region.
func EndMarker(mode Mode, label string) string {
	if mode == ModeReport {
		return PrefixReportEnd + " " + label
	}
	return PrefixEnd + " " + label
}

type markerKind int

const (
	markerNone markerKind = iota
	markerStart
	markerEnd
)

// parseMarker classifies a line. Labels are trimmed and must be non-empty.
func parseMarker(line string) (kind markerKind, mode Mode, label string) {
	var rest string
	switch {
	case strings.HasPrefix(line, PrefixReportStart):
		kind, mode, rest = markerStart, ModeReport, line[len(PrefixReportStart):]
	case strings.HasPrefix(line, PrefixReportEnd):
		kind, mode, rest = markerEnd, ModeReport, line[len(PrefixReportEnd):]
	case strings.HasPrefix(line, PrefixStart):
		kind, mode, rest = markerStart, ModePrint, line[len(PrefixStart):]
	case strings.HasPrefix(line, PrefixEnd):
		kind, mode, rest = markerEnd, ModePrint, line[len(PrefixEnd):]
	default:
		return markerNone, 0, ""
	}
	label = strings.TrimSpace(rest)
	if label == "" {
		return markerNone, 0, ""
	}
	return kind, mode, label
}

// Scanner turns annotation lines from a guest's output into region events.
// It is an io.Writer so it can sit directly on the guest output channel;
// lines that are not annotations are forwarded unchanged to the passthrough
// writer.
type Scanner struct {
	counter     Counter
	recorder    Recorder
	passthrough io.Writer
	logger      zerolog.Logger

	stack    RegionStack
	partial  []byte
	warnings []*Warning
}

// NewScanner creates a scanner reading cycles from clock and sending closed
// report-mode regions to recorder. passthrough may be nil to drop ordinary
// output.
func NewScanner(clock Clock, recorder Recorder, passthrough io.Writer, logger zerolog.Logger) *Scanner {
	if passthrough == nil {
		passthrough = io.Discard
	}
	return &Scanner{
		counter:     NewCounter(clock),
		recorder:    recorder,
		passthrough: passthrough,
		logger:      logger.With().Str("component", "cycle_tracker").Logger(),
	}
}

// Write implements io.Writer. Complete lines are handled immediately; a
// trailing partial line is buffered until its newline arrives or Flush is
// called. Errors from the passthrough writer are returned.
func (s *Scanner) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			s.partial = append(s.partial, p...)
			break
		}

		var line []byte
		if len(s.partial) > 0 {
			s.partial = append(s.partial, p[:i]...)
			line = s.partial
		} else {
			line = p[:i]
		}
		p = p[i+1:]

		if err := s.handle(line, true); err != nil {
			s.partial = s.partial[:0]
			return n - len(p), err
		}
		s.partial = s.partial[:0]
	}
	return n, nil
}

// Flush handles a buffered partial line, if any.
func (s *Scanner) Flush() error {
	if len(s.partial) == 0 {
		return nil
	}
	line := s.partial
	s.partial = nil
	return s.handle(line, false)
}

func (s *Scanner) handle(line []byte, newline bool) error {
	if s.HandleLine(string(line)) {
		return nil
	}
	if _, err := s.passthrough.Write(line); err != nil {
		return err
	}
	if newline {
		if _, err := s.passthrough.Write([]byte{'\n'}); err != nil {
			return err
		}
	}
	return nil
}

// HandleLine processes one line without its newline and reports whether it
// was an annotation. Annotations are consumed; other lines are left to the
// caller.
func (s *Scanner) HandleLine(line string) bool {
	line = strings.TrimSuffix(line, "\r")
	kind, mode, label := parseMarker(line)
	switch kind {
	case markerStart:
		s.open(label, mode)
		return true
	case markerEnd:
		s.close(label, mode)
		return true
	default:
		return false
	}
}

func (s *Scanner) open(label string, mode Mode) {
	r := s.stack.Push(label, mode, s.counter.Now())
	s.logger.Trace().
		Str("label", label).
		Stringer("mode", mode).
		Int("depth", r.Depth).
		Uint64("cycle", r.StartCycle).
		Msg("Region opened")
}

func (s *Scanner) close(label string, mode Mode) {
	now := s.counter.Now()

	top, ok := s.stack.Top()
	if !ok || top.Name != label || top.Mode != mode {
		w := &Warning{
			Kind:  ErrUnmatchedCloseMarker,
			Label: label,
			Mode:  mode,
			Cycle: now,
		}
		if ok {
			w.Expected = top.Name
		}
		s.warnings = append(s.warnings, w)
		s.logger.Warn().
			Str("label", label).
			Stringer("mode", mode).
			Str("innermost", w.Expected).
			Uint64("cycle", now).
			Msg("Ignoring unmatched cycle tracker end marker")
		return
	}

	s.stack.Pop()
	cycles := s.counter.Since(top.StartCycle)

	switch mode {
	case ModePrint:
		s.logger.Info().
			Str("label", label).
			Uint64("cycles", cycles).
			Int("depth", top.Depth).
			Msgf("%s: %d cycles", label, cycles)
	case ModeReport:
		s.recorder.Record(RegionDelta{Name: label, Cycles: cycles})
		s.logger.Debug().
			Str("label", label).
			Uint64("cycles", cycles).
			Int("depth", top.Depth).
			Msg("Region recorded")
	}
}

// Depth returns the number of open regions.
func (s *Scanner) Depth() int {
	return s.stack.Len()
}

// Finish ends the run: every region still open becomes an
// ErrUnterminatedRegion warning and contributes no cycles. The open regions
// are returned outermost first.
func (s *Scanner) Finish() []Region {
	now := s.counter.Now()
	open := s.stack.Drain()
	for _, r := range open {
		s.warnings = append(s.warnings, &Warning{
			Kind:  ErrUnterminatedRegion,
			Label: r.Name,
			Mode:  r.Mode,
			Cycle: now,
		})
		s.logger.Warn().
			Str("label", r.Name).
			Stringer("mode", r.Mode).
			Int("depth", r.Depth).
			Uint64("start_cycle", r.StartCycle).
			Msg("Region was never closed, dropping it")
	}
	return open
}

// Discard drops every open region without warnings, for aborted runs.
func (s *Scanner) Discard() {
	dropped := s.stack.Drain()
	s.partial = nil
	if len(dropped) > 0 {
		s.logger.Debug().Int("regions", len(dropped)).Msg("Discarded open regions of aborted run")
	}
}

// Warnings returns the warnings collected so far.
func (s *Scanner) Warnings() []*Warning {
	return s.warnings
}
