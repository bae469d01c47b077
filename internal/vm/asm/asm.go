// Package asm assembles guest programs for the vm package.
//
// Source is line oriented:
//
//	.program fib              ; optional program name
//	.entry main               ; optional, defaults to main
//	.func main                ; function without instrumentation
//	    push 20
//	    call fib
//	    print
//	    ret
//	.end
//	.func fib report          ; instrumented function, see below
//	loop:   dec
//	    ...
//	.end
//
// Labels end with a colon and may share a line with an instruction. Labels and
// function names live in one program-wide namespace. Comments start with ';'
// outside string literals; strings use Go quoting.
//
// A function declared with "track" or "report" is instrumented at assembly
// time: a cycle-tracker start marker naming the function is emitted as its
// first instruction and the matching end marker is emitted before every ret
// and reterr, so the region closes on all exit paths. "track" selects print
// mode and "report" selects report mode. Labels attached to an exit
// instruction are moved to the inserted end marker. An instrumented function
// must not fall through its .end, and its jumps must stay inside its body.
package asm

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/coral-mesh/cycletrack/internal/safe"
	"github.com/coral-mesh/cycletrack/internal/tracker"
	"github.com/coral-mesh/cycletrack/internal/vm"
)

var (
	ErrSyntax         = errors.New("syntax error")
	ErrUndefinedLabel = errors.New("undefined label")
	ErrDuplicateLabel = errors.New("duplicate label")
	ErrNoEntry        = errors.New("entry function not found")
)

// DefaultEntry is the entry function used when the source has no .entry.
const DefaultEntry = "main"

// Options controls assembly.
type Options struct {
	// Name is used when the source has no .program directive.
	Name string
	// Strip drops the symbol table from the result, so frames of the running
	// program cannot be named.
	Strip bool
}

var (
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)
	labelPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.]*):\s*`)
)

type function struct {
	name         string
	start        int
	end          int
	line         int
	mode         tracker.Mode
	instrumented bool
}

type instruction struct {
	vm.Instruction
	target string
	line   int
	fn     *function
}

type assembler struct {
	name    string
	entry   string
	code    []instruction
	labels  map[string]int
	pending []string
	fn      *function
	symbols []vm.Symbol
	lineNo  int
}

// AssembleFile reads and assembles the program at path. The program name
// defaults to the file name without extension.
func AssembleFile(path string, opts Options) (*vm.Program, error) {
	src, err := safe.ReadFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read program: %w", err)
	}
	if opts.Name == "" {
		base := filepath.Base(path)
		opts.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	prog, err := Assemble(src, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return prog, nil
}

// Assemble assembles src.
func Assemble(src []byte, opts Options) (*vm.Program, error) {
	a := &assembler{
		name:   opts.Name,
		entry:  DefaultEntry,
		labels: make(map[string]int),
	}
	for i, raw := range strings.Split(string(src), "\n") {
		a.lineNo = i + 1
		if err := a.line(stripComment(raw)); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	if a.fn != nil {
		return nil, fmt.Errorf("line %d: %w: function %q has no .end", a.fn.line, ErrSyntax, a.fn.name)
	}
	if len(a.pending) > 0 {
		return nil, fmt.Errorf("%w: label %q outside a function", ErrSyntax, a.pending[0])
	}

	prog := &vm.Program{
		Name:    a.name,
		Code:    make([]vm.Instruction, len(a.code)),
		Symbols: a.symbols,
	}
	for pc, in := range a.code {
		if in.target != "" {
			addr, ok := a.labels[in.target]
			if !ok {
				return nil, fmt.Errorf("line %d: %w: %s", in.line, ErrUndefinedLabel, in.target)
			}
			if err := checkBranch(in, addr); err != nil {
				return nil, fmt.Errorf("line %d: %w", in.line, err)
			}
			in.Arg = int64(addr)
		}
		prog.Code[pc] = in.Instruction
	}

	entry, ok := prog.Lookup(a.entry)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoEntry, a.entry)
	}
	prog.Entry = entry.Start

	if err := prog.Validate(); err != nil {
		return nil, err
	}
	if opts.Strip {
		prog = prog.Stripped()
	}
	return prog, nil
}

func (a *assembler) line(text string) error {
	text = strings.TrimSpace(text)
	for {
		m := labelPattern.FindStringSubmatch(text)
		if m == nil {
			break
		}
		if a.fn == nil {
			return fmt.Errorf("%w: label %q outside a function", ErrSyntax, m[1])
		}
		if err := a.defineLabel(m[1]); err != nil {
			return err
		}
		a.pending = append(a.pending, m[1])
		text = text[len(m[0]):]
	}
	if text == "" {
		return nil
	}

	word, arg := text, ""
	if i := strings.IndexAny(text, " \t"); i >= 0 {
		word, arg = text[:i], strings.TrimSpace(text[i+1:])
	}
	if strings.HasPrefix(word, ".") {
		return a.directive(word, arg)
	}
	return a.instruction(word, arg)
}

func (a *assembler) directive(word, arg string) error {
	fields := strings.Fields(arg)

	switch word {
	case ".program":
		if len(fields) != 1 {
			return fmt.Errorf("%w: .program takes one name", ErrSyntax)
		}
		a.name = fields[0]
	case ".entry":
		if len(fields) != 1 || !identPattern.MatchString(fields[0]) {
			return fmt.Errorf("%w: .entry takes one function name", ErrSyntax)
		}
		a.entry = fields[0]
	case ".func":
		return a.beginFunc(fields)
	case ".end":
		return a.endFunc()
	default:
		return fmt.Errorf("%w: unknown directive %s", ErrSyntax, word)
	}
	return nil
}

func (a *assembler) beginFunc(fields []string) error {
	if a.fn != nil {
		return fmt.Errorf("%w: .func inside function %q", ErrSyntax, a.fn.name)
	}
	if len(fields) < 1 || len(fields) > 2 || !identPattern.MatchString(fields[0]) {
		return fmt.Errorf("%w: expected .func <name> [track|report]", ErrSyntax)
	}

	fn := &function{name: fields[0], start: len(a.code), line: a.lineNo}
	if len(fields) == 2 {
		switch fields[1] {
		case "track":
			fn.mode, fn.instrumented = tracker.ModePrint, true
		case "report":
			fn.mode, fn.instrumented = tracker.ModeReport, true
		default:
			return fmt.Errorf("%w: unknown function attribute %q", ErrSyntax, fields[1])
		}
	}
	if err := a.defineLabel(fn.name); err != nil {
		return err
	}
	a.fn = fn

	if fn.instrumented {
		a.emit(vm.Instruction{Op: vm.OpEmit, Text: tracker.StartMarker(fn.mode, fn.name)}, "")
	}
	return nil
}

func (a *assembler) endFunc() error {
	if a.fn == nil {
		return fmt.Errorf("%w: .end without .func", ErrSyntax)
	}
	if len(a.pending) > 0 {
		return fmt.Errorf("%w: label %q at end of function", ErrSyntax, a.pending[0])
	}
	if len(a.code) == a.fn.start {
		return fmt.Errorf("%w: function %q is empty", ErrSyntax, a.fn.name)
	}
	if a.fn.instrumented && !isTerminator(a.code[len(a.code)-1].Op) {
		return fmt.Errorf("%w: instrumented function %q can fall through .end", ErrSyntax, a.fn.name)
	}
	a.fn.end = len(a.code)
	a.symbols = append(a.symbols, vm.Symbol{Name: a.fn.name, Start: a.fn.start, End: a.fn.end})
	a.fn = nil
	return nil
}

// isTerminator reports whether control never continues to the next address.
func isTerminator(op vm.Opcode) bool {
	switch op {
	case vm.OpRet, vm.OpRetErr, vm.OpJmp, vm.OpHalt, vm.OpTrap:
		return true
	default:
		return false
	}
}

// checkBranch keeps jumps of an instrumented function inside its body. A jump
// elsewhere, or back onto the start marker, would leave the region unbalanced.
func checkBranch(in instruction, addr int) error {
	if in.fn == nil || !in.fn.instrumented {
		return nil
	}
	switch in.Op {
	case vm.OpJmp, vm.OpJz, vm.OpJnz, vm.OpJErr:
	default:
		return nil
	}
	if addr <= in.fn.start || addr >= in.fn.end {
		return fmt.Errorf("%w: %s %s leaves instrumented function %q", ErrSyntax, in.Op, in.target, in.fn.name)
	}
	return nil
}

func (a *assembler) instruction(word, arg string) error {
	if a.fn == nil {
		return fmt.Errorf("%w: instruction %q outside a function", ErrSyntax, word)
	}
	op, ok := vm.LookupOpcode(strings.ToLower(word))
	if !ok {
		return fmt.Errorf("%w: unknown instruction %q", ErrSyntax, word)
	}

	in := vm.Instruction{Op: op}
	var target string
	switch op.Operand() {
	case vm.OperandNone:
		if arg != "" {
			return fmt.Errorf("%w: %s takes no operand", ErrSyntax, op)
		}
	case vm.OperandInt:
		v, err := strconv.ParseInt(arg, 0, 64)
		if err != nil {
			return fmt.Errorf("%w: %s expects an integer: %w", ErrSyntax, op, err)
		}
		in.Arg = v
	case vm.OperandTarget:
		if !identPattern.MatchString(arg) {
			return fmt.Errorf("%w: %s expects a label, got %q", ErrSyntax, op, arg)
		}
		target = arg
	case vm.OperandText, vm.OperandOptText:
		if arg == "" && op.Operand() == vm.OperandOptText {
			break
		}
		s, err := strconv.Unquote(arg)
		if err != nil || !strings.HasPrefix(arg, `"`) {
			return fmt.Errorf("%w: %s expects a quoted string", ErrSyntax, op)
		}
		if strings.ContainsRune(s, '\n') {
			return fmt.Errorf("%w: %s string must be a single line", ErrSyntax, op)
		}
		in.Text = s
	}

	if a.fn.instrumented && (op == vm.OpRet || op == vm.OpRetErr) {
		// The end marker takes over the labels so branches to the exit still
		// close the region.
		a.emit(vm.Instruction{Op: vm.OpEmit, Text: tracker.EndMarker(a.fn.mode, a.fn.name)}, "")
	}
	a.emit(in, target)
	return nil
}

// emit appends an instruction and binds pending labels to it.
func (a *assembler) emit(in vm.Instruction, target string) {
	for _, l := range a.pending {
		a.labels[l] = len(a.code)
	}
	a.pending = a.pending[:0]
	a.code = append(a.code, instruction{Instruction: in, target: target, line: a.lineNo, fn: a.fn})
}

func (a *assembler) defineLabel(name string) error {
	if _, ok := a.labels[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateLabel, name)
	}
	for _, p := range a.pending {
		if p == name {
			return fmt.Errorf("%w: %s", ErrDuplicateLabel, name)
		}
	}
	a.labels[name] = len(a.code)
	return nil
}

// stripComment removes a ';' comment that is not inside a string literal.
func stripComment(line string) string {
	inString, escaped := false, false
	for i, r := range line {
		switch {
		case escaped:
			escaped = false
		case inString && r == '\\':
			escaped = true
		case r == '"':
			inString = !inString
		case r == ';' && !inString:
			return line[:i]
		}
	}
	return line
}
