package vm

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Guest failures. They describe what the program did and never come from
// the instrumentation layer.
var (
	ErrTrap               = errors.New("trap")
	ErrStackUnderflow     = errors.New("stack underflow")
	ErrCycleLimitExceeded = errors.New("cycle limit exceeded")
	ErrCallDepthExceeded  = errors.New("call depth exceeded")
	ErrGuestFailure       = errors.New("guest returned an error from its entry function")
	ErrInvalidTarget      = errors.New("invalid branch target")
	ErrInvalidOpcode      = errors.New("invalid opcode")
	ErrHalted             = errors.New("machine is halted")
)

// ErrOutput wraps failures of the output channel. Unlike the errors above it
// is a host failure.
var ErrOutput = errors.New("output channel failed")

const (
	// DefaultMaxCallDepth bounds recursion.
	DefaultMaxCallDepth = 4096
	// DefaultMaxDataStack bounds the data stack.
	DefaultMaxDataStack = 1 << 16
)

// Options configures a Machine.
type Options struct {
	// Output receives emit and print lines. Nil discards them.
	Output io.Writer
	// MaxCycles stops the machine with ErrCycleLimitExceeded once reached.
	// Zero means unlimited.
	MaxCycles uint64
	// MaxCallDepth defaults to DefaultMaxCallDepth.
	MaxCallDepth int
}

type frame struct {
	name  string
	retPC int
}

// Machine executes one program. It is not safe for concurrent use.
type Machine struct {
	prog *Program
	opts Options
	out  io.Writer

	pc      int
	cycles  uint64
	data    []int64
	frames  []frame
	errFlag bool
	halted  bool
	lineBuf []byte
}

// New creates a machine positioned at the program's entry point with one
// frame for the entry function.
func New(prog *Program, opts Options) *Machine {
	if opts.MaxCallDepth <= 0 {
		opts.MaxCallDepth = DefaultMaxCallDepth
	}
	out := opts.Output
	if out == nil {
		out = io.Discard
	}
	m := &Machine{
		prog: prog,
		opts: opts,
		out:  out,
		pc:   prog.Entry,
	}
	m.frames = append(m.frames, frame{name: prog.SymbolAt(prog.Entry), retPC: -1})
	return m
}

// Cycles returns the number of retired instructions.
func (m *Machine) Cycles() uint64 {
	return m.cycles
}

// CallStack appends the names of the active frames, outermost first, to buf.
// Frames of stripped programs have empty names.
func (m *Machine) CallStack(buf []string) []string {
	for _, f := range m.frames {
		buf = append(buf, f.name)
	}
	return buf
}

// Depth returns the number of active frames.
func (m *Machine) Depth() int {
	return len(m.frames)
}

// Halted reports whether the program has finished.
func (m *Machine) Halted() bool {
	return m.halted
}

// PC returns the address of the next instruction.
func (m *Machine) PC() int {
	return m.pc
}

// DataStack returns a copy of the data stack, bottom first.
func (m *Machine) DataStack() []int64 {
	out := make([]int64, len(m.data))
	copy(out, m.data)
	return out
}

// Run steps until the program halts or fails.
func (m *Machine) Run() error {
	for !m.halted {
		if err := m.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step retires one instruction. Any error halts the machine; the failing
// instruction still costs its cycle, except when the cycle limit is hit.
func (m *Machine) Step() error {
	if m.halted {
		return ErrHalted
	}
	if m.opts.MaxCycles > 0 && m.cycles >= m.opts.MaxCycles {
		m.halted = true
		return fmt.Errorf("%w: %d", ErrCycleLimitExceeded, m.opts.MaxCycles)
	}
	if m.pc < 0 || m.pc >= len(m.prog.Code) {
		m.halted = true
		return fmt.Errorf("%w: pc %d", ErrInvalidTarget, m.pc)
	}

	in := m.prog.Code[m.pc]
	m.cycles++
	if err := m.exec(in); err != nil {
		m.halted = true
		return fmt.Errorf("pc %d (%s): %w", m.pc, in, err)
	}
	return nil
}

func (m *Machine) exec(in Instruction) error {
	next := m.pc + 1

	switch in.Op {
	case OpNop:
	case OpPush:
		if err := m.push(in.Arg); err != nil {
			return err
		}
	case OpPop:
		if _, err := m.pop(); err != nil {
			return err
		}
	case OpDup:
		v, err := m.peek()
		if err != nil {
			return err
		}
		if err := m.push(v); err != nil {
			return err
		}
	case OpSwap:
		if len(m.data) < 2 {
			return ErrStackUnderflow
		}
		n := len(m.data)
		m.data[n-1], m.data[n-2] = m.data[n-2], m.data[n-1]
	case OpAdd, OpSub, OpMul:
		b, err := m.pop()
		if err != nil {
			return err
		}
		a, err := m.pop()
		if err != nil {
			return err
		}
		switch in.Op {
		case OpAdd:
			a += b
		case OpSub:
			a -= b
		case OpMul:
			a *= b
		}
		_ = m.push(a)
	case OpDec:
		if len(m.data) == 0 {
			return ErrStackUnderflow
		}
		m.data[len(m.data)-1]--
	case OpJmp:
		next = int(in.Arg)
	case OpJz, OpJnz:
		v, err := m.pop()
		if err != nil {
			return err
		}
		if (v == 0) == (in.Op == OpJz) {
			next = int(in.Arg)
		}
	case OpJErr:
		if m.errFlag {
			m.errFlag = false
			next = int(in.Arg)
		}
	case OpCall:
		if len(m.frames) >= m.opts.MaxCallDepth {
			return fmt.Errorf("%w: %d", ErrCallDepthExceeded, m.opts.MaxCallDepth)
		}
		target := int(in.Arg)
		m.frames = append(m.frames, frame{
			name:  m.prog.SymbolAt(target),
			retPC: next,
		})
		m.errFlag = false
		next = target
	case OpRet, OpRetErr:
		if len(m.frames) == 1 {
			// Returning from the entry function ends the program; the frame
			// stays so the final observation still sees it.
			m.halted = true
			if in.Op == OpRetErr {
				return ErrGuestFailure
			}
			return nil
		}
		f := m.frames[len(m.frames)-1]
		m.frames = m.frames[:len(m.frames)-1]
		m.errFlag = in.Op == OpRetErr
		next = f.retPC
	case OpEmit:
		if err := m.writeLine(in.Text); err != nil {
			return err
		}
	case OpPrint:
		v, err := m.pop()
		if err != nil {
			return err
		}
		if err := m.writeLine(strconv.FormatInt(v, 10)); err != nil {
			return err
		}
	case OpHalt:
		m.halted = true
		return nil
	case OpTrap:
		if in.Text != "" {
			return fmt.Errorf("%w: %s", ErrTrap, in.Text)
		}
		return ErrTrap
	default:
		return fmt.Errorf("%w: %d", ErrInvalidOpcode, in.Op)
	}

	m.pc = next
	return nil
}

func (m *Machine) push(v int64) error {
	if len(m.data) >= DefaultMaxDataStack {
		return fmt.Errorf("data stack overflow at %d values", len(m.data))
	}
	m.data = append(m.data, v)
	return nil
}

func (m *Machine) pop() (int64, error) {
	if len(m.data) == 0 {
		return 0, ErrStackUnderflow
	}
	v := m.data[len(m.data)-1]
	m.data = m.data[:len(m.data)-1]
	return v, nil
}

func (m *Machine) peek() (int64, error) {
	if len(m.data) == 0 {
		return 0, ErrStackUnderflow
	}
	return m.data[len(m.data)-1], nil
}

// writeLine sends one line in a single Write call.
func (m *Machine) writeLine(s string) error {
	m.lineBuf = append(append(m.lineBuf[:0], s...), '\n')
	if _, err := m.out.Write(m.lineBuf); err != nil {
		return fmt.Errorf("%w: %w", ErrOutput, err)
	}
	return nil
}
