// Package vm implements the deterministic stack machine that runs guest
// programs.
//
// Every retired instruction costs exactly one cycle. The machine exposes its
// cycle count and its call stack so that instrumentation can observe an
// execution without influencing it.
package vm

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"

	"github.com/zeebo/xxh3"
)

// Opcode identifies an instruction.
type Opcode uint8

const (
	OpNop Opcode = iota
	OpPush
	OpPop
	OpDup
	OpSwap
	OpAdd
	OpSub
	OpMul
	OpDec
	OpJmp
	OpJz
	OpJnz
	OpCall
	OpRet
	OpRetErr
	OpJErr
	OpEmit
	OpPrint
	OpHalt
	OpTrap

	opCount
)

var opcodeNames = [opCount]string{
	OpNop:    "nop",
	OpPush:   "push",
	OpPop:    "pop",
	OpDup:    "dup",
	OpSwap:   "swap",
	OpAdd:    "add",
	OpSub:    "sub",
	OpMul:    "mul",
	OpDec:    "dec",
	OpJmp:    "jmp",
	OpJz:     "jz",
	OpJnz:    "jnz",
	OpCall:   "call",
	OpRet:    "ret",
	OpRetErr: "reterr",
	OpJErr:   "jerr",
	OpEmit:   "emit",
	OpPrint:  "print",
	OpHalt:   "halt",
	OpTrap:   "trap",
}

func (op Opcode) String() string {
	if op < opCount {
		return opcodeNames[op]
	}
	return "op(" + strconv.Itoa(int(op)) + ")"
}

// LookupOpcode returns the opcode with the given mnemonic.
func LookupOpcode(name string) (Opcode, bool) {
	for op, n := range opcodeNames {
		if n == name {
			return Opcode(op), true
		}
	}
	return 0, false
}

// Operand describes what an opcode expects as its argument.
type Operand int

const (
	OperandNone    Operand = iota
	OperandInt             // immediate integer
	OperandTarget          // code address
	OperandText            // string constant
	OperandOptText         // optional string constant
)

// Operand returns the kind of argument op takes.
func (op Opcode) Operand() Operand {
	switch op {
	case OpPush:
		return OperandInt
	case OpJmp, OpJz, OpJnz, OpJErr, OpCall:
		return OperandTarget
	case OpEmit:
		return OperandText
	case OpTrap:
		return OperandOptText
	default:
		return OperandNone
	}
}

// Instruction is one decoded instruction. Arg holds the immediate or the
// target address; Text holds the string constant of emit and trap.
type Instruction struct {
	Op   Opcode
	Arg  int64
	Text string
}

func (in Instruction) String() string {
	switch in.Op.Operand() {
	case OperandInt, OperandTarget:
		return fmt.Sprintf("%s %d", in.Op, in.Arg)
	case OperandText:
		return fmt.Sprintf("%s %q", in.Op, in.Text)
	case OperandOptText:
		if in.Text != "" {
			return fmt.Sprintf("%s %q", in.Op, in.Text)
		}
	}
	return in.Op.String()
}

// Symbol names the code range [Start, End) of a function.
type Symbol struct {
	Name  string
	Start int
	End   int
}

// Program is an assembled guest program.
type Program struct {
	Name    string
	Code    []Instruction
	Symbols []Symbol // sorted by Start; nil once stripped
	Entry   int
}

// Validate checks that the entry point and every branch target are in range
// and that symbols are ordered and disjoint.
func (p *Program) Validate() error {
	if len(p.Code) == 0 {
		return fmt.Errorf("program %q has no code", p.Name)
	}
	if p.Entry < 0 || p.Entry >= len(p.Code) {
		return fmt.Errorf("%w: entry %d", ErrInvalidTarget, p.Entry)
	}
	for pc, in := range p.Code {
		if in.Op >= opCount {
			return fmt.Errorf("%w: %d at %d", ErrInvalidOpcode, in.Op, pc)
		}
		if in.Op.Operand() == OperandTarget && (in.Arg < 0 || in.Arg >= int64(len(p.Code))) {
			return fmt.Errorf("%w: %s at %d", ErrInvalidTarget, in, pc)
		}
	}
	prevEnd := 0
	for _, s := range p.Symbols {
		if s.Start < prevEnd || s.End <= s.Start || s.End > len(p.Code) {
			return fmt.Errorf("symbol %q has invalid range [%d, %d)", s.Name, s.Start, s.End)
		}
		prevEnd = s.End
	}
	return nil
}

// SymbolAt returns the name of the function containing addr, or "" when the
// program carries no symbol for it.
func (p *Program) SymbolAt(addr int) string {
	i := sort.Search(len(p.Symbols), func(i int) bool { return p.Symbols[i].End > addr })
	if i < len(p.Symbols) && p.Symbols[i].Start <= addr {
		return p.Symbols[i].Name
	}
	return ""
}

// Lookup returns the symbol with the given name.
func (p *Program) Lookup(name string) (Symbol, bool) {
	for _, s := range p.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

// Stripped returns a copy of p without its symbol table.
func (p *Program) Stripped() *Program {
	out := *p
	out.Symbols = nil
	return &out
}

// Hash returns a stable hex digest of the program's code and entry point.
// Symbols and the program name are not part of the digest, so a stripped
// program hashes like its original.
func (p *Program) Hash() string {
	h := xxh3.New()
	var buf [binary.MaxVarintLen64 + 1]byte
	n := binary.PutUvarint(buf[:], uint64(p.Entry))
	_, _ = h.Write(buf[:n])
	for _, in := range p.Code {
		buf[0] = byte(in.Op)
		n = binary.PutVarint(buf[1:], in.Arg)
		_, _ = h.Write(buf[:n+1])
		if in.Op.Operand() == OperandText || in.Op.Operand() == OperandOptText {
			n = binary.PutUvarint(buf[:], uint64(len(in.Text)))
			_, _ = h.Write(buf[:n])
			_, _ = h.WriteString(in.Text)
		}
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
