package asm

import (
	"fmt"
	"io"

	"github.com/coral-mesh/cycletrack/internal/vm"
)

// Disassemble writes a listing of prog, one instruction per line, with
// function headers when the program has symbols.
func Disassemble(w io.Writer, prog *vm.Program) error {
	if prog.Name != "" {
		if _, err := fmt.Fprintf(w, ".program %s\n", prog.Name); err != nil {
			return err
		}
	}
	starts := make(map[int]string, len(prog.Symbols))
	for _, s := range prog.Symbols {
		starts[s.Start] = s.Name
	}

	for pc, in := range prog.Code {
		if name, ok := starts[pc]; ok {
			if _, err := fmt.Fprintf(w, "%s:\n", name); err != nil {
				return err
			}
		}
		marker := "  "
		if pc == prog.Entry {
			marker = "=>"
		}
		line := fmt.Sprintf("%s %04d  %s", marker, pc, in)
		if in.Op.Operand() == vm.OperandTarget {
			if name := prog.SymbolAt(int(in.Arg)); name != "" {
				line += " <" + name + ">"
			}
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
