// This file is part of theo.
//
// Copyright (C) 2024 GoRE Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package obf

import (
	"fmt"
	"log/slog"

	"golang.org/x/arch/x86/x86asm"

	"github.com/goretk/theo/coff"
	"github.com/goretk/theo/internal/xlog"
	"github.com/goretk/theo/sym"
)

// InstructionName returns the name of the instruction at offset in fn.
func InstructionName(fn string, offset uint32) string {
	if offset == 0 {
		return fn
	}
	return fmt.Sprintf("%s@%d", fn, offset)
}

// FuncSplit breaks every function into one symbol per instruction. Each
// instruction gets a successor relocation to the next one, except the last.
// The first instruction takes over the function's name and so replaces the
// function in the table.
type FuncSplit struct {
	logger *slog.Logger
}

// NewFuncSplit creates the pass. A nil logger discards output.
func NewFuncSplit(logger *slog.Logger) *FuncSplit {
	return &FuncSplit{logger: xlog.Or(logger)}
}

func (*FuncSplit) Name() string   { return "func-split" }
func (*FuncSplit) Kind() sym.Kind { return sym.KindFunction }

// Generic splits s. Decoding stops at the first byte sequence that does not
// decode to a known instruction, which is treated as the end of the function.
func (p *FuncSplit) Generic(s *sym.Symbol, tbl *sym.Table) error {
	if s.Kind != sym.KindFunction {
		return nil
	}

	var insts []*sym.Symbol
	for off := 0; off < len(s.Bytes); {
		inst, err := x86asm.Decode(s.Bytes[off:], 64)
		if err != nil || inst.Op == 0 {
			break
		}
		end := off + inst.Len

		is := &sym.Symbol{
			Name:   InstructionName(s.Name, uint32(off)),
			Kind:   sym.KindInstruction,
			Offset: uint32(off),
			Bytes:  append([]byte(nil), s.Bytes[off:end]...),
			Origin: s.Origin,
			Parent: s.Name,
		}
		is.Key = sym.NameKey(is.Name)

		for _, r := range s.Relocations {
			if r.Offset < uint32(off) || r.Offset >= uint32(end) {
				continue
			}
			c := r.Clone()
			c.Offset -= uint32(off)
			is.Relocations = append(is.Relocations, c)
		}
		is.Relocations = append(is.Relocations, sym.NewRelocation(0, InstructionName(s.Name, uint32(end)), coff.RelAddr64))

		insts = append(insts, is)
		off = end
	}

	if len(insts) == 0 {
		p.logger.Warn("function did not decode", "function", s.Name)
		return nil
	}

	last := insts[len(insts)-1]
	last.Relocations = last.Relocations[:len(last.Relocations)-1]

	for _, is := range insts {
		tbl.Put(is)
	}
	p.logger.Debug("split function", "function", s.Name, "instructions", len(insts))
	return nil
}
