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
	"log/slog"
	"math/rand/v2"

	"github.com/goretk/theo/coff"
	"github.com/goretk/theo/internal/xlog"
	"github.com/goretk/theo/sym"
)

// NextInst replaces the successor relocation of an instruction with a
// trampoline appended to the instruction:
//
//	push qword [rip+slot]
//	pushfq
//	<3 to 6 operations on qword [rsp+8]>
//	popfq
//	ret
//	slot: dq 0
//
// The linker writes the successor address through the inverse chain into
// slot, so the address only exists in the clear on the stack at run time.
//
// The trampoline is always appended at the current end of the buffer.
// JccRewrite relies on that to point a branch at the trampoline it asks for.
type NextInst struct {
	rng    *rand.Rand
	logger *slog.Logger
}

// NewNextInst creates the pass. A nil logger discards output.
func NewNextInst(rng *rand.Rand, logger *slog.Logger) *NextInst {
	return &NextInst{rng: rng, logger: xlog.Or(logger)}
}

func (*NextInst) Name() string   { return "next-inst" }
func (*NextInst) Kind() sym.Kind { return sym.KindInstruction }

// Generic appends a trampoline for the first successor relocation of s.
func (p *NextInst) Generic(s *sym.Symbol, _ *sym.Table) error {
	if s.Kind != sym.KindInstruction {
		return nil
	}
	if r := successor(s); r != nil {
		p.Append(s, r)
	}
	return nil
}

// Append adds the trampoline for r at the end of s and points r at its slot.
func (p *NextInst) Append(s *sym.Symbol, r *sym.Relocation) {
	seq := Generate(p.rng, StackSlot, MinTransforms, MaxTransforms)

	// The slot follows the sequence and the ret.
	s.Bytes = append(s.Bytes, encodePushRIP(int32(len(seq.Code)+1))...)
	s.Bytes = append(s.Bytes, seq.Code...)
	s.Bytes = append(s.Bytes, opRet)

	r.Offset = uint32(len(s.Bytes))
	r.Type = coff.RelAddr64
	r.Transforms = append(r.Transforms, seq.Inverse()...)
	s.Bytes = append(s.Bytes, make([]byte, 8)...)

	p.logger.Debug("added successor trampoline", "symbol", s.Name, "target", r.TargetName, "transforms", len(seq.Forward))
}

func successor(s *sym.Symbol) *sym.Relocation {
	for _, r := range s.Relocations {
		if r.IsSuccessor() {
			return r
		}
	}
	return nil
}
