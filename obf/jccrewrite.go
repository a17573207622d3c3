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
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/arch/x86/x86asm"

	"github.com/goretk/theo/coff"
	"github.com/goretk/theo/internal/xlog"
	"github.com/goretk/theo/sym"
)

var branches = map[x86asm.Op]bool{
	x86asm.JMP: true, x86asm.JA: true, x86asm.JAE: true, x86asm.JB: true,
	x86asm.JBE: true, x86asm.JE: true, x86asm.JG: true, x86asm.JGE: true,
	x86asm.JL: true, x86asm.JLE: true, x86asm.JNE: true, x86asm.JNO: true,
	x86asm.JNP: true, x86asm.JNS: true, x86asm.JO: true, x86asm.JP: true,
	x86asm.JS: true, x86asm.JRCXZ: true,
}

// JccRewrite redirects relative branches of split functions. The branch
// displacement is rewritten to land on the end of the instruction's buffer,
// a relocation to the original target is added and NextInst appends the
// trampoline for it right there.
//
// Run it after NextInst so the fall through trampoline already directly
// follows the branch.
type JccRewrite struct {
	next   *NextInst
	logger *slog.Logger
}

// NewJccRewrite creates the pass. It appends trampolines through next. A
// nil logger discards output.
func NewJccRewrite(next *NextInst, logger *slog.Logger) *JccRewrite {
	return &JccRewrite{next: next, logger: xlog.Or(logger)}
}

func (*JccRewrite) Name() string   { return "jcc-rewrite" }
func (*JccRewrite) Kind() sym.Kind { return sym.KindInstruction }

// Generic rewrites s if it is a branch with a non-zero displacement.
func (p *JccRewrite) Generic(s *sym.Symbol, _ *sym.Table) error {
	if s.Kind != sym.KindInstruction || s.Parent == "" {
		return nil
	}
	inst, err := x86asm.Decode(s.Bytes, 64)
	if err != nil || inst.Op == 0 || !branches[inst.Op] {
		return nil
	}
	rel, ok := inst.Args[0].(x86asm.Rel)
	if !ok || rel == 0 || inst.PCRel == 0 {
		return nil
	}

	target := int64(s.Offset) + int64(inst.Len) + int64(rel)
	if target < 0 {
		return fmt.Errorf("%w: %s jumps to %d", ErrBranchTarget, s.Name, target)
	}

	// The trampoline starts where the buffer currently ends.
	disp := int64(len(s.Bytes)) - int64(inst.Len)
	field := s.Bytes[inst.PCRelOff : inst.PCRelOff+inst.PCRel]
	switch inst.PCRel {
	case 1:
		if disp > math.MaxInt8 {
			return fmt.Errorf("%w: %s needs %d", ErrDisplacementOverflow, s.Name, disp)
		}
		field[0] = byte(int8(disp))
	case 2:
		if disp > math.MaxInt16 {
			return fmt.Errorf("%w: %s needs %d", ErrDisplacementOverflow, s.Name, disp)
		}
		binary.LittleEndian.PutUint16(field, uint16(disp))
	case 4:
		if disp > math.MaxInt32 {
			return fmt.Errorf("%w: %s needs %d", ErrDisplacementOverflow, s.Name, disp)
		}
		binary.LittleEndian.PutUint32(field, uint32(disp))
	default:
		return fmt.Errorf("%w: %s has a %d byte displacement", ErrDisplacementOverflow, s.Name, inst.PCRel)
	}

	r := sym.NewRelocation(0, InstructionName(s.Parent, uint32(target)), coff.RelAddr64)
	s.Relocations = append(s.Relocations, r)
	p.next.Append(s, r)

	p.logger.Debug("rewrote branch", "symbol", s.Name, "target", r.TargetName)
	return nil
}
