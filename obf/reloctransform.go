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

	"golang.org/x/arch/x86/x86asm"

	"github.com/goretk/theo/coff"
	"github.com/goretk/theo/internal/xlog"
	"github.com/goretk/theo/sym"
)

// RelocTransform hides the address loaded by "mov r64, imm64". The linker
// writes a transformed address into the immediate and a sequence appended
// right after the mov turns it back into the real address in the register.
//
// It must run before NextInst, since the sequence has to directly follow the
// instruction.
type RelocTransform struct {
	rng    *rand.Rand
	logger *slog.Logger
}

// NewRelocTransform creates the pass. A nil logger discards output.
func NewRelocTransform(rng *rand.Rand, logger *slog.Logger) *RelocTransform {
	return &RelocTransform{rng: rng, logger: xlog.Or(logger)}
}

func (*RelocTransform) Name() string   { return "reloc-transform" }
func (*RelocTransform) Kind() sym.Kind { return sym.KindInstruction }

// Generic transforms the first real relocation of s when the instruction
// has the supported shape. Other instructions are left untouched.
func (p *RelocTransform) Generic(s *sym.Symbol, _ *sym.Table) error {
	if s.Kind != sym.KindInstruction {
		return nil
	}
	var r *sym.Relocation
	for _, rel := range s.Relocations {
		if !rel.IsSuccessor() && len(rel.Transforms) == 0 {
			r = rel
			break
		}
	}
	if r == nil {
		return nil
	}

	inst, err := x86asm.Decode(s.Bytes, 64)
	if err != nil || inst.Op == 0 {
		p.logger.Debug("leaving relocation untouched", "symbol", s.Name, "reason", "invalid instruction")
		return nil
	}
	if inst.Len != len(s.Bytes) {
		p.logger.Debug("leaving relocation untouched", "symbol", s.Name, "reason", "instruction already extended")
		return nil
	}

	dst, ok := movImm64(inst, r)
	if !ok {
		p.logger.Debug("leaving relocation untouched", "symbol", s.Name, "instruction", inst.String())
		return nil
	}
	op, err := RegOperand(dst)
	if err != nil {
		return err
	}

	seq := Generate(p.rng, op, MinTransforms, MaxTransforms)
	s.Bytes = append(s.Bytes, seq.Code...)
	r.Transforms = append(r.Transforms, seq.Inverse()...)

	p.logger.Info("added transformations to relocation", "symbol", s.Name, "target", r.TargetName, "transforms", len(seq.Forward))
	return nil
}

// movImm64 reports the destination of "mov r64, imm64" when r patches its
// immediate.
func movImm64(inst x86asm.Inst, r *sym.Relocation) (x86asm.Reg, bool) {
	if inst.Op != x86asm.MOV || r.Type != coff.RelAddr64 {
		return 0, false
	}
	dst, ok := inst.Args[0].(x86asm.Reg)
	if !ok || dst < x86asm.RAX || dst > x86asm.R15 {
		return 0, false
	}
	if _, ok := inst.Args[1].(x86asm.Imm); !ok {
		return 0, false
	}
	// REX.W B8+r followed by the immediate.
	if inst.Len != 10 || r.Offset != 2 {
		return 0, false
	}
	return dst, true
}
