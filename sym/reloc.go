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

package sym

import (
	"fmt"
	"math/bits"
)

// Op is a reversible arithmetic operation on a 64-bit value.
type Op uint8

const (
	OpAdd Op = iota
	OpSub
	OpRol
	OpRor
	OpXor
)

// Ops lists every operation.
var Ops = []Op{OpAdd, OpSub, OpRol, OpRor, OpXor}

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpRol:
		return "rol"
	case OpRor:
		return "ror"
	case OpXor:
		return "xor"
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Inverse returns the operation that undoes o for the same operand.
func (o Op) Inverse() Op {
	switch o {
	case OpAdd:
		return OpSub
	case OpSub:
		return OpAdd
	case OpRol:
		return OpRor
	case OpRor:
		return OpRol
	}
	return o
}

// Apply computes what the emitted instruction does to v. Immediates of the
// arithmetic operations are sign extended from 32 bits and rotate counts are
// masked to six bits, as the processor does.
func (o Op) Apply(v uint64, operand uint32) uint64 {
	imm := uint64(int64(int32(operand)))
	count := int(operand & 63)
	switch o {
	case OpAdd:
		return v + imm
	case OpSub:
		return v - imm
	case OpRol:
		return bits.RotateLeft64(v, count)
	case OpRor:
		return bits.RotateLeft64(v, -count)
	case OpXor:
		return v ^ imm
	}
	return v
}

// Transform is one step of a relocation's transform chain.
type Transform struct {
	Op      Op
	Operand uint32
}

func (t Transform) String() string {
	return fmt.Sprintf("%s %#x", t.Op, t.Operand)
}

// Relocation is a pending address fixup in a symbol's bytes.
type Relocation struct {
	// Offset is where the address is written. Zero marks a successor
	// relocation emitted by the instruction passes.
	Offset     uint32
	Target     Key
	TargetName string
	// Type is the COFF relocation type. Synthetic relocations use ADDR64.
	Type       uint16
	Transforms []Transform
}

// NewRelocation creates a relocation against a named target.
func NewRelocation(offset uint32, target string, typ uint16) *Relocation {
	return &Relocation{
		Offset:     offset,
		Target:     NameKey(target),
		TargetName: target,
		Type:       typ,
	}
}

// IsSuccessor reports whether the relocation still carries the successor
// sentinel.
func (r *Relocation) IsSuccessor() bool {
	return r.Offset == 0
}

// Apply threads addr through the transform chain in stored order.
func (r *Relocation) Apply(addr uint64) uint64 {
	for _, t := range r.Transforms {
		addr = t.Op.Apply(addr, t.Operand)
	}
	return addr
}

// Clone returns a deep copy of the relocation.
func (r *Relocation) Clone() *Relocation {
	c := *r
	if r.Transforms != nil {
		c.Transforms = append([]Transform(nil), r.Transforms...)
	}
	return &c
}

func (r *Relocation) String() string {
	return fmt.Sprintf("+%#x -> %s %v", r.Offset, r.TargetName, r.Transforms)
}
