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
	"math"
	"math/rand/v2"

	"github.com/goretk/theo/sym"
)

// Bounds on the number of operations in a generated sequence.
const (
	MinTransforms = 3
	MaxTransforms = 6
)

// Sequence is a generated run of reversible operations wrapped in
// pushfq/popfq.
type Sequence struct {
	Code []byte
	// Forward holds the operations in the order the code runs them.
	Forward []sym.Transform
}

// Generate emits between low and high random operations on dst. Operands
// are drawn from [0, 2^31-1] so the sign extended immediate is never
// negative.
func Generate(rng *rand.Rand, dst Operand, low, high int) Sequence {
	n := low + rng.IntN(high-low+1)
	seq := Sequence{Code: []byte{opPushfq}}
	for range n {
		op := sym.Ops[rng.IntN(len(sym.Ops))]
		imm := rng.Uint32N(math.MaxInt32 + 1)
		if op == sym.OpRol || op == sym.OpRor {
			imm &= 0xff
		}
		seq.Code = append(seq.Code, encodeOp(op, imm, dst)...)
		seq.Forward = append(seq.Forward, sym.Transform{Op: op, Operand: imm})
	}
	seq.Code = append(seq.Code, opPopfq)
	return seq
}

// Inverse returns the chain the linker applies to an address so that the
// forward code turns it back into the address: the inverse operations in
// reverse order.
func (q Sequence) Inverse() []sym.Transform {
	inv := make([]sym.Transform, len(q.Forward))
	for i, t := range q.Forward {
		inv[len(q.Forward)-1-i] = sym.Transform{Op: t.Op.Inverse(), Operand: t.Operand}
	}
	return inv
}

// Run computes what the code does to v.
func (q Sequence) Run(v uint64) uint64 {
	for _, t := range q.Forward {
		v = t.Op.Apply(v, t.Operand)
	}
	return v
}
