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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpInverse(t *testing.T) {
	values := []uint64{0, 1, 0x7ff6_1234_5678, math.MaxUint64, 0x8000_0000_0000_0000}
	operands := []uint32{0, 1, 7, 63, 64, 0xff, 0x7fff_ffff, 0x1234_5678}

	for _, op := range Ops {
		t.Run(op.String(), func(t *testing.T) {
			for _, v := range values {
				for _, imm := range operands {
					got := op.Inverse().Apply(op.Apply(v, imm), imm)
					assert.Equal(t, v, got, "value %#x operand %#x", v, imm)
				}
			}
		})
	}
}

func TestOpApply(t *testing.T) {
	tests := []struct {
		op      Op
		v       uint64
		operand uint32
		want    uint64
	}{
		{OpAdd, 1, 2, 3},
		{OpSub, 1, 2, math.MaxUint64},
		{OpXor, 0xff, 0x0f, 0xf0},
		{OpRol, 0x8000_0000_0000_0001, 1, 3},
		{OpRor, 3, 1, 0x8000_0000_0000_0001},
		{OpRol, 1, 64 + 4, 0x10},
		{OpAdd, 0, 0xffff_ffff, math.MaxUint64},
	}

	for _, test := range tests {
		assert.Equal(t, test.want, test.op.Apply(test.v, test.operand), "%s %#x, %#x", test.op, test.v, test.operand)
	}
}

func TestRelocationApplyUndoesGeneratedOrder(t *testing.T) {
	assert := assert.New(t)

	forward := []Transform{{OpAdd, 0x1000}, {OpRol, 13}, {OpXor, 0x5a5a5a}, {OpRor, 200}}
	r := NewRelocation(2, "target", 1)
	for i := len(forward) - 1; i >= 0; i-- {
		r.Transforms = append(r.Transforms, Transform{forward[i].Op.Inverse(), forward[i].Operand})
	}

	addr := uint64(0x7ff6_0000_1234)
	v := r.Apply(addr)
	assert.NotEqual(addr, v)
	for _, f := range forward {
		v = f.Op.Apply(v, f.Operand)
	}
	assert.Equal(addr, v)

	c := r.Clone()
	c.Transforms[0].Operand++
	assert.NotEqual(c.Transforms[0], r.Transforms[0])
}

func TestKeys(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(NameKey("entry"), NameKey("entry"))
	assert.NotEqual(NameKey("entry"), NameKey("entry@1"))

	a := LocalID{Object: 1, Section: 2, Offset: 0}
	assert.NotEqual(a.Key(), LocalID{Object: 1, Section: 2, Whole: true}.Key())
	assert.NotEqual(a.Key(), LocalID{Object: 2, Section: 2}.Key())
	assert.NotEqual(a.Key(), LocalID{Object: 1, Section: 2, Offset: 4}.Key())
	assert.Equal(SectionKey(1, 2), LocalID{Object: 1, Section: 2, Whole: true}.Key())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "function", KindFunction.String())
	assert.Equal(t, "instruction|data", (KindInstruction | KindData).String())
	assert.Equal(t, "none", Kind(0).String())
}

func TestTable(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	tbl := NewTable()
	f := New("f", KindFunction, 0, []byte{0xc3}, Origin{Raw: -1})
	d := New("d", KindData, 8, make([]byte, 8), Origin{Raw: -1})
	tbl.Put(f)
	tbl.Put(d)
	require.Equal(2, tbl.Len())

	got, ok := tbl.LookupName("f")
	require.True(ok)
	assert.Same(f, got)

	g := New("f", KindInstruction, 0, []byte{0x90}, Origin{Raw: -1})
	tbl.Put(g)
	assert.Equal(2, tbl.Len())
	got, _ = tbl.LookupName("f")
	assert.Same(g, got)

	assert.Len(tbl.Kinds(KindData), 1)
	assert.Len(tbl.Kinds(KindAll), 2)
	assert.Empty(tbl.Kinds(KindFunction))

	syms := tbl.Symbols()
	require.Len(syms, 2)
	assert.Less(syms[0].Key, syms[1].Key)

	d.Addr = 0x1000
	assert.Same(d, tbl.ByAddr(0x1000))
	assert.Nil(tbl.ByAddr(0))
	assert.Nil(tbl.ByAddr(0x2000))
}
