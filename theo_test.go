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

package theo

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"

	"github.com/goretk/theo/coff"
	"github.com/goretk/theo/decomp"
	"github.com/goretk/theo/host"
	"github.com/goretk/theo/internal/emu"
	"github.com/goretk/theo/internal/objtest"
	"github.com/goretk/theo/obf"
	"github.com/goretk/theo/recomp"
	"github.com/goretk/theo/sym"
)

// branchLibrary defines entry, which loads the address of the external
// target and jumps over two nops to its ret when the address is not zero.
func branchLibrary() []byte {
	o := &objtest.Object{Name: "entry.obj", Timestamp: 42}
	o.Sections = []objtest.Section{{
		Name: ".text",
		Data: []byte{
			0x48, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, // mov rax, target
			0x48, 0x85, 0xc0, // test rax, rax
			0x75, 0x02, // jnz 17
			0x90, // nop
			0x90, // nop
			0xc3, // ret
		},
		Characteristics: objtest.Text,
	}}
	o.Func("entry", 1, 0)
	target := o.Extern("target")
	o.Sections[0].Relocs = []objtest.Reloc{{Offset: 2, Symbol: target, Type: coff.RelAddr64}}
	return objtest.Archive(o)
}

func TestComposeBranch(t *testing.T) {
	for seed := range uint64(10) {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			engine, err := obf.Build(obf.DefaultPasses, rand.New(rand.NewPCG(seed, seed)), nil)
			require.NoError(err)

			img := host.NewImage(0x1_4000_0000)
			th := New(branchLibrary(), Link{
				Allocator: img.Allocate,
				Copier:    img.Copy,
				Resolver:  img.Stub,
			}, "entry", WithEngine(engine))

			n, err := th.Decompose()
			require.NoError(err)
			assert.Equal(1, n)
			assert.Equal([]string{"target"}, th.Externals())

			addr, err := th.Compose()
			require.NoError(err)
			require.NotZero(addr)
			assert.Equal(addr, th.Resolve("entry"))
			assert.GreaterOrEqual(th.Table().Len(), 3)
			assert.Len(th.Table().Kinds(sym.KindInstruction), 6)
			assert.Empty(th.Table().Kinds(sym.KindFunction))

			again, err := th.Compose()
			require.NoError(err)
			assert.Equal(addr, again)

			stack, err := img.Allocate(0x1000, coff.ReadWrite)
			require.NoError(err)
			cpu := emu.New(img, stack+0x800)
			require.NoError(cpu.Call(addr, 256))

			assert.Equal(uint64(img.Stub("target")), cpu.Reg(x86asm.RAX))
			assert.True(cpu.Visited(th.Resolve("entry@17")))
			assert.True(cpu.Visited(th.Resolve("entry@13")))
			assert.False(cpu.Visited(th.Resolve("entry@15")))
			assert.False(cpu.Visited(th.Resolve("entry@16")))
		})
	}
}

func TestComposeWithoutPasses(t *testing.T) {
	img := host.NewImage(0x1_4000_0000)
	th := New(branchLibrary(), Link{Allocator: img.Allocate, Copier: img.Copy, Resolver: img.Stub}, "entry")
	_, err := th.Decompose()
	require.NoError(t, err)
	addr, err := th.Compose()
	require.NoError(t, err)

	stack, err := img.Allocate(0x1000, coff.ReadWrite)
	require.NoError(t, err)
	cpu := emu.New(img, stack+0x800)
	require.NoError(t, cpu.Call(addr, 16))
	assert.Equal(t, uint64(img.Stub("target")), cpu.Reg(x86asm.RAX))
	assert.False(t, cpu.Visited(addr+15))
}

func TestMissingEntryMakesNoHostCalls(t *testing.T) {
	assert := assert.New(t)

	var calls int
	th := New(branchLibrary(), Link{
		Allocator: func(uint32, coff.Characteristics) (uintptr, error) { calls++; return 0x1000, nil },
		Copier:    func(uintptr, []byte) error { calls++; return nil },
		Resolver:  func(string) uintptr { calls++; return 0x2000 },
	}, "missing")

	n, err := th.Decompose()
	assert.ErrorIs(err, decomp.ErrEntryNotFound)
	assert.Zero(n)
	assert.Zero(th.Table().Len())

	_, err = th.Compose()
	assert.ErrorIs(err, ErrNotDecomposed)
	assert.Zero(calls)
	assert.Zero(th.Resolve("entry"))
}

func TestComposeUnresolvedExternal(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	engine, err := obf.Build(obf.DefaultPasses, rand.New(rand.NewPCG(1, 1)), nil)
	require.NoError(err)

	img := host.NewImage(0x1_4000_0000)
	th := New(branchLibrary(), Link{
		Allocator: img.Allocate,
		Copier:    img.Copy,
		Resolver:  host.Symbols(map[string]uintptr{"other": 0x1234}, nil),
	}, "entry", WithEngine(engine))
	_, err = th.Decompose()
	require.NoError(err)
	_, err = th.Compose()
	assert.ErrorIs(err, recomp.ErrUnresolvedSymbol)
	assert.Zero(img.Copies())

	sizes := make(map[string]uint32)
	for _, s := range th.Table().Symbols() {
		sizes[s.Name] = s.Size()
	}
	require.Contains(sizes, "entry@13")

	// Retrying only retries the link; the passes do not run again.
	_, err = th.Compose()
	assert.ErrorIs(err, recomp.ErrUnresolvedSymbol)
	for _, s := range th.Table().Symbols() {
		assert.Equal(sizes[s.Name], s.Size(), s.Name)
	}
	assert.Len(th.Table().Symbols(), len(sizes))
}
