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

package emu

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

// flat is memory starting at base.
type flat struct {
	base uintptr
	data []byte
}

func (f *flat) Read(addr uintptr, n int) ([]byte, error) {
	if addr < f.base || addr-f.base+uintptr(n) > uintptr(len(f.data)) {
		return nil, fmt.Errorf("read %#x+%d", addr, n)
	}
	return f.data[addr-f.base : addr-f.base+uintptr(n)], nil
}

func (f *flat) Write(addr uintptr, b []byte) error {
	if addr < f.base || addr-f.base+uintptr(len(b)) > uintptr(len(f.data)) {
		return fmt.Errorf("write %#x+%d", addr, len(b))
	}
	copy(f.data[addr-f.base:], b)
	return nil
}

func machine(code []byte) *CPU {
	mem := &flat{base: 0x1000, data: make([]byte, 0x1000)}
	copy(mem.data, code)
	return New(mem, 0x1000+0x800)
}

func TestCall(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		rax  uint64
	}{
		{
			name: "mov and ret",
			code: []byte{0x48, 0xb8, 1, 2, 3, 4, 5, 6, 7, 8, 0xc3},
			rax:  0x0807060504030201,
		},
		{
			name: "taken branch",
			// mov rax, 1; test rax, rax; jnz +1; int3; add rax, 5; ret
			code: []byte{0x48, 0xc7, 0xc0, 1, 0, 0, 0, 0x48, 0x85, 0xc0, 0x75, 0x01, 0xcc, 0x48, 0x83, 0xc0, 0x05, 0xc3},
			rax:  6,
		},
		{
			name: "call and rotate",
			// call +1; ret; mov rax, 1; rol rax, 4; ret
			code: []byte{0xe8, 0x01, 0, 0, 0, 0xc3, 0x48, 0xc7, 0xc0, 1, 0, 0, 0, 0x48, 0xc1, 0xc0, 0x04, 0xc3},
			rax:  0x10,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cpu := machine(test.code)
			require.NoError(t, cpu.Call(0x1000, 32))
			assert.Equal(t, test.rax, cpu.Reg(x86asm.RAX))
			assert.Equal(t, uint64(0x1800), cpu.Reg(x86asm.RSP))
			assert.True(t, cpu.Visited(0x1000))
		})
	}
}

func TestPushMemory(t *testing.T) {
	code := []byte{0xff, 0x35, 0x01, 0, 0, 0, 0xc3, 0, 0, 0, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint64(code[7:], 0xcafe)
	cpu := machine(code)
	cpu.RIP = 0x1000
	require.NoError(t, cpu.Step())
	v, err := cpu.Pop()
	require.NoError(t, err)
	assert.Equal(t, uint64(0xcafe), v)
}

func TestErrors(t *testing.T) {
	cpu := machine([]byte{0xcc})
	assert.ErrorIs(t, cpu.Call(0x1000, 4), ErrTrap)

	cpu = machine([]byte{0xeb, 0xfe})
	assert.ErrorIs(t, cpu.Call(0x1000, 4), ErrStepLimit)

	cpu = machine([]byte{0x0f, 0xa2}) // cpuid
	cpu.RIP = 0x1000
	assert.ErrorIs(t, cpu.Step(), ErrUnsupported)
}
