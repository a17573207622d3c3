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

// Package emu interprets the small subset of x86-64 that linked test images
// and generated trampolines use.
package emu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"golang.org/x/arch/x86/x86asm"
)

// ReturnAddress is pushed by Call. Execution stops when it is reached.
const ReturnAddress = 0x0000_dead_0000_0000

const flagZF = 1 << 6

var (
	// ErrUnsupported is returned for an instruction the interpreter does not
	// know.
	ErrUnsupported = errors.New("unsupported instruction")
	// ErrTrap is returned when executing int3.
	ErrTrap = errors.New("breakpoint trap")
	// ErrStepLimit is returned when Call runs out of steps.
	ErrStepLimit = errors.New("step limit reached")
)

// Memory is the address space the CPU runs in.
type Memory interface {
	Read(addr uintptr, n int) ([]byte, error)
	Write(addr uintptr, b []byte) error
}

// CPU is the machine state.
type CPU struct {
	Regs  [16]uint64
	RIP   uint64
	Flags uint64
	// Trace records the address of every executed instruction.
	Trace []uint64

	mem Memory
}

// New creates a CPU with the stack pointer at sp.
func New(mem Memory, sp uintptr) *CPU {
	c := &CPU{mem: mem, Flags: 0x202}
	c.Regs[reg(x86asm.RSP)] = uint64(sp)
	return c
}

// Reg returns the value of a 64-bit register.
func (c *CPU) Reg(r x86asm.Reg) uint64 {
	return c.Regs[reg(r)]
}

// Visited reports whether the instruction at addr was executed.
func (c *CPU) Visited(addr uintptr) bool {
	for _, a := range c.Trace {
		if a == uint64(addr) {
			return true
		}
	}
	return false
}

// Call runs the code at addr until it returns, executing at most limit
// instructions.
func (c *CPU) Call(addr uintptr, limit int) error {
	if err := c.Push(ReturnAddress); err != nil {
		return err
	}
	c.RIP = uint64(addr)
	for range limit {
		if c.RIP == ReturnAddress {
			return nil
		}
		if err := c.Step(); err != nil {
			return err
		}
	}
	if c.RIP == ReturnAddress {
		return nil
	}
	return fmt.Errorf("%w at %#x", ErrStepLimit, c.RIP)
}

// Push pushes v.
func (c *CPU) Push(v uint64) error {
	sp := c.Regs[reg(x86asm.RSP)] - 8
	if err := c.store(sp, v); err != nil {
		return err
	}
	c.Regs[reg(x86asm.RSP)] = sp
	return nil
}

// Pop pops a qword.
func (c *CPU) Pop() (uint64, error) {
	sp := c.Regs[reg(x86asm.RSP)]
	v, err := c.load(sp)
	if err != nil {
		return 0, err
	}
	c.Regs[reg(x86asm.RSP)] = sp + 8
	return v, nil
}

// Step executes one instruction.
func (c *CPU) Step() error {
	code, err := c.fetch()
	if err != nil {
		return err
	}
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return fmt.Errorf("failed to decode at %#x: %w", c.RIP, err)
	}
	c.Trace = append(c.Trace, c.RIP)
	next := c.RIP + uint64(inst.Len)

	unsupported := func() error {
		return fmt.Errorf("%w: %v at %#x", ErrUnsupported, inst, c.RIP)
	}

	switch inst.Op {
	case x86asm.NOP:
	case x86asm.INT:
		return fmt.Errorf("%w at %#x", ErrTrap, c.RIP)

	case x86asm.MOV:
		dst, ok := inst.Args[0].(x86asm.Reg)
		if !ok || !is64(dst) {
			return unsupported()
		}
		switch src := inst.Args[1].(type) {
		case x86asm.Imm:
			c.Regs[reg(dst)] = uint64(src)
		case x86asm.Reg:
			if !is64(src) {
				return unsupported()
			}
			c.Regs[reg(dst)] = c.Regs[reg(src)]
		default:
			return unsupported()
		}

	case x86asm.TEST:
		a, aok := inst.Args[0].(x86asm.Reg)
		b, bok := inst.Args[1].(x86asm.Reg)
		if !aok || !bok || !is64(a) || !is64(b) {
			return unsupported()
		}
		c.setZF(c.Regs[reg(a)]&c.Regs[reg(b)] == 0)

	case x86asm.JMP, x86asm.JE, x86asm.JNE, x86asm.CALL:
		rel, ok := inst.Args[0].(x86asm.Rel)
		if !ok {
			return unsupported()
		}
		target := next + uint64(int64(rel))
		switch {
		case inst.Op == x86asm.CALL:
			if err := c.Push(next); err != nil {
				return err
			}
			next = target
		case inst.Op == x86asm.JMP,
			inst.Op == x86asm.JE && c.Flags&flagZF != 0,
			inst.Op == x86asm.JNE && c.Flags&flagZF == 0:
			next = target
		}

	case x86asm.RET:
		v, err := c.Pop()
		if err != nil {
			return err
		}
		next = v

	case x86asm.PUSHF, x86asm.PUSHFD, x86asm.PUSHFQ:
		if err := c.Push(c.Flags); err != nil {
			return err
		}

	case x86asm.POPF, x86asm.POPFD, x86asm.POPFQ:
		v, err := c.Pop()
		if err != nil {
			return err
		}
		c.Flags = v

	case x86asm.PUSH:
		var v uint64
		switch src := inst.Args[0].(type) {
		case x86asm.Reg:
			if !is64(src) {
				return unsupported()
			}
			v = c.Regs[reg(src)]
		case x86asm.Mem:
			addr, ok := c.address(src, next)
			if !ok {
				return unsupported()
			}
			if v, err = c.load(addr); err != nil {
				return err
			}
		default:
			return unsupported()
		}
		if err := c.Push(v); err != nil {
			return err
		}

	case x86asm.ADD, x86asm.SUB, x86asm.XOR, x86asm.ROL, x86asm.ROR:
		imm, ok := inst.Args[1].(x86asm.Imm)
		if !ok {
			return unsupported()
		}
		var (
			v     uint64
			write func(uint64) error
		)
		switch dst := inst.Args[0].(type) {
		case x86asm.Reg:
			if !is64(dst) {
				return unsupported()
			}
			v = c.Regs[reg(dst)]
			write = func(r uint64) error { c.Regs[reg(dst)] = r; return nil }
		case x86asm.Mem:
			addr, ok := c.address(dst, next)
			if !ok {
				return unsupported()
			}
			if v, err = c.load(addr); err != nil {
				return err
			}
			write = func(r uint64) error { return c.store(addr, r) }
		default:
			return unsupported()
		}

		switch inst.Op {
		case x86asm.ADD:
			v += uint64(imm)
			c.setZF(v == 0)
		case x86asm.SUB:
			v -= uint64(imm)
			c.setZF(v == 0)
		case x86asm.XOR:
			v ^= uint64(imm)
			c.setZF(v == 0)
		case x86asm.ROL:
			v = bits.RotateLeft64(v, int(imm&63))
		case x86asm.ROR:
			v = bits.RotateLeft64(v, -int(imm&63))
		}
		if err := write(v); err != nil {
			return err
		}

	default:
		return unsupported()
	}

	c.RIP = next
	return nil
}

func (c *CPU) fetch() ([]byte, error) {
	var err error
	for n := 15; n > 0; n-- {
		var b []byte
		if b, err = c.mem.Read(uintptr(c.RIP), n); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("failed to fetch at %#x: %w", c.RIP, err)
}

// address computes [base+disp] for rip and 64-bit register bases without an
// index.
func (c *CPU) address(m x86asm.Mem, next uint64) (uint64, bool) {
	if m.Index != 0 || m.Segment != 0 {
		return 0, false
	}
	// The decoder does not sign extend 32-bit displacements.
	disp := uint64(int64(int32(m.Disp)))
	switch {
	case m.Base == x86asm.RIP:
		return next + disp, true
	case is64(m.Base):
		return c.Regs[reg(m.Base)] + disp, true
	}
	return 0, false
}

func (c *CPU) load(addr uint64) (uint64, error) {
	b, err := c.mem.Read(uintptr(addr), 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *CPU) store(addr, v uint64) error {
	return c.mem.Write(uintptr(addr), binary.LittleEndian.AppendUint64(nil, v))
}

func (c *CPU) setZF(zero bool) {
	if zero {
		c.Flags |= flagZF
	} else {
		c.Flags &^= flagZF
	}
}

func is64(r x86asm.Reg) bool {
	return r >= x86asm.RAX && r <= x86asm.R15
}

func reg(r x86asm.Reg) int {
	return int(r - x86asm.RAX)
}
