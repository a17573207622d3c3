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

	"golang.org/x/arch/x86/x86asm"

	"github.com/goretk/theo/sym"
)

// The handful of instructions the passes emit. See the Intel SDM volume 2A,
// section 2.1.
const (
	opPushfq = 0x9c
	opPopfq  = 0x9d
	opRet    = 0xc3

	opGroup1Imm32 = 0x81 // add, sub, xor r/m64, imm32
	opGroup2Imm8  = 0xc1 // rol, ror r/m64, imm8
	opGroup5      = 0xff // push r/m64 is /6

	rexW = 0x48
	rexB = 0x01

	modSmallDisplacedRegister byte = 0b01
	modRegister               byte = 0b11

	rmSIB                byte = 0b100
	rmDisplacementOnly32 byte = 0b101

	sibStackPointerBase byte = 0b100
	sibNoIndex          byte = 0b100

	digitPush = 6
)

// opcode extension (the reg field of ModRM) per operation.
var digits = map[sym.Op]struct {
	opcode byte
	digit  byte
}{
	sym.OpAdd: {opGroup1Imm32, 0},
	sym.OpSub: {opGroup1Imm32, 5},
	sym.OpXor: {opGroup1Imm32, 6},
	sym.OpRol: {opGroup2Imm8, 0},
	sym.OpRor: {opGroup2Imm8, 1},
}

// Operand is the value a generated sequence acts on. The zero value is the
// qword at [rsp+8], which is where the address pushed just before pushfq
// lives.
type Operand struct {
	reg x86asm.Reg
}

// StackSlot is the qword at [rsp+8].
var StackSlot = Operand{}

// RegOperand returns an operand for a 64-bit general purpose register.
func RegOperand(r x86asm.Reg) (Operand, error) {
	if r < x86asm.RAX || r > x86asm.R15 {
		return Operand{}, fmt.Errorf("%w: %v", ErrBadOperand, r)
	}
	return Operand{reg: r}, nil
}

func (o Operand) String() string {
	if o.reg == 0 {
		return "qword [rsp+8]"
	}
	return o.reg.String()
}

func modrm(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | rm&7
}

// encodeOp encodes "op dst, imm". Rotates only encode the low byte of imm.
func encodeOp(op sym.Op, imm uint32, dst Operand) []byte {
	d := digits[op]

	var b []byte
	if dst.reg == 0 {
		b = append(b, rexW, d.opcode,
			modrm(modSmallDisplacedRegister, d.digit, rmSIB),
			modrm(0, sibNoIndex, sibStackPointerBase),
			8)
	} else {
		n := byte(dst.reg - x86asm.RAX)
		rex := byte(rexW)
		if n >= 8 {
			rex |= rexB
		}
		b = append(b, rex, d.opcode, modrm(modRegister, d.digit, n))
	}

	if d.opcode == opGroup2Imm8 {
		return append(b, byte(imm))
	}
	return binary.LittleEndian.AppendUint32(b, imm)
}

// encodePushRIP encodes "push qword [rip+disp]".
func encodePushRIP(disp int32) []byte {
	b := []byte{opGroup5, modrm(0, digitPush, rmDisplacementOnly32)}
	return binary.LittleEndian.AppendUint32(b, uint32(disp))
}
