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

// Package objtest assembles small AMD64 COFF objects and ar archives in
// memory for tests.
package objtest

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
)

// Common section characteristics.
const (
	Text  = pe.IMAGE_SCN_CNT_CODE | pe.IMAGE_SCN_MEM_EXECUTE | pe.IMAGE_SCN_MEM_READ
	Data  = pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_MEM_WRITE
	RData = pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ
	BSS   = pe.IMAGE_SCN_CNT_UNINITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_MEM_WRITE
)

// Symbol types and classes.
const (
	TypeNone     = 0x00
	TypeFunction = 0x20

	ClassExternal = 2
	ClassStatic   = 3
)

// Reloc is a relocation entry. Symbol indexes Object.Symbols.
type Reloc struct {
	Offset uint32
	Symbol int
	Type   uint16
}

// Section describes one section. Size is only used for uninitialized data.
type Section struct {
	Name            string
	Data            []byte
	Size            uint32
	Characteristics uint32
	Relocs          []Reloc
}

// Symbol describes one symbol table record. Section is one-based, zero for
// undefined symbols.
type Symbol struct {
	Name    string
	Value   uint32
	Section int16
	Type    uint16
	Class   uint8
}

// Object is an object file under construction.
type Object struct {
	Name      string
	Timestamp uint32
	Sections  []Section
	Symbols   []Symbol
}

// Func adds an external function symbol.
func (o *Object) Func(name string, section int16, value uint32) int {
	return o.Sym(Symbol{Name: name, Section: section, Value: value, Type: TypeFunction, Class: ClassExternal})
}

// Extern adds an undefined external reference.
func (o *Object) Extern(name string) int {
	return o.Sym(Symbol{Name: name, Class: ClassExternal})
}

// Sym adds a symbol and returns its index.
func (o *Object) Sym(s Symbol) int {
	o.Symbols = append(o.Symbols, s)
	return len(o.Symbols) - 1
}

// Bytes encodes the object.
func (o *Object) Bytes() []byte {
	const (
		fileHeaderSize    = 20
		sectionHeaderSize = 40
		relocSize         = 10
		symbolSize        = 18
	)

	le := binary.LittleEndian
	var strtab bytes.Buffer

	// Lay out raw data and relocations after the headers.
	off := uint32(fileHeaderSize + sectionHeaderSize*len(o.Sections))
	rawPtr := make([]uint32, len(o.Sections))
	relPtr := make([]uint32, len(o.Sections))
	for i, s := range o.Sections {
		if len(s.Data) > 0 {
			rawPtr[i] = off
			off += uint32(len(s.Data))
		}
		if len(s.Relocs) > 0 {
			relPtr[i] = off
			off += uint32(relocSize * len(s.Relocs))
		}
	}
	symPtr := off

	var b bytes.Buffer
	binary.Write(&b, le, pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_AMD64,
		NumberOfSections:     uint16(len(o.Sections)),
		TimeDateStamp:        o.Timestamp,
		PointerToSymbolTable: symPtr,
		NumberOfSymbols:      uint32(len(o.Symbols)),
	})

	for i, s := range o.Sections {
		var name [8]uint8
		copy(name[:], s.Name)
		size := uint32(len(s.Data))
		if s.Characteristics&pe.IMAGE_SCN_CNT_UNINITIALIZED_DATA != 0 {
			size = s.Size
		}
		binary.Write(&b, le, pe.SectionHeader32{
			Name:                 name,
			SizeOfRawData:        size,
			PointerToRawData:     rawPtr[i],
			PointerToRelocations: relPtr[i],
			NumberOfRelocations:  uint16(len(s.Relocs)),
			Characteristics:      s.Characteristics,
		})
	}

	for _, s := range o.Sections {
		b.Write(s.Data)
		for _, r := range s.Relocs {
			binary.Write(&b, le, pe.Reloc{
				VirtualAddress:   r.Offset,
				SymbolTableIndex: uint32(r.Symbol),
				Type:             r.Type,
			})
		}
	}

	for _, s := range o.Symbols {
		var name [8]uint8
		if len(s.Name) > 8 {
			le.PutUint32(name[4:], uint32(4+strtab.Len()))
			strtab.WriteString(s.Name)
			strtab.WriteByte(0)
		} else {
			copy(name[:], s.Name)
		}
		binary.Write(&b, le, pe.COFFSymbol{
			Name:          name,
			Value:         s.Value,
			SectionNumber: s.Section,
			Type:          s.Type,
			StorageClass:  s.Class,
		})
	}

	binary.Write(&b, le, uint32(4+strtab.Len()))
	b.Write(strtab.Bytes())

	// debug/pe reads 96 bytes of DOS header before anything else.
	for b.Len() < 96 {
		b.WriteByte(0)
	}
	return b.Bytes()
}

// Archive packs objects into a GNU style ar archive with an empty symbol
// table member and a long name table.
func Archive(objs ...*Object) []byte {
	var b bytes.Buffer
	b.WriteString("!<arch>\n")

	member := func(name string, data []byte) {
		fmt.Fprintf(&b, "%-16s%-12d%-6d%-6d%-8o%-10d`\n", name, 0, 0, 0, 0644, len(data))
		b.Write(data)
		if len(data)%2 == 1 {
			b.WriteByte('\n')
		}
	}

	member("/", make([]byte, 4))

	var longNames bytes.Buffer
	names := make([]string, len(objs))
	for i, o := range objs {
		if len(o.Name) > 15 {
			names[i] = fmt.Sprintf("/%d", longNames.Len())
			longNames.WriteString(o.Name + "/\n")
		} else {
			names[i] = o.Name + "/"
		}
	}
	if longNames.Len() > 0 {
		member("//", longNames.Bytes())
	}

	for i, o := range objs {
		member(names[i], o.Bytes())
	}
	return b.Bytes()
}
