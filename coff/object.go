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

// Package coff gives read-only access to COFF relocatable objects and to the
// ar archives (static libraries) that carry them.
package coff

import (
	"bytes"
	"debug/pe"
	"fmt"
	"slices"
)

// Storage classes used by the decomposer.
const (
	ClassExternal    = 2
	ClassStatic      = 3
	ClassExternalDef = 5
)

const (
	derivedTypeNone     = 0
	derivedTypeFunction = 2
)

const (
	sectionUndefined = 0
)

// AMD64 relocation types.
const (
	RelAbsolute = 0x0000
	RelAddr64   = 0x0001
	RelAddr32   = 0x0002
	RelAddr32NB = 0x0003
	RelRel32    = 0x0004
	RelRel32_5  = 0x0009
	RelSection  = 0x000a
	RelSecRel   = 0x000b
)

// Characteristics is the section characteristics bit field.
type Characteristics uint32

// Protections for memory that has no section of its own.
const (
	ReadWrite   = Characteristics(pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_MEM_WRITE)
	ReadExecute = Characteristics(pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_MEM_EXECUTE)
)

func (c Characteristics) Readable() bool      { return c&pe.IMAGE_SCN_MEM_READ != 0 }
func (c Characteristics) Writable() bool      { return c&pe.IMAGE_SCN_MEM_WRITE != 0 }
func (c Characteristics) Executable() bool    { return c&pe.IMAGE_SCN_MEM_EXECUTE != 0 }
func (c Characteristics) Uninitialized() bool { return c&pe.IMAGE_SCN_CNT_UNINITIALIZED_DATA != 0 }

func (c Characteristics) String() string {
	b := []byte("---")
	if c.Readable() {
		b[0] = 'r'
	}
	if c.Writable() {
		b[1] = 'w'
	}
	if c.Executable() {
		b[2] = 'x'
	}
	return string(b)
}

// Object is a parsed COFF object. It never changes after NewObject returns.
type Object struct {
	// ID is the position of the object in its archive.
	ID int
	// Name is the archive member name.
	Name string

	file *pe.File
	data [][]byte
}

// NewObject parses a COFF object.
func NewObject(id int, name string, data []byte) (obj *Object, err error) {
	// Parsing by debug/pe can panic if the object is malformed. To prevent a
	// crash, we recover the panic and return it as an error instead.
	defer func() {
		if r := recover(); r != nil {
			obj = nil
			err = fmt.Errorf("%w: %s: %v", ErrMalformedObject, name, r)
		}
	}()

	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedObject, name, err)
	}
	if f.OptionalHeader != nil {
		return nil, fmt.Errorf("%w: %s: image files are not relocatable", ErrMalformedObject, name)
	}

	obj = &Object{ID: id, Name: name, file: f, data: make([][]byte, len(f.Sections))}
	return obj, nil
}

// Timestamp is the TimeDateStamp of the file header.
func (o *Object) Timestamp() uint32 {
	return o.file.FileHeader.TimeDateStamp
}

// NumSymbols returns the number of symbol table records, including
// auxiliary records.
func (o *Object) NumSymbols() int {
	return len(o.file.COFFSymbols)
}

// Symbol returns the raw symbol table record at idx.
func (o *Object) Symbol(idx int) (*pe.COFFSymbol, error) {
	if idx < 0 || idx >= len(o.file.COFFSymbols) {
		return nil, fmt.Errorf("%w: %d in %s", ErrSymbolIndex, idx, o.Name)
	}
	return &o.file.COFFSymbols[idx], nil
}

// SymbolName returns the name of the raw symbol at idx, resolving long
// names through the string table.
func (o *Object) SymbolName(idx int) (string, error) {
	s, err := o.Symbol(idx)
	if err != nil {
		return "", err
	}
	return s.FullName(o.file.StringTable)
}

// NumSections returns the number of sections.
func (o *Object) NumSections() int {
	return len(o.file.Sections)
}

// Section returns the section with the given one-based number.
func (o *Object) Section(number int16) (*pe.Section, error) {
	if number < 1 || int(number) > len(o.file.Sections) {
		return nil, fmt.Errorf("%w: %d in %s", ErrSectionDoesNotExist, number, o.Name)
	}
	return o.file.Sections[number-1], nil
}

// SectionName returns the name of the section with the given number.
func (o *Object) SectionName(number int16) string {
	s, err := o.Section(number)
	if err != nil {
		return ""
	}
	return s.Name
}

// Characteristics returns the characteristics of the section with the
// given number.
func (o *Object) Characteristics(number int16) Characteristics {
	s, err := o.Section(number)
	if err != nil {
		return 0
	}
	return Characteristics(s.Characteristics)
}

// SectionData returns the raw bytes of a section. Uninitialized sections are
// zero filled. The returned slice is shared and must not be modified.
func (o *Object) SectionData(number int16) ([]byte, error) {
	s, err := o.Section(number)
	if err != nil {
		return nil, err
	}
	if d := o.data[number-1]; d != nil {
		return d, nil
	}

	var d []byte
	if Characteristics(s.Characteristics).Uninitialized() || s.Offset == 0 {
		d = make([]byte, s.Size)
	} else {
		d, err = s.Data()
		if err != nil {
			return nil, fmt.Errorf("failed to read section %s of %s: %w", s.Name, o.Name, err)
		}
	}
	o.data[number-1] = d
	return d, nil
}

// Relocs returns the relocation entries of the section with the given number.
func (o *Object) Relocs(number int16) []pe.Reloc {
	s, err := o.Section(number)
	if err != nil {
		return nil
	}
	return s.Relocs
}

// Symbols returns the indices of the primary symbol records, skipping
// auxiliary records.
func (o *Object) Symbols() []int {
	idx := make([]int, 0, len(o.file.COFFSymbols))
	for i := 0; i < len(o.file.COFFSymbols); i++ {
		idx = append(idx, i)
		i += int(o.file.COFFSymbols[i].NumberOfAuxSymbols)
	}
	return slices.Clip(idx)
}

// HasSection reports whether the symbol is defined in a section of the
// object.
func HasSection(s *pe.COFFSymbol) bool {
	return s.SectionNumber > sectionUndefined
}

// IsFunction reports whether the symbol's derived type is function.
func IsFunction(s *pe.COFFSymbol) bool {
	return s.Type>>4 == derivedTypeFunction
}

// IsAnonymous reports whether the symbol is a section local blob without a
// stable name of its own, for example a static initializer whose symbol is
// named after its section.
func IsAnonymous(s *pe.COFFSymbol) bool {
	return HasSection(s) && s.StorageClass == ClassStatic && s.Type>>4 == derivedTypeNone
}

// IsCommon reports whether the symbol is an uninitialized definition that
// the linker must allocate itself.
func IsCommon(s *pe.COFFSymbol) bool {
	if s.SectionNumber != sectionUndefined {
		return false
	}
	return s.StorageClass == ClassExternalDef || (s.StorageClass == ClassExternal && s.Value > 0)
}
