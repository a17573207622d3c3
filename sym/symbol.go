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

// Package sym holds the linkable units shared by the decomposer, the
// obfuscation passes and the linker.
package sym

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/goretk/theo/coff"
)

// Kind is the kind of a linkable unit. Kinds are bit flags so that passes
// can declare interest in more than one.
type Kind uint8

const (
	// KindFunction is a whole routine.
	KindFunction Kind = 1 << iota
	// KindInstruction is a single instruction split out of a routine.
	KindInstruction
	// KindData is a data symbol, either inside a section or standalone.
	KindData
	// KindSection is a whole section that data symbols point into.
	KindSection

	// KindAll matches every kind.
	KindAll = KindFunction | KindInstruction | KindData | KindSection
)

func (k Kind) String() string {
	var names []string
	for _, v := range []struct {
		k    Kind
		name string
	}{
		{KindFunction, "function"},
		{KindInstruction, "instruction"},
		{KindData, "data"},
		{KindSection, "section"},
	} {
		if k&v.k != 0 {
			names = append(names, v.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Key identifies a symbol within a table.
type Key uint64

// NameKey is the key of a named symbol.
func NameKey(name string) Key {
	h := fnv.New64a()
	h.Write([]byte{'n'})
	h.Write([]byte(name))
	return Key(h.Sum64())
}

// LocalID identifies a symbol that has no stable name of its own: a whole
// section, or an anonymous blob at an offset inside one.
type LocalID struct {
	Object  int
	Section int16
	Offset  uint32
	// Whole marks the section itself rather than a blob inside it.
	Whole bool
}

// Key hashes the structured identity directly.
func (id LocalID) Key() Key {
	var b [12]byte
	binary.LittleEndian.PutUint32(b[0:], uint32(id.Object))
	binary.LittleEndian.PutUint16(b[4:], uint16(id.Section))
	binary.LittleEndian.PutUint32(b[6:], id.Offset)
	if id.Whole {
		b[10] = 1
	}
	h := fnv.New64a()
	h.Write([]byte{'l'})
	h.Write(b[:11])
	return Key(h.Sum64())
}

// SectionKey is the key of the section symbol for a section of an object.
func SectionKey(object int, section int16) Key {
	return LocalID{Object: object, Section: section, Whole: true}.Key()
}

// Origin points back at where a symbol came from. It is only used to read
// metadata; the object is never modified.
type Origin struct {
	Object *coff.Object
	// Section is the one-based section number, zero when the symbol has no
	// section.
	Section int16
	// Raw is the index of the raw symbol record, -1 when there is none.
	Raw int
}

// Characteristics returns the characteristics of the originating section.
func (o Origin) Characteristics() coff.Characteristics {
	if o.Object == nil || o.Section == 0 {
		return 0
	}
	return o.Object.Characteristics(o.Section)
}

// Symbol is a named unit of code or data.
type Symbol struct {
	Name string
	Key  Key
	Kind Kind
	// Offset is the offset in the originating section. For instructions it
	// is the offset inside the parent function.
	Offset uint32
	// Bytes is owned by the symbol. Passes may grow it.
	Bytes       []byte
	Relocations []*Relocation
	// Addr is zero until the linker assigns an address.
	Addr   uintptr
	Origin Origin
	// Parent is the name of the function an instruction was split from.
	Parent string
}

// New creates a named symbol.
func New(name string, kind Kind, offset uint32, data []byte, origin Origin) *Symbol {
	return &Symbol{
		Name:   name,
		Key:    NameKey(name),
		Kind:   kind,
		Offset: offset,
		Bytes:  data,
		Origin: origin,
	}
}

// Size returns the length of the symbol's bytes.
func (s *Symbol) Size() uint32 {
	return uint32(len(s.Bytes))
}

// HasSection reports whether the symbol lives inside a section.
func (s *Symbol) HasSection() bool {
	return s.Origin.Object != nil && s.Origin.Section > 0
}

// SectionKey returns the key of the section symbol this symbol lives in.
func (s *Symbol) SectionKey() Key {
	return SectionKey(s.Origin.Object.ID, s.Origin.Section)
}

func (s *Symbol) String() string {
	return fmt.Sprintf("%s %s (%d bytes, %d relocations)", s.Kind, s.Name, len(s.Bytes), len(s.Relocations))
}

// LocalName renders the display name of an anonymous symbol:
// <section>#<number>!<timestamp>[+<offset>].
func LocalName(obj *coff.Object, id LocalID) string {
	name := fmt.Sprintf("%s#%d!%d", obj.SectionName(id.Section), id.Section, obj.Timestamp())
	if !id.Whole {
		name += fmt.Sprintf("+%d", id.Offset)
	}
	return name
}
