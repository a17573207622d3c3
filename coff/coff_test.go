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

package coff_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goretk/theo/coff"
	"github.com/goretk/theo/internal/objtest"
)

func sampleObject(name string) *objtest.Object {
	o := &objtest.Object{Name: name, Timestamp: 0x1234}
	o.Sections = []objtest.Section{
		{Name: ".text", Data: []byte{0x90, 0x90, 0xc3, 0xc3}, Characteristics: objtest.Text},
		{Name: ".bss", Size: 16, Characteristics: objtest.BSS},
	}
	o.Func("first", 1, 0)
	o.Func("a_rather_long_function_name", 1, 2)
	o.Extern("ext")
	o.Sections[0].Relocs = []objtest.Reloc{{Offset: 1, Symbol: 2, Type: coff.RelAddr64}}
	return o
}

func TestReadArchive(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	lib := objtest.Archive(sampleObject("short.obj"), sampleObject("a/very/long/member/name.obj"))
	require.True(coff.IsArchive(lib))

	members, err := coff.ReadArchive(lib)
	require.NoError(err)
	require.Len(members, 2)
	assert.Equal("short.obj", members[0].Name)
	assert.Equal("a/very/long/member/name.obj", members[1].Name)
}

func TestReadArchiveErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		err  error
	}{
		{"no magic", []byte("hello"), coff.ErrNotArchive},
		{"truncated header", []byte("!<arch>\nabc"), coff.ErrMalformedArchive},
		{"overrun", append([]byte("!<arch>\n"), []byte("x.obj/          0           0     0     644     99        `\n")...), coff.ErrMalformedArchive},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := coff.ReadArchive(test.data)
			assert.ErrorIs(t, err, test.err)
		})
	}
}

func TestObjectAccessors(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	obj, err := coff.NewObject(3, "sample.obj", sampleObject("sample.obj").Bytes())
	require.NoError(err)

	assert.Equal(3, obj.ID)
	assert.Equal(uint32(0x1234), obj.Timestamp())
	assert.Equal(3, obj.NumSymbols())
	assert.Equal([]int{0, 1, 2}, obj.Symbols())
	assert.Equal(2, obj.NumSections())

	name, err := obj.SymbolName(1)
	require.NoError(err)
	assert.Equal("a_rather_long_function_name", name)

	s, err := obj.Symbol(0)
	require.NoError(err)
	assert.True(coff.HasSection(s))
	assert.True(coff.IsFunction(s))
	assert.False(coff.IsAnonymous(s))

	ext, err := obj.Symbol(2)
	require.NoError(err)
	assert.False(coff.HasSection(ext))
	assert.False(coff.IsCommon(ext))

	_, err = obj.Symbol(3)
	assert.ErrorIs(err, coff.ErrSymbolIndex)

	text, err := obj.SectionData(1)
	require.NoError(err)
	assert.Equal([]byte{0x90, 0x90, 0xc3, 0xc3}, text)
	assert.Equal(".text", obj.SectionName(1))
	assert.True(obj.Characteristics(1).Executable())
	assert.Equal("r-x", obj.Characteristics(1).String())

	bss, err := obj.SectionData(2)
	require.NoError(err)
	assert.Equal(make([]byte, 16), bss)
	assert.Equal("rw-", obj.Characteristics(2).String())

	relocs := obj.Relocs(1)
	require.Len(relocs, 1)
	assert.Equal(uint32(1), relocs[0].VirtualAddress)
	assert.Equal(uint32(2), relocs[0].SymbolTableIndex)

	_, err = obj.Section(3)
	assert.ErrorIs(err, coff.ErrSectionDoesNotExist)
}

func TestNewObjectRejectsGarbage(t *testing.T) {
	_, err := coff.NewObject(0, "junk", []byte("definitely not a coff object, but long enough to pass the size check................................"))
	assert.ErrorIs(t, err, coff.ErrMalformedObject)
}
