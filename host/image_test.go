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

package host

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goretk/theo/coff"
)

func TestImageAllocate(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	img := NewImage(0x10000)
	tests := []struct {
		size uint32
		want uintptr
	}{
		{0, 0x10000},
		{1, 0x11000},
		{PageSize, 0x12000},
		{PageSize + 1, 0x13000},
		{8, 0x15000},
	}
	for _, test := range tests {
		addr, err := img.Allocate(test.size, coff.ReadWrite)
		require.NoError(err)
		assert.Equal(test.want, addr, "size %d", test.size)
		assert.Len(img.Region(addr).Data, int(test.size))
	}
	assert.Len(img.Regions(), len(tests))
}

func TestImageRegionBoundaries(t *testing.T) {
	assert := assert.New(t)

	img := NewImage(0x10000)
	empty, _ := img.Allocate(0, coff.ReadWrite)
	full, _ := img.Allocate(PageSize, coff.ReadWrite)
	next, _ := img.Allocate(PageSize+1, coff.ReadWrite)

	tests := []struct {
		addr uintptr
		want uintptr
	}{
		{empty, empty},
		{empty + 1, 0},
		{full, full},
		{full + PageSize - 1, full},
		{full + PageSize, next},
		{next + PageSize, next},
		{next + PageSize + 1, 0},
	}
	for _, test := range tests {
		r := img.Region(test.addr)
		if test.want == 0 {
			assert.Nil(r, "%#x", test.addr)
			continue
		}
		if assert.NotNil(r, "%#x", test.addr) {
			assert.Equal(test.want, r.Addr, "%#x", test.addr)
		}
	}

	// A read ending exactly at the end of a region is inside it.
	_, err := img.Read(full+PageSize-8, 8)
	assert.NoError(err)
	_, err = img.Read(full+PageSize-4, 8)
	assert.ErrorIs(err, ErrOutOfRange)
}

func TestImageCopyAndRead(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	img := NewImage(0x10000)
	addr, err := img.Allocate(16, coff.ReadExecute)
	require.NoError(err)

	require.NoError(img.Copy(addr+4, []byte{1, 2, 3, 4}))
	got, err := img.Read(addr+3, 6)
	require.NoError(err)
	assert.Equal([]byte{0, 1, 2, 3, 4, 0}, got)

	// Read hands out a copy.
	got[1] = 0xff
	again, _ := img.Read(addr+4, 1)
	assert.Equal([]byte{1}, again)

	assert.ErrorIs(img.Copy(addr+12, make([]byte, 8)), ErrOutOfRange)
	_, err = img.Read(0x9000, 1)
	assert.ErrorIs(err, ErrOutOfRange)
	assert.Nil(img.Region(0x9000))
	assert.Equal(1, img.Copies())

	hidden, err := img.Allocate(8, coff.Characteristics(0))
	require.NoError(err)
	assert.ErrorIs(img.Copy(hidden, []byte{1}), ErrProtection)
	assert.NoError(img.Write(hidden, []byte{1}))
}

func TestImageStub(t *testing.T) {
	assert := assert.New(t)

	img := NewImage(0x10000)
	a := img.Stub("ExitProcess")
	b := img.Stub("GetLastError")
	assert.NotEqual(a, b)
	assert.Equal(a, img.Stub("ExitProcess"))

	r := img.Region(a)
	assert.True(r.Prot.Executable())
	assert.Equal(bytes.Repeat([]byte{Int3}, 16), r.Data)

	name, ok := img.StubName(b)
	assert.True(ok)
	assert.Equal("GetLastError", name)
	_, ok = img.StubName(0x1234)
	assert.False(ok)
}

func TestImageWriteTo(t *testing.T) {
	img := NewImage(0x10000)
	a, _ := img.Allocate(2, coff.ReadWrite)
	b, _ := img.Allocate(3, coff.ReadWrite)
	require.NoError(t, img.Copy(a, []byte{1, 2}))
	require.NoError(t, img.Copy(b, []byte{3, 4, 5}))

	var buf bytes.Buffer
	n, err := img.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, buf.Bytes())
}

func TestSymbols(t *testing.T) {
	img := NewImage(0x10000)
	tests := []struct {
		name     string
		fallback func(string) uintptr
		want     uintptr
	}{
		{"known", nil, 0x4000},
		{"unknown", nil, 0},
		{"stubbed", img.Stub, 0x10000},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := Symbols(map[string]uintptr{"known": 0x4000}, test.fallback)
			assert.Equal(t, test.want, r(test.name))
		})
	}
}
