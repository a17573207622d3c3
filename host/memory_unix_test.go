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

//go:build linux || darwin

package host

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goretk/theo/coff"
)

func TestMemory(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	m := NewMemory()
	t.Cleanup(func() { assert.NoError(m.Release()) })

	addr, err := m.Allocate(32, coff.ReadWrite)
	require.NoError(err)
	assert.Zero(addr % PageSize)

	require.NoError(m.Copy(addr+8, []byte{0xaa, 0xbb}))
	got := unsafe.Slice((*byte)(unsafe.Pointer(addr)), 10)
	assert.Equal([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0xaa, 0xbb}, got)

	assert.ErrorIs(m.Copy(addr+PageSize-1, []byte{1, 2}), ErrOutOfRange)

	require.NoError(m.Seal())
	assert.ErrorIs(m.Copy(addr, []byte{1}), ErrSealed)
	_, err = m.Allocate(1, coff.ReadWrite)
	assert.ErrorIs(err, ErrSealed)
}

func TestProtection(t *testing.T) {
	assert.Equal(t, 0, protection(0))
	assert.NotZero(t, protection(coff.ReadExecute))
	assert.NotEqual(t, protection(coff.ReadWrite), protection(coff.ReadExecute))
}
