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
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/goretk/theo/coff"
)

type mapping struct {
	data []byte
	prot coff.Characteristics
}

func (m *mapping) addr() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(m.data)))
}

// Memory allocates real pages from the operating system. Pages stay
// writable until Seal applies the final protections.
type Memory struct {
	mu       sync.Mutex
	mappings []*mapping
	sealed   bool
}

// NewMemory returns an empty address space.
func NewMemory() *Memory {
	return &Memory{}
}

// Allocate maps size bytes of anonymous memory. It has the shape of
// sym.Allocator.
func (m *Memory) Allocate(size uint32, c coff.Characteristics) (uintptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sealed {
		return 0, ErrSealed
	}

	length := (int(size) + PageSize - 1) &^ (PageSize - 1)
	if length == 0 {
		length = PageSize
	}
	data, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, fmt.Errorf("failed to map %d bytes: %w", length, err)
	}
	mp := &mapping{data: data, prot: c}
	m.mappings = append(m.mappings, mp)
	return mp.addr(), nil
}

// Copy writes b at addr. It has the shape of sym.Copier.
func (m *Memory) Copy(addr uintptr, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sealed {
		return ErrSealed
	}
	for _, mp := range m.mappings {
		base := mp.addr()
		if addr >= base && addr-base+uintptr(len(b)) <= uintptr(len(mp.data)) {
			copy(mp.data[addr-base:], b)
			return nil
		}
	}
	return fmt.Errorf("%w: %#x+%d", ErrOutOfRange, addr, len(b))
}

// Seal applies the protection every mapping was allocated with.
func (m *Memory) Seal() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mp := range m.mappings {
		if err := unix.Mprotect(mp.data, protection(mp.prot)); err != nil {
			return fmt.Errorf("failed to protect %#x as %s: %w", mp.addr(), mp.prot, err)
		}
	}
	m.sealed = true
	return nil
}

// Release unmaps everything.
func (m *Memory) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for _, mp := range m.mappings {
		if err := unix.Munmap(mp.data); err != nil && first == nil {
			first = err
		}
	}
	m.mappings = nil
	return first
}

func protection(c coff.Characteristics) int {
	prot := unix.PROT_NONE
	if c.Readable() {
		prot |= unix.PROT_READ
	}
	if c.Writable() {
		prot |= unix.PROT_WRITE
	}
	if c.Executable() {
		prot |= unix.PROT_EXEC
	}
	return prot
}
