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

// Package host provides allocators, copiers and resolvers for the linker.
package host

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/goretk/theo/coff"
	"github.com/goretk/theo/sym"
)

// PageSize is the allocation granularity.
const PageSize = 0x1000

// Int3 fills resolver stubs so that calling an unknown external traps.
const Int3 = 0xcc

var (
	// ErrOutOfRange is returned for an access outside every region.
	ErrOutOfRange = errors.New("address outside of any region")
	// ErrProtection is returned when copying into a region that is not
	// readable.
	ErrProtection = errors.New("region is not readable")
	// ErrSealed is returned when changing memory after it was sealed.
	ErrSealed = errors.New("memory is sealed")
)

// Region is one allocation.
type Region struct {
	Addr uintptr
	Prot coff.Characteristics
	Data []byte
}

// contains reports whether [addr, addr+n) lies inside r. With n zero it
// reports whether addr itself is inside r; an empty region only contains its
// start.
func (r *Region) contains(addr uintptr, n int) bool {
	if addr < r.Addr {
		return false
	}
	off := addr - r.Addr
	if n == 0 {
		return off < uintptr(len(r.Data)) || (len(r.Data) == 0 && off == 0)
	}
	return off+uintptr(n) <= uintptr(len(r.Data))
}

// Image is a simulated address space. Regions are handed out page aligned
// and in order from the base address, so addresses are deterministic. It is
// safe for concurrent use.
type Image struct {
	mu      sync.Mutex
	next    uintptr
	regions []*Region
	copies  int
	stubs   map[string]uintptr
}

// NewImage creates an image whose first region starts at base.
func NewImage(base uintptr) *Image {
	return &Image{next: base, stubs: make(map[string]uintptr)}
}

// Allocate reserves size zeroed bytes. It has the shape of sym.Allocator.
func (m *Image) Allocate(size uint32, c coff.Characteristics) (uintptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocate(size, c), nil
}

func (m *Image) allocate(size uint32, c coff.Characteristics) uintptr {
	r := &Region{Addr: m.next, Prot: c, Data: make([]byte, size)}
	m.regions = append(m.regions, r)
	pages := (uintptr(size) + PageSize - 1) / PageSize
	m.next += max(pages, 1) * PageSize
	return r.Addr
}

// Copy writes b at addr. It has the shape of sym.Copier.
func (m *Image) Copy(addr uintptr, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.region(addr, len(b))
	if err != nil {
		return err
	}
	if !r.Prot.Readable() {
		return fmt.Errorf("%w: %#x", ErrProtection, addr)
	}
	copy(r.Data[addr-r.Addr:], b)
	m.copies++
	return nil
}

// Copies returns how many times Copy succeeded.
func (m *Image) Copies() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copies
}

// Read returns a copy of n bytes at addr.
func (m *Image) Read(addr uintptr, n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.region(addr, n)
	if err != nil {
		return nil, err
	}
	off := addr - r.Addr
	return slices.Clone(r.Data[off : off+uintptr(n)]), nil
}

// Write stores b at addr regardless of protection.
func (m *Image) Write(addr uintptr, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.region(addr, len(b))
	if err != nil {
		return err
	}
	copy(r.Data[addr-r.Addr:], b)
	return nil
}

// Region returns the region containing addr, or nil.
func (m *Image) Region(addr uintptr) *Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, _ := m.region(addr, 0)
	return r
}

// Regions returns all regions in allocation order.
func (m *Image) Regions() []*Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.regions)
}

func (m *Image) region(addr uintptr, n int) (*Region, error) {
	for _, r := range m.regions {
		if r.contains(addr, n) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %#x+%d", ErrOutOfRange, addr, n)
}

// Stub resolves every name to a small executable region filled with int3.
// Asking twice for the same name returns the same address.
func (m *Image) Stub(name string) uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr, ok := m.stubs[name]; ok {
		return addr
	}
	addr := m.allocate(16, coff.ReadExecute)
	r, _ := m.region(addr, 16)
	for i := range r.Data {
		r.Data[i] = Int3
	}
	m.stubs[name] = addr
	return addr
}

// StubName returns the name a stub address was handed out for.
func (m *Image) StubName(addr uintptr) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, a := range m.stubs {
		if a == addr {
			return name, true
		}
	}
	return "", false
}

// WriteTo writes every region back to back, ordered by address.
func (m *Image) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, r := range m.Regions() {
		n, err := w.Write(r.Data)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Symbols resolves names found in known and defers the rest to fallback. A
// nil fallback leaves the rest unresolved.
func Symbols(known map[string]uintptr, fallback sym.Resolver) sym.Resolver {
	return func(name string) uintptr {
		if addr, ok := known[name]; ok {
			return addr
		}
		if fallback == nil {
			return 0
		}
		return fallback(name)
	}
}
