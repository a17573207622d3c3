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

package sym

import "github.com/goretk/theo/coff"

// Allocator maps at least size zeroed bytes with the protection given by c
// and returns the address.
type Allocator func(size uint32, c coff.Characteristics) (uintptr, error)

// Copier makes b readable at addr.
type Copier func(addr uintptr, b []byte) error

// Resolver returns the address of an external symbol, or 0 if it is unknown.
type Resolver func(name string) uintptr
