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

// Package obf holds the pass engine and the instruction level obfuscation
// passes run between decomposition and linking.
package obf

import "github.com/goretk/theo/sym"

// Pass is a transformation. A pass implements any of GenericPass,
// AllocationPass, CopierPass and ResolverPass. A pass that does not
// implement one of them has no say in that stage.
type Pass interface {
	// Name identifies the pass in logs and configuration.
	Name() string
	// Kind is the set of symbol kinds the pass acts on.
	Kind() sym.Kind
}

// GenericPass rewrites a symbol in place. It may add symbols to the table.
type GenericPass interface {
	Pass
	Generic(s *sym.Symbol, tbl *sym.Table) error
}

// AllocationPass may allocate memory for a symbol instead of the host
// allocator. It reports false if it leaves the symbol alone.
type AllocationPass interface {
	Pass
	Allocate(s *sym.Symbol, size uint32, alloc sym.Allocator) (uintptr, bool, error)
}

// CopierPass may copy a symbol into place instead of the host copier. It
// reports false if it leaves the symbol alone.
type CopierPass interface {
	Pass
	Copy(s *sym.Symbol, copier sym.Copier) (bool, error)
}

// ResolverPass may replace the address a relocation resolved to. It
// reports false if it leaves the address alone.
type ResolverPass interface {
	Pass
	Resolve(s *sym.Symbol, r *sym.Relocation, addr uintptr) (uintptr, bool)
}
