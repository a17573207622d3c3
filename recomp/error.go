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

package recomp

import "errors"

var (
	// ErrUnresolvedSymbol is returned when a relocation target resolves to
	// address zero.
	ErrUnresolvedSymbol = errors.New("unresolved symbol")
	// ErrRelocationOutOfBounds is returned when a fixup would write past the
	// symbol's buffer.
	ErrRelocationOutOfBounds = errors.New("relocation outside of symbol")
	// ErrRelocationOverflow is returned when a resolved value does not fit the
	// relocation's width.
	ErrRelocationOverflow = errors.New("relocation value overflows field")
	// ErrUnsupportedRelocation is returned for relocation types the linker
	// cannot apply.
	ErrUnsupportedRelocation = errors.New("unsupported relocation type")
	// ErrMissingSection is returned when a data symbol's section was not
	// allocated.
	ErrMissingSection = errors.New("section of data symbol not allocated")
	// ErrAllocation is returned when an allocator hands out address zero.
	ErrAllocation = errors.New("allocation failed")
	// ErrUnlinkedSuccessor is returned for a split instruction whose
	// successor was never given a trampoline.
	ErrUnlinkedSuccessor = errors.New("instruction successor not linked")
)
