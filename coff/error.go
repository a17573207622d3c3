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

package coff

import "errors"

var (
	// ErrNotArchive is returned if the buffer does not start with the ar magic.
	ErrNotArchive = errors.New("not an archive")
	// ErrMalformedArchive is returned when a member header cannot be parsed.
	ErrMalformedArchive = errors.New("malformed archive")
	// ErrMalformedObject is returned when an object file cannot be parsed.
	ErrMalformedObject = errors.New("malformed object")
	// ErrSymbolIndex is returned for a symbol index outside the symbol table.
	ErrSymbolIndex = errors.New("symbol index out of range")
	// ErrSectionDoesNotExist is returned when accessing a section that does not exist.
	ErrSectionDoesNotExist = errors.New("section does not exist")
)
