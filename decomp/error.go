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

package decomp

import "errors"

var (
	// ErrEntryNotFound is returned if no object defines the entry symbol.
	ErrEntryNotFound = errors.New("entry symbol not found")
	// ErrNoObjects is returned if the library holds no object files.
	ErrNoObjects = errors.New("library contains no objects")
	// ErrNotFunction is returned when a routine is built from a symbol that is
	// not a function.
	ErrNotFunction = errors.New("symbol is not a function")
)
