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

package theo

import "errors"

var (
	// ErrNotDecomposed is returned by Compose when Decompose has not
	// succeeded.
	ErrNotDecomposed = errors.New("library has not been decomposed")
	// ErrEntryNotLinked is returned when the entry symbol has no address
	// after linking.
	ErrEntryNotLinked = errors.New("entry symbol was not linked")
)
