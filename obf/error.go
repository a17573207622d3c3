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

package obf

import "errors"

var (
	// ErrUnknownPass is returned when building an engine from an unknown pass
	// name.
	ErrUnknownPass = errors.New("unknown pass")
	// ErrBadOperand is returned if a transform is requested on a register that
	// is not a 64-bit general purpose register.
	ErrBadOperand = errors.New("unsupported transform operand")
	// ErrBranchTarget is returned if a branch points before its function.
	ErrBranchTarget = errors.New("branch target outside of function")
	// ErrDisplacementOverflow is returned if a rewritten branch displacement
	// does not fit the encoded width.
	ErrDisplacementOverflow = errors.New("branch displacement overflow")
)
