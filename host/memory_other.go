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

//go:build !linux && !darwin

package host

import (
	"errors"

	"github.com/goretk/theo/coff"
)

var errUnsupported = errors.New("mapped memory is not supported on this platform")

// Memory is not available on this platform. Every call fails.
type Memory struct{}

// NewMemory returns a Memory whose calls fail.
func NewMemory() *Memory {
	return &Memory{}
}

func (*Memory) Allocate(uint32, coff.Characteristics) (uintptr, error) { return 0, errUnsupported }
func (*Memory) Copy(uintptr, []byte) error                             { return errUnsupported }
func (*Memory) Seal() error                                            { return errUnsupported }
func (*Memory) Release() error                                         { return nil }
