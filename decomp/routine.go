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

import (
	"fmt"

	"github.com/goretk/theo/coff"
	"github.com/goretk/theo/sym"
)

// Routine turns one raw function symbol into a Function symbol.
type Routine struct {
	obj  *coff.Object
	raw  int
	data []byte
}

// NewRoutine creates a routine for the raw function symbol at index raw. The
// routine takes ownership of data, which must hold exactly the function's
// bytes.
func NewRoutine(obj *coff.Object, raw int, data []byte) *Routine {
	return &Routine{obj: obj, raw: raw, data: data}
}

// Decompose returns the Function symbol with every relocation of its section
// that falls inside the function, rebased on the function start.
func (r *Routine) Decompose() (*sym.Symbol, error) {
	s, err := r.obj.Symbol(r.raw)
	if err != nil {
		return nil, err
	}
	if !coff.HasSection(s) || !coff.IsFunction(s) {
		return nil, fmt.Errorf("%w: index %d in %s", ErrNotFunction, r.raw, r.obj.Name)
	}
	name, key, err := identify(r.obj, r.raw)
	if err != nil {
		return nil, err
	}

	relocs, err := relocsIn(r.obj, s.SectionNumber, s.Value, uint32(len(r.data)))
	if err != nil {
		return nil, err
	}

	return &sym.Symbol{
		Name:        name,
		Key:         key,
		Kind:        sym.KindFunction,
		Offset:      s.Value,
		Bytes:       r.data,
		Relocations: relocs,
		Origin:      sym.Origin{Object: r.obj, Section: s.SectionNumber, Raw: r.raw},
	}, nil
}

// relocsIn returns the relocations of a section that fall inside
// [start, start+size), with offsets relative to start.
func relocsIn(obj *coff.Object, section int16, start, size uint32) ([]*sym.Relocation, error) {
	var relocs []*sym.Relocation
	for _, rel := range obj.Relocs(section) {
		if rel.VirtualAddress < start || rel.VirtualAddress >= start+size {
			continue
		}
		name, key, err := identify(obj, int(rel.SymbolTableIndex))
		if err != nil {
			return nil, err
		}
		relocs = append(relocs, &sym.Relocation{
			Offset:     rel.VirtualAddress - start,
			Target:     key,
			TargetName: name,
			Type:       rel.Type,
		})
	}
	return relocs, nil
}

// identify returns the display name and table key of a raw symbol.
// Anonymous symbols are keyed by where they live instead of by name.
func identify(obj *coff.Object, idx int) (string, sym.Key, error) {
	s, err := obj.Symbol(idx)
	if err != nil {
		return "", 0, err
	}
	if coff.IsAnonymous(s) {
		id := sym.LocalID{Object: obj.ID, Section: s.SectionNumber, Offset: s.Value}
		return sym.LocalName(obj, id), id.Key(), nil
	}
	name, err := obj.SymbolName(idx)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read name of symbol %d in %s: %w", idx, obj.Name, err)
	}
	return name, sym.NameKey(name), nil
}
