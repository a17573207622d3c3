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

import (
	"slices"

	"github.com/ZenLiuCN/fn"
)

// Table maps keys to symbols. One table serves one link and is not safe for
// concurrent use.
type Table struct {
	syms map[Key]*Symbol
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{syms: make(map[Key]*Symbol)}
}

// Put inserts s, replacing any symbol with the same key.
func (t *Table) Put(s *Symbol) {
	t.syms[s.Key] = s
}

// Lookup returns the symbol stored under k.
func (t *Table) Lookup(k Key) (*Symbol, bool) {
	s, ok := t.syms[k]
	return s, ok
}

// LookupName returns the named symbol.
func (t *Table) LookupName(name string) (*Symbol, bool) {
	return t.Lookup(NameKey(name))
}

// ByAddr returns the symbol allocated at addr, or nil.
func (t *Table) ByAddr(addr uintptr) *Symbol {
	if addr == 0 {
		return nil
	}
	for _, s := range t.syms {
		if s.Addr == addr {
			return s
		}
	}
	return nil
}

// Len returns the number of symbols.
func (t *Table) Len() int {
	return len(t.syms)
}

// Symbols returns a snapshot of all symbols in ascending key order. Symbols
// added while iterating the snapshot are not part of it.
func (t *Table) Symbols() []*Symbol {
	keys := fn.MapKeys(t.syms)
	slices.Sort(keys)
	out := make([]*Symbol, len(keys))
	for i, k := range keys {
		out[i] = t.syms[k]
	}
	return out
}

// Kinds returns a snapshot of the symbols whose kind is in mask.
func (t *Table) Kinds(mask Kind) []*Symbol {
	var out []*Symbol
	for _, s := range t.Symbols() {
		if s.Kind&mask != 0 {
			out = append(out, s)
		}
	}
	return out
}
