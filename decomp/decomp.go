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

// Package decomp splits a static library into objects, finds the symbols
// reachable from an entry symbol and turns them into linkable symbols.
package decomp

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/goretk/theo/coff"
	"github.com/goretk/theo/internal/xlog"
	"github.com/goretk/theo/sym"
)

// Ref is a raw symbol recorded in the lookup table.
type Ref struct {
	Object *coff.Object
	// Index is the raw symbol table index.
	Index int
	Name  string
	Key   sym.Key
	// Size is the distance to the next function in the same section, or to
	// the section end. Zero for symbols without a section.
	Size uint32
}

type refID struct {
	object int
	index  int
}

func (r Ref) id() refID {
	return refID{r.Object.ID, r.Index}
}

// Decomposer builds the symbol table for one link.
type Decomposer struct {
	lib    []byte
	tbl    *sym.Table
	logger *slog.Logger

	objs      []*coff.Object
	lookup    map[sym.Key][]Ref
	closure   []Ref
	externals []string
}

// New creates a decomposer that fills tbl from the library in lib. A nil
// logger discards output.
func New(lib []byte, tbl *sym.Table, logger *slog.Logger) *Decomposer {
	return &Decomposer{
		lib:    lib,
		tbl:    tbl,
		logger: xlog.Or(logger),
		lookup: make(map[sym.Key][]Ref),
	}
}

// Objects returns the objects extracted from the library.
func (d *Decomposer) Objects() []*coff.Object {
	return d.objs
}

// Closure returns the raw symbols reachable from the entry, in discovery
// order. The entry comes first.
func (d *Decomposer) Closure() []Ref {
	return d.closure
}

// Externals returns the names referenced by the closure that no object
// defines. They are left to the host resolver.
func (d *Decomposer) Externals() []string {
	return d.externals
}

// Decompose fills the table with the closure of entry and returns the number
// of symbols in the table. The table is not touched if entry is not defined.
func (d *Decomposer) Decompose(entry string) (int, error) {
	if err := d.extract(); err != nil {
		return 0, err
	}
	if err := d.index(); err != nil {
		return 0, err
	}

	ref, ok := d.find(sym.NameKey(entry))
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrEntryNotFound, entry)
	}
	if err := d.close(ref); err != nil {
		return 0, err
	}
	d.logger.Info("extracted used symbols", "entry", entry, "symbols", len(d.closure), "externals", len(d.externals))

	for _, r := range d.closure {
		if err := d.materialize(r); err != nil {
			return 0, err
		}
	}
	return d.tbl.Len(), nil
}

func (d *Decomposer) extract() error {
	d.objs = d.objs[:0]
	if !coff.IsArchive(d.lib) {
		obj, err := coff.NewObject(0, "", d.lib)
		if err != nil {
			return err
		}
		d.objs = append(d.objs, obj)
		return nil
	}

	members, err := coff.ReadArchive(d.lib)
	if err != nil {
		return err
	}
	for _, m := range members {
		obj, err := coff.NewObject(len(d.objs), m.Name, m.Data)
		if err != nil {
			d.logger.Warn("skipping archive member", "member", m.Name, "error", err)
			continue
		}
		d.logger.Info("extracted object from archive", "member", m.Name)
		d.objs = append(d.objs, obj)
	}
	if len(d.objs) == 0 {
		return ErrNoObjects
	}
	return nil
}

// index records every defined raw symbol under its key.
func (d *Decomposer) index() error {
	clear(d.lookup)
	for _, obj := range d.objs {
		for _, idx := range obj.Symbols() {
			s, err := obj.Symbol(idx)
			if err != nil {
				return err
			}
			defined := coff.HasSection(s) && int(s.SectionNumber) <= obj.NumSections()
			if !defined && !coff.IsCommon(s) {
				continue
			}

			name, key, err := identify(obj, idx)
			if err != nil {
				return err
			}
			if name == "" {
				continue
			}

			var size uint32
			if defined {
				size = symbolSize(obj, idx)
			}
			d.lookup[key] = append(d.lookup[key], Ref{Object: obj, Index: idx, Name: name, Key: key, Size: size})
		}
	}
	return nil
}

// find prefers a definition with a section over common definitions.
func (d *Decomposer) find(key sym.Key) (Ref, bool) {
	refs := d.lookup[key]
	if len(refs) == 0 {
		return Ref{}, false
	}
	for _, r := range refs {
		s, _ := r.Object.Symbol(r.Index)
		if coff.HasSection(s) {
			return r, true
		}
	}
	return refs[len(refs)-1], true
}

// close walks relocation edges breadth first from entry.
func (d *Decomposer) close(entry Ref) error {
	d.closure = d.closure[:0]
	d.externals = d.externals[:0]
	seen := map[refID]bool{entry.id(): true}
	extern := make(map[string]bool)
	queue := []Ref{entry}

	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		d.closure = append(d.closure, r)

		s, err := r.Object.Symbol(r.Index)
		if err != nil {
			return err
		}
		if !coff.HasSection(s) {
			continue
		}

		// Data pulls in the whole section, so every relocation in it counts.
		start, size := s.Value, r.Size
		if !coff.IsFunction(s) {
			start, size = 0, math.MaxUint32
		}

		for _, rel := range r.Object.Relocs(s.SectionNumber) {
			if rel.VirtualAddress < start || rel.VirtualAddress-start >= size {
				continue
			}
			name, key, err := identify(r.Object, int(rel.SymbolTableIndex))
			if err != nil {
				return err
			}
			target, ok := d.find(key)
			if !ok {
				if !extern[name] {
					extern[name] = true
					d.externals = append(d.externals, name)
				}
				continue
			}
			if seen[target.id()] {
				continue
			}
			seen[target.id()] = true
			queue = append(queue, target)
		}
	}
	return nil
}

func (d *Decomposer) materialize(r Ref) error {
	s, err := r.Object.Symbol(r.Index)
	if err != nil {
		return err
	}

	switch {
	case coff.HasSection(s) && coff.IsFunction(s):
		data, err := r.Object.SectionData(s.SectionNumber)
		if err != nil {
			return err
		}
		end := min(uint64(s.Value)+uint64(r.Size), uint64(len(data)))
		if uint64(s.Value) > end {
			return fmt.Errorf("%w: %s starts past its section", coff.ErrMalformedObject, r.Name)
		}
		fn, err := NewRoutine(r.Object, r.Index, append([]byte(nil), data[s.Value:end]...)).Decompose()
		if err != nil {
			return err
		}
		d.logger.Debug("decomposed function", "name", fn.Name, "size", len(fn.Bytes), "relocations", len(fn.Relocations))
		d.tbl.Put(fn)

	case coff.HasSection(s):
		if s.StorageClass != coff.ClassExternal && s.StorageClass != coff.ClassStatic {
			return nil
		}
		if err := d.ensureSection(r.Object, s.SectionNumber); err != nil {
			return err
		}
		d.tbl.Put(&sym.Symbol{
			Name:   r.Name,
			Key:    r.Key,
			Kind:   sym.KindData,
			Offset: s.Value,
			Origin: sym.Origin{Object: r.Object, Section: s.SectionNumber, Raw: r.Index},
		})

	default:
		// Common definitions carry their size in the value field.
		d.tbl.Put(&sym.Symbol{
			Name:   r.Name,
			Key:    r.Key,
			Kind:   sym.KindData,
			Bytes:  make([]byte, s.Value),
			Origin: sym.Origin{Object: r.Object, Raw: r.Index},
		})
	}
	return nil
}

// ensureSection creates the section symbol the first time a data symbol in
// the section is materialized.
func (d *Decomposer) ensureSection(obj *coff.Object, section int16) error {
	key := sym.SectionKey(obj.ID, section)
	if _, ok := d.tbl.Lookup(key); ok {
		return nil
	}

	data, err := obj.SectionData(section)
	if err != nil {
		return err
	}
	relocs, err := relocsIn(obj, section, 0, math.MaxUint32)
	if err != nil {
		return err
	}

	name := sym.LocalName(obj, sym.LocalID{Object: obj.ID, Section: section, Whole: true})
	d.logger.Debug("created section symbol", "name", name, "size", len(data), "relocations", len(relocs))
	d.tbl.Put(&sym.Symbol{
		Name:        name,
		Key:         key,
		Kind:        sym.KindSection,
		Bytes:       append([]byte(nil), data...),
		Relocations: relocs,
		Origin:      sym.Origin{Object: obj, Section: section, Raw: -1},
	})
	return nil
}

// symbolSize infers the size of a defined symbol as the distance to the
// nearest following function in the same section, or to the section end.
func symbolSize(obj *coff.Object, idx int) uint32 {
	s, _ := obj.Symbol(idx)
	sec, err := obj.Section(s.SectionNumber)
	if err != nil {
		return 0
	}

	end := sec.Size
	for _, i := range obj.Symbols() {
		if i == idx {
			continue
		}
		q, _ := obj.Symbol(i)
		if coff.IsFunction(q) && q.SectionNumber == s.SectionNumber && q.Value > s.Value && q.Value < end {
			end = q.Value
		}
	}
	if s.Value >= end {
		return 0
	}
	return end - s.Value
}
