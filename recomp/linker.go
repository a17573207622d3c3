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

// Package recomp links a symbol table into memory handed out by the host.
package recomp

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	"github.com/goretk/theo/coff"
	"github.com/goretk/theo/internal/xlog"
	"github.com/goretk/theo/obf"
	"github.com/goretk/theo/sym"
)

// Linker assigns addresses, applies relocations and copies symbols out.
// Passes registered with the engine get the first chance at each step.
type Linker struct {
	tbl      *sym.Table
	engine   *obf.Engine
	alloc    sym.Allocator
	copier   sym.Copier
	resolver sym.Resolver
	logger   *slog.Logger
}

// New creates a linker. A nil engine runs no passes and a nil resolver
// leaves every external unresolved.
func New(tbl *sym.Table, engine *obf.Engine, alloc sym.Allocator, copier sym.Copier, resolver sym.Resolver, logger *slog.Logger) *Linker {
	return &Linker{
		tbl:      tbl,
		engine:   engine,
		alloc:    alloc,
		copier:   copier,
		resolver: resolver,
		logger:   xlog.Or(logger),
	}
}

// Link runs Allocate, Resolve and Copy.
func (l *Linker) Link() error {
	if err := l.Allocate(); err != nil {
		return err
	}
	if err := l.Resolve(); err != nil {
		return err
	}
	return l.Copy()
}

// Allocate gives every symbol without an address one. Sections and code are
// placed first, data inside a section is then addressed relative to it. Code
// that did not come from a section is mapped readable and executable.
func (l *Linker) Allocate() error {
	for _, s := range l.tbl.Kinds(sym.KindSection | sym.KindFunction | sym.KindInstruction) {
		if s.Addr != 0 {
			continue
		}
		c := s.Origin.Characteristics()
		if c == 0 && s.Kind != sym.KindSection {
			c = coff.ReadExecute
		}
		if err := l.allocate(s, c); err != nil {
			return err
		}
	}

	for _, s := range l.tbl.Kinds(sym.KindData) {
		if s.Addr != 0 {
			continue
		}
		if !s.HasSection() {
			if err := l.allocate(s, coff.ReadWrite); err != nil {
				return err
			}
			continue
		}

		sec, ok := l.tbl.Lookup(s.SectionKey())
		if !ok || sec.Addr == 0 {
			return fmt.Errorf("%w: %s", ErrMissingSection, s.Name)
		}
		if s.Offset > sec.Size() {
			return fmt.Errorf("%w: %s at %d in %d byte section %s", ErrMissingSection, s.Name, s.Offset, sec.Size(), sec.Name)
		}
		s.Addr = sec.Addr + uintptr(s.Offset)
		l.logger.Debug("placed data in section", "symbol", s.Name, "section", sec.Name, "addr", s.Addr)
	}
	return nil
}

func (l *Linker) allocate(s *sym.Symbol, c coff.Characteristics) error {
	var (
		addr    uintptr
		claimed bool
	)
	err := l.engine.ForEach(s, func(s *sym.Symbol, p obf.Pass) error {
		ap, ok := p.(obf.AllocationPass)
		if !ok || claimed {
			return nil
		}
		a, ok, err := ap.Allocate(s, s.Size(), l.alloc)
		if err != nil {
			return fmt.Errorf("pass %s failed to allocate %s: %w", p.Name(), s.Name, err)
		}
		addr, claimed = a, ok
		return nil
	})
	if err != nil {
		return err
	}
	if !claimed {
		if addr, err = l.alloc(s.Size(), c); err != nil {
			return fmt.Errorf("failed to allocate %s: %w", s.Name, err)
		}
	}
	if addr == 0 {
		return fmt.Errorf("%w: %s", ErrAllocation, s.Name)
	}

	s.Addr = addr
	l.logger.Debug("allocated symbol", "symbol", s.Name, "kind", s.Kind, "size", s.Size(), "addr", addr)
	return nil
}

// Resolve patches every relocation with the address of its target.
func (l *Linker) Resolve() error {
	for _, s := range l.tbl.Symbols() {
		for _, r := range s.Relocations {
			// On an instruction, offset zero is always the successor
			// sentinel since the opcode lives there.
			if s.Kind == sym.KindInstruction && r.IsSuccessor() {
				return fmt.Errorf("%w: %s to %s", ErrUnlinkedSuccessor, s.Name, r.TargetName)
			}
			addr, err := l.target(s, r)
			if err != nil {
				return err
			}
			v := uint64(addr)
			if s.Kind == sym.KindInstruction {
				v = r.Apply(v)
			}
			if err := patch(s, r, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *Linker) target(s *sym.Symbol, r *sym.Relocation) (uintptr, error) {
	var addr uintptr
	if t, ok := l.tbl.Lookup(r.Target); ok {
		addr = t.Addr
	} else if l.resolver != nil {
		addr = l.resolver(r.TargetName)
	}

	err := l.engine.ForEach(s, func(s *sym.Symbol, p obf.Pass) error {
		if rp, ok := p.(obf.ResolverPass); ok {
			if a, ok := rp.Resolve(s, r, addr); ok {
				addr = a
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if addr == 0 {
		return 0, fmt.Errorf("%w: %s referenced from %s", ErrUnresolvedSymbol, r.TargetName, s.Name)
	}
	return addr, nil
}

// patch writes v into the symbol's buffer. Relocations carrying transforms
// always hold a full 64-bit value.
func patch(s *sym.Symbol, r *sym.Relocation, v uint64) error {
	typ := r.Type
	if len(r.Transforms) > 0 {
		typ = coff.RelAddr64
	}

	width := 4
	switch {
	case typ == coff.RelAbsolute:
		return nil
	case typ == coff.RelAddr64:
		width = 8
	case typ == coff.RelAddr32:
		if v > math.MaxUint32 {
			return fmt.Errorf("%w: %s+%d = %#x", ErrRelocationOverflow, s.Name, r.Offset, v)
		}
	case typ >= coff.RelRel32 && typ <= coff.RelRel32_5:
		next := uint64(s.Addr) + uint64(r.Offset) + 4 + uint64(typ-coff.RelRel32)
		d := int64(v - next)
		if d < math.MinInt32 || d > math.MaxInt32 {
			return fmt.Errorf("%w: %s+%d is %d bytes from %s", ErrRelocationOverflow, s.Name, r.Offset, d, r.TargetName)
		}
		v = uint64(d)
	default:
		return fmt.Errorf("%w: %#x in %s", ErrUnsupportedRelocation, r.Type, s.Name)
	}

	if int(r.Offset)+width > len(s.Bytes) {
		return fmt.Errorf("%w: %s+%d, %d bytes", ErrRelocationOutOfBounds, s.Name, r.Offset, len(s.Bytes))
	}
	if width == 8 {
		binary.LittleEndian.PutUint64(s.Bytes[r.Offset:], v)
	} else {
		binary.LittleEndian.PutUint32(s.Bytes[r.Offset:], uint32(v))
	}
	return nil
}

// Copy hands every non-empty symbol to a copier pass or the host copier.
func (l *Linker) Copy() error {
	for _, s := range l.tbl.Symbols() {
		if len(s.Bytes) == 0 {
			continue
		}
		var claimed bool
		err := l.engine.ForEach(s, func(s *sym.Symbol, p obf.Pass) error {
			cp, ok := p.(obf.CopierPass)
			if !ok || claimed {
				return nil
			}
			var err error
			if claimed, err = cp.Copy(s, l.copier); err != nil {
				return fmt.Errorf("pass %s failed to copy %s: %w", p.Name(), s.Name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if claimed {
			continue
		}
		if err := l.copier(s.Addr, s.Bytes); err != nil {
			return fmt.Errorf("failed to copy %s to %#x: %w", s.Name, s.Addr, err)
		}
	}
	return nil
}

// Address returns the address assigned to name, or zero.
func (l *Linker) Address(name string) uintptr {
	if s, ok := l.tbl.LookupName(name); ok {
		return s.Addr
	}
	return 0
}
