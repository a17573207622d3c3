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

import (
	"log/slog"

	"github.com/goretk/theo/internal/xlog"
	"github.com/goretk/theo/sym"
)

// Trace logs every symbol it is shown and changes nothing.
type Trace struct {
	logger *slog.Logger
	seen   int
}

// NewTrace creates the pass. A nil logger discards output.
func NewTrace(logger *slog.Logger) *Trace {
	return &Trace{logger: xlog.Or(logger)}
}

func (*Trace) Name() string   { return "trace" }
func (*Trace) Kind() sym.Kind { return sym.KindAll }

// Generic logs s.
func (p *Trace) Generic(s *sym.Symbol, _ *sym.Table) error {
	p.seen++
	p.logger.Debug("symbol", "name", s.Name, "kind", s.Kind, "key", uint64(s.Key), "size", len(s.Bytes), "relocations", len(s.Relocations))
	return nil
}

// Seen returns how many symbols the pass was shown.
func (p *Trace) Seen() int {
	return p.seen
}
