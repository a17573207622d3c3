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

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

const (
	archiveMagic     = "!<arch>\n"
	archiveHeaderLen = 60
	archiveTrailer   = "`\n"
)

// Member is a single file stored in an archive.
type Member struct {
	// Name is the resolved member name.
	Name string
	// Data is the member body. It aliases the archive buffer and must not
	// be modified.
	Data []byte
}

// IsArchive reports whether data starts with the ar magic.
func IsArchive(data []byte) bool {
	return bytes.HasPrefix(data, []byte(archiveMagic))
}

// ReadArchive splits an ar archive into its object members. The linker
// members (symbol tables) and the long name table are skipped.
func ReadArchive(data []byte) ([]Member, error) {
	if !IsArchive(data) {
		return nil, ErrNotArchive
	}

	var (
		members []Member
		strtab  []byte
	)

	off := len(archiveMagic)
	for off < len(data) {
		// Members are aligned to two bytes.
		if off%2 == 1 {
			off++
			if off >= len(data) {
				break
			}
		}
		if len(data)-off < archiveHeaderLen {
			return nil, fmt.Errorf("%w: truncated member header at %d", ErrMalformedArchive, off)
		}

		hdr := data[off : off+archiveHeaderLen]
		if string(hdr[58:60]) != archiveTrailer {
			return nil, fmt.Errorf("%w: bad member trailer at %d", ErrMalformedArchive, off)
		}

		size, err := strconv.ParseUint(strings.TrimSpace(string(hdr[48:58])), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: bad member size at %d: %s", ErrMalformedArchive, off, err)
		}

		body := off + archiveHeaderLen
		end := body + int(size)
		if end > len(data) {
			return nil, fmt.Errorf("%w: member at %d overruns the archive", ErrMalformedArchive, off)
		}
		off = end

		rawName := strings.TrimRight(string(hdr[0:16]), " ")
		switch {
		case isSymbolTable(rawName):
			continue
		case rawName == "//":
			strtab = data[body:end]
			continue
		}

		name, err := memberName(rawName, strtab)
		if err != nil {
			return nil, err
		}
		members = append(members, Member{Name: name, Data: data[body:end]})
	}

	return members, nil
}

func isSymbolTable(name string) bool {
	switch name {
	case "/", "/SYM64/", "__.SYMDEF", "__.SYMDEF SORTED":
		return true
	}
	return false
}

// memberName resolves "/<offset>" long names against the long name table.
// GNU terminates names with a slash, MSVC uses NUL.
func memberName(raw string, strtab []byte) (string, error) {
	if len(raw) > 1 && raw[0] == '/' {
		idx, err := strconv.Atoi(raw[1:])
		if err != nil {
			return "", fmt.Errorf("%w: bad long name reference %q", ErrMalformedArchive, raw)
		}
		if idx < 0 || idx >= len(strtab) {
			return "", fmt.Errorf("%w: long name reference %q out of range", ErrMalformedArchive, raw)
		}
		name := strtab[idx:]
		if end := bytes.IndexAny(name, "\x00\n"); end >= 0 {
			name = name[:end]
		}
		return strings.TrimSuffix(string(name), "/"), nil
	}
	return strings.TrimSuffix(raw, "/"), nil
}
