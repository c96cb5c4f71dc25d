// SPDX-License-Identifier: GPL-2.0-or-later

// Package sku parses the text "SKU" container (sku.sis) that identifies a
// Steam backup: its product name, disk membership, depot list, and the
// manifest-id/chunkstore-layout each depot maps to.
package sku

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/steamrec/tev/lib/tevfs"
)

// SKU is one backup's top-level descriptor. Immutable after Parse returns.
type SKU struct {
	Name        string
	Disks       uint32
	Disk        uint32
	Backup      uint32
	ContentType uint32
	Apps        []uint32
	Depots      []uint32

	// Manifests maps a depot ID to the manifest ID backing it. One
	// manifest per depot.
	Manifests map[uint32]uint64

	// Chunkstores maps a depot ID to its chunkstore layout: chunkstore
	// index -> chunkstore length in bytes. The SKU text format stores
	// lengths as signed; a negative length is preserved as-is here and is
	// a consumption-site concern, not a parse-time one.
	Chunkstores map[uint32]map[uint32]int64
}

// malformed wraps tevfs.ErrMalformedSKU with a human-readable reason.
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", tevfs.ErrMalformedSKU, fmt.Sprintf(format, args...))
}

// Read loads and parses the sku.sis file at path.
func Read(path string) (*SKU, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, tevfs.Wrap(path, err)
	}
	s, err := Parse(string(data))
	if err != nil {
		return nil, tevfs.Wrap(path, err)
	}
	return s, nil
}

// Parse parses the textual contents of a sku.sis file.
func Parse(data string) (*SKU, error) {
	lines := splitLines(data)
	p := &parser{lines: lines}

	if err := p.expect(`"SKU"`); err != nil {
		return nil, err
	}
	if err := p.expect("{"); err != nil {
		return nil, err
	}

	out := &SKU{
		Manifests:   map[uint32]uint64{},
		Chunkstores: map[uint32]map[uint32]int64{},
	}

	for {
		if p.atClose() {
			// The top-level closing brace is at column 0; only nested
			// blocks require whitespace before theirs.
			p.pos++
			break
		}
		key, rest, err := p.entryHead()
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(key) {
		case "name":
			v, err := p.scalarValue(rest)
			if err != nil {
				return nil, err
			}
			out.Name = v
		case "disks":
			if out.Disks, err = p.uint32Value(rest); err != nil {
				return nil, err
			}
		case "disk":
			if out.Disk, err = p.uint32Value(rest); err != nil {
				return nil, err
			}
		case "backup":
			if out.Backup, err = p.uint32Value(rest); err != nil {
				return nil, err
			}
		case "contenttype":
			if out.ContentType, err = p.uint32Value(rest); err != nil {
				return nil, err
			}
		case "apps":
			if out.Apps, err = p.uint32ListBlock(rest); err != nil {
				return nil, err
			}
		case "depots":
			if out.Depots, err = p.uint32ListBlock(rest); err != nil {
				return nil, err
			}
		case "manifests":
			m, err := p.uint32KeyedDict(rest)
			if err != nil {
				return nil, err
			}
			for k, v := range m {
				id, err := strconv.ParseUint(v, 10, 64)
				if err != nil {
					return nil, malformed("manifest id %q for depot %d is not an integer", v, k)
				}
				out.Manifests[k] = id
			}
		case "chunkstores":
			cs, err := p.uint32KeyedNestedDict(rest)
			if err != nil {
				return nil, err
			}
			out.Chunkstores = cs
		default:
			return nil, malformed("unrecognised key %q", key)
		}
	}

	return out, nil
}

func splitLines(data string) []string {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

type parser struct {
	lines []string
	pos   int
}

func (p *parser) line() (string, error) {
	if p.pos >= len(p.lines) {
		return "", malformed("unexpected end of input")
	}
	return p.lines[p.pos], nil
}

func (p *parser) expect(tok string) error {
	line, err := p.line()
	if err != nil {
		return err
	}
	trimmed := strings.TrimLeft(line, " \t")
	switch tok {
	case `"SKU"`:
		if !strings.EqualFold(trimmed, `"SKU"`) {
			return malformed("expected top-level \"SKU\" object, found %q", line)
		}
	case "{":
		if trimmed != "{" {
			return malformed("expected '{' to start a new line, found %q", line)
		}
	case "}":
		// Closing brace must be preceded by whitespace.
		if !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			return malformed("expected whitespace before closing '}', found %q", line)
		}
		if strings.TrimSpace(line) != "}" {
			return malformed("expected '}' alone on its line, found %q", line)
		}
	}
	p.pos++
	return nil
}

func (p *parser) atClose() bool {
	line, err := p.line()
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "}"
}

// entryHead parses a line of the form `  "key"  rest...`, requiring at
// least one leading space or tab, and returns the key and the unconsumed
// remainder of the line (starting right after the key's closing quote,
// so any whitespace after it is still included).
func (p *parser) entryHead() (key, rest string, err error) {
	line, err := p.line()
	if err != nil {
		return "", "", err
	}
	if !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
		return "", "", malformed("expected leading whitespace, found %q", line)
	}
	trimmed := strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(trimmed, `"`) {
		return "", "", malformed("expected quoted key, found %q", line)
	}
	end := strings.Index(trimmed[1:], `"`)
	if end < 0 {
		return "", "", malformed("unterminated key on line %q", line)
	}
	key = trimmed[1 : 1+end]
	rest = trimmed[1+end+1:]
	p.pos++
	return key, rest, nil
}

// scalarValue parses ` "value"` (a single quoted scalar following the key
// on the same line).
func (p *parser) scalarValue(rest string) (string, error) {
	rest = strings.TrimLeft(rest, " \t")
	if !strings.HasPrefix(rest, `"`) || !strings.HasSuffix(rest, `"`) || len(rest) < 2 {
		return "", malformed("expected quoted scalar value, found %q", rest)
	}
	return rest[1 : len(rest)-1], nil
}

func (p *parser) uint32Value(rest string) (uint32, error) {
	v, err := p.scalarValue(rest)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, malformed("expected integer value, found %q", v)
	}
	return uint32(n), nil
}

// openNestedBlock consumes the `\n{\n` that follows a dict/list key
// (the opening brace is already on the line after the key, per the SKU
// grammar: "opening brace starts a new line").
func (p *parser) openNestedBlock(rest string) error {
	if strings.TrimSpace(rest) != "" {
		return malformed("expected nothing after key before nested block, found %q", rest)
	}
	return p.expect("{")
}

// uint32ListBlock parses a nested block whose entries are `"<index>"
// "<value>"`, with indices required to be dense ascending integers
// starting at zero; returns the values in index order.
func (p *parser) uint32ListBlock(rest string) ([]uint32, error) {
	if err := p.openNestedBlock(rest); err != nil {
		return nil, err
	}
	var out []uint32
	expected := 0
	for !p.atClose() {
		key, entryRest, err := p.entryHead()
		if err != nil {
			return nil, err
		}
		idx, err := strconv.Atoi(key)
		if err != nil || idx != expected {
			return nil, malformed("list index %q is not dense from zero (expected %d)", key, expected)
		}
		v, err := p.uint32Value(entryRest)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		expected++
	}
	return out, p.expect("}")
}

// uint32KeyedDict parses a nested block whose entries are `"<u32 key>"
// "<string value>"`.
func (p *parser) uint32KeyedDict(rest string) (map[uint32]string, error) {
	if err := p.openNestedBlock(rest); err != nil {
		return nil, err
	}
	out := map[uint32]string{}
	for !p.atClose() {
		key, entryRest, err := p.entryHead()
		if err != nil {
			return nil, err
		}
		k, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return nil, malformed("expected integer dict key, found %q", key)
		}
		v, err := p.scalarValue(entryRest)
		if err != nil {
			return nil, err
		}
		out[uint32(k)] = v
	}
	return out, p.expect("}")
}

// uint32KeyedNestedDict parses a nested block whose entries are `"<u32
// key>"` each followed by a further nested block of `"<u32>" "<i64>"`
// entries (the `chunkstores` block).
func (p *parser) uint32KeyedNestedDict(rest string) (map[uint32]map[uint32]int64, error) {
	if err := p.openNestedBlock(rest); err != nil {
		return nil, err
	}
	out := map[uint32]map[uint32]int64{}
	for !p.atClose() {
		key, entryRest, err := p.entryHead()
		if err != nil {
			return nil, err
		}
		depot, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return nil, malformed("expected integer depot key, found %q", key)
		}
		inner, err := p.int64KeyedDict(entryRest)
		if err != nil {
			return nil, err
		}
		out[uint32(depot)] = inner
	}
	return out, p.expect("}")
}

func (p *parser) int64KeyedDict(rest string) (map[uint32]int64, error) {
	if err := p.openNestedBlock(rest); err != nil {
		return nil, err
	}
	out := map[uint32]int64{}
	for !p.atClose() {
		key, entryRest, err := p.entryHead()
		if err != nil {
			return nil, err
		}
		idx, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return nil, malformed("expected integer chunkstore index, found %q", key)
		}
		v, err := p.scalarValue(entryRest)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, malformed("expected integer chunkstore length, found %q", v)
		}
		out[uint32(idx)] = n
	}
	return out, p.expect("}")
}

// SortedDepots returns s.Depots's members in ascending order, useful for
// deterministic iteration (e.g. the verifier's per-depot output).
func (s *SKU) SortedDepots() []uint32 {
	out := append([]uint32(nil), s.Depots...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
