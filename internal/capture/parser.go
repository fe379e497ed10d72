package capture

import (
	"fmt"
	"strings"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/change"
)

type LineKind int

const (
	LineBegin LineKind = iota + 1
	LineCommit
	LineDML
)

// Column is one (name, type, raw value) triplet of a DML line. Null is set
// for the literal null marker; Unchanged for an unchanged TOAST datum.
type Column struct {
	Name      string
	Type      string
	Raw       string
	Null      bool
	Unchanged bool
}

type Line struct {
	Schema  string
	Table   string
	Op      change.Kind
	Columns []Column
	Kind    LineKind
}

type ParseError struct {
	Line   string
	Reason string
	Offset int
}

func (e *ParseError) Error() string {
	line := e.Line
	if len(line) > 120 {
		line = line[:120] + "..."
	}
	return fmt.Sprintf("parse change line at offset %d: %s: %q", e.Offset, e.Reason, line)
}

// ParseLine decodes one line of test_decoding output:
//
//	BEGIN 529
//	table public.users: UPDATE: id[integer]:1 name[text]:'O''Brien' note[text]:null
//	COMMIT 529
func ParseLine(data string) (*Line, error) {
	switch {
	case data == "BEGIN" || strings.HasPrefix(data, "BEGIN "):
		return &Line{Kind: LineBegin}, nil
	case data == "COMMIT" || strings.HasPrefix(data, "COMMIT "):
		return &Line{Kind: LineCommit}, nil
	case strings.HasPrefix(data, "table "):
		s := &scanner{src: data, pos: len("table ")}
		return s.dml()
	}
	return nil, &ParseError{Line: data, Reason: "unrecognized line"}
}

type scanner struct {
	src string
	pos int
}

func (s *scanner) fail(reason string) error {
	return &ParseError{Line: s.src, Offset: s.pos, Reason: reason}
}

func (s *scanner) eof() bool {
	return s.pos >= len(s.src)
}

func (s *scanner) consume(lit string) bool {
	if strings.HasPrefix(s.src[s.pos:], lit) {
		s.pos += len(lit)
		return true
	}
	return false
}

func (s *scanner) dml() (*Line, error) {
	line := &Line{Kind: LineDML}
	var err error
	if line.Schema, err = s.ident(); err != nil {
		return nil, err
	}
	if !s.consume(".") {
		return nil, s.fail(`expected "." between schema and table`)
	}
	if line.Table, err = s.ident(); err != nil {
		return nil, err
	}
	if !s.consume(": ") {
		return nil, s.fail(`expected ": " after table name`)
	}
	end := strings.IndexByte(s.src[s.pos:], ':')
	if end < 0 {
		return nil, s.fail("missing operation")
	}
	if line.Op, err = change.ParseKind(s.src[s.pos : s.pos+end]); err != nil {
		return nil, s.fail(err.Error())
	}
	s.pos += end + 1

	if s.consume(" (no-tuple-data)") {
		return line, nil
	}
	if s.consume(" old-key:") {
		// the old key only matters when the key itself changed; the new
		// tuple carries the values that are written
		if _, err := s.triplets(" new-tuple:"); err != nil {
			return nil, err
		}
		if !s.consume(" new-tuple:") {
			return nil, s.fail(`expected "new-tuple:" after old key`)
		}
	}
	if line.Columns, err = s.triplets(""); err != nil {
		return nil, err
	}
	return line, nil
}

// triplets reads " name[type]:value" groups until the end of the line or
// until the input continues with stop.
func (s *scanner) triplets(stop string) ([]Column, error) {
	var cols []Column
	for !s.eof() {
		if stop != "" && strings.HasPrefix(s.src[s.pos:], stop) {
			break
		}
		if !s.consume(" ") {
			return nil, s.fail("expected a space before column")
		}
		col, err := s.triplet()
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return cols, nil
}

func (s *scanner) triplet() (Column, error) {
	var col Column
	var err error
	if col.Name, err = s.ident(); err != nil {
		return col, err
	}
	if !s.consume("[") {
		return col, s.fail(`expected "[" after column name`)
	}
	if col.Type, err = s.typeName(); err != nil {
		return col, err
	}
	if !s.consume(":") {
		return col, s.fail(`expected ":" after column type`)
	}
	err = s.value(&col)
	return col, err
}

// ident reads a bare identifier or a double-quoted one with "" escapes.
func (s *scanner) ident() (string, error) {
	if s.eof() {
		return "", s.fail("expected identifier")
	}
	if s.src[s.pos] == '"' {
		var b strings.Builder
		for i := s.pos + 1; i < len(s.src); i++ {
			if s.src[i] != '"' {
				b.WriteByte(s.src[i])
				continue
			}
			if i+1 < len(s.src) && s.src[i+1] == '"' {
				b.WriteByte('"')
				i++
				continue
			}
			s.pos = i + 1
			return b.String(), nil
		}
		return "", s.fail("unterminated quoted identifier")
	}
	start := s.pos
	for !s.eof() && !strings.ContainsRune(` ."[:`, rune(s.src[s.pos])) {
		s.pos++
	}
	if s.pos == start {
		return "", s.fail("expected identifier")
	}
	return s.src[start:s.pos], nil
}

// typeName reads up to the "]" that closes the already consumed "[".
// Array types such as "integer[]" nest one level.
func (s *scanner) typeName() (string, error) {
	start := s.pos
	depth := 1
	for ; !s.eof(); s.pos++ {
		switch s.src[s.pos] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				name := s.src[start:s.pos]
				s.pos++
				return name, nil
			}
		}
	}
	return "", s.fail("unterminated column type")
}

func (s *scanner) value(col *Column) error {
	if s.eof() || s.src[s.pos] == ' ' {
		col.Raw = ""
		return nil
	}
	if s.src[s.pos] == '\'' {
		var b strings.Builder
		for i := s.pos + 1; i < len(s.src); i++ {
			if s.src[i] != '\'' {
				b.WriteByte(s.src[i])
				continue
			}
			if i+1 < len(s.src) && s.src[i+1] == '\'' {
				b.WriteByte('\'')
				i++
				continue
			}
			s.pos = i + 1
			col.Raw = b.String()
			return nil
		}
		return s.fail("unterminated quoted value")
	}
	start := s.pos
	for !s.eof() && s.src[s.pos] != ' ' {
		s.pos++
	}
	raw := s.src[start:s.pos]
	switch raw {
	case "null":
		col.Null = true
	case "unchanged-toast-datum":
		col.Unchanged = true
	default:
		col.Raw = raw
	}
	return nil
}
