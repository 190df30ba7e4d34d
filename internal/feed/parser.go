package feed

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"bullionwatch/internal/rates"
)

// Format names a feed payload shape.
type Format string

const (
	// FormatTSV is tab-delimited text; rows are counted from 1.
	FormatTSV Format = "tsv"
	// FormatJSON is a JSON array of arrays; rows and fields are counted from 0.
	FormatJSON Format = "json"
)

// ErrFormatMismatch indicates the payload no longer has the configured shape.
var ErrFormatMismatch = errors.New("feed: format mismatch")

var numericCell = regexp.MustCompile(`^[+-]?\d[\d,]*(\.\d+)?$`)

// Address locates one cell inside a payload.
type Address struct {
	Row    int `mapstructure:"row"`
	Column int `mapstructure:"column"`
}

// Addressing maps each metal to its cell.
type Addressing struct {
	Gold   Address `mapstructure:"gold"`
	Silver Address `mapstructure:"silver"`
}

// For returns the address configured for m.
func (a Addressing) For(m rates.Metal) Address {
	if m == rates.Silver {
		return a.Silver
	}
	return a.Gold
}

// ParseError describes a cell that could not be read.
type ParseError struct {
	Address Address
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("feed: cell (%d,%d): %s", e.Address.Row, e.Address.Column, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrFormatMismatch }

// Table is a decoded payload ready for cell lookups.
type Table struct {
	format Format
	lines  []string
	rows   []json.RawMessage
}

// ParseFormat validates a configured format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatTSV:
		return FormatTSV, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown feed format %q", s)
	}
}

// Decode splits a raw body into rows without interpreting any cell.
func Decode(body []byte, format Format) (Table, error) {
	switch format {
	case FormatTSV:
		scanner := bufio.NewScanner(bytes.NewReader(body))
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		var lines []string
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return Table{}, fmt.Errorf("%w: read rows: %v", ErrFormatMismatch, err)
		}
		return Table{format: format, lines: lines}, nil
	case FormatJSON:
		var rows []json.RawMessage
		if err := json.Unmarshal(body, &rows); err != nil {
			return Table{}, fmt.Errorf("%w: expected array of arrays: %v", ErrFormatMismatch, err)
		}
		return Table{format: format, rows: rows}, nil
	default:
		return Table{}, fmt.Errorf("%w: unsupported format %q", ErrFormatMismatch, format)
	}
}

// Rows returns the number of rows in the table.
func (t Table) Rows() int {
	if t.format == FormatTSV {
		return len(t.lines)
	}
	return len(t.rows)
}

// Cell returns the trimmed literal at addr.
func (t Table) Cell(addr Address) (string, error) {
	var (
		raw string
		err error
	)
	switch t.format {
	case FormatTSV:
		raw, err = t.tsvCell(addr)
	case FormatJSON:
		raw, err = t.jsonCell(addr)
	default:
		return "", &ParseError{Address: addr, Reason: "table not decoded"}
	}
	if err != nil {
		return "", err
	}

	value := strings.TrimSpace(raw)
	if !numericCell.MatchString(value) {
		return "", &ParseError{Address: addr, Reason: fmt.Sprintf("non-numeric value %q", value)}
	}
	return value, nil
}

func (t Table) tsvCell(addr Address) (string, error) {
	if addr.Row < 1 || addr.Row > len(t.lines) {
		return "", &ParseError{Address: addr, Reason: fmt.Sprintf("row out of range (have %d rows)", len(t.lines))}
	}
	columns := strings.Split(t.lines[addr.Row-1], "\t")
	if addr.Column < 0 || addr.Column >= len(columns) {
		return "", &ParseError{Address: addr, Reason: fmt.Sprintf("column out of range (have %d columns)", len(columns))}
	}
	return columns[addr.Column], nil
}

func (t Table) jsonCell(addr Address) (string, error) {
	if addr.Row < 0 || addr.Row >= len(t.rows) {
		return "", &ParseError{Address: addr, Reason: fmt.Sprintf("row out of range (have %d rows)", len(t.rows))}
	}

	var fields []json.RawMessage
	if err := json.Unmarshal(t.rows[addr.Row], &fields); err != nil {
		return "", &ParseError{Address: addr, Reason: "row is not an array"}
	}
	if addr.Column < 0 || addr.Column >= len(fields) {
		return "", &ParseError{Address: addr, Reason: fmt.Sprintf("field out of range (have %d fields)", len(fields))}
	}

	field := bytes.TrimSpace(fields[addr.Column])
	if len(field) > 0 && field[0] == '"' {
		var s string
		if err := json.Unmarshal(field, &s); err != nil {
			return "", &ParseError{Address: addr, Reason: "malformed string"}
		}
		return s, nil
	}
	// numbers keep their literal text
	return string(field), nil
}

// Parse extracts both metals. Any missing cell fails the whole parse.
func Parse(body []byte, format Format, addressing Addressing) (rates.Quote, error) {
	table, err := Decode(body, format)
	if err != nil {
		return rates.Quote{}, err
	}

	gold, err := table.Cell(addressing.Gold)
	if err != nil {
		return rates.Quote{}, fmt.Errorf("gold: %w", err)
	}
	silver, err := table.Cell(addressing.Silver)
	if err != nil {
		return rates.Quote{}, fmt.Errorf("silver: %w", err)
	}

	return rates.Quote{Gold: gold, Silver: silver}, nil
}
