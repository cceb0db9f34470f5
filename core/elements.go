package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/globe-engine/model"
)

// tleLineLength is the fixed width of a two-line element record.
const tleLineLength = 69

var (
	// ErrMalformedElements indicates element lines that fail format validation.
	ErrMalformedElements = errors.New("malformed element lines")
	// ErrElementInit indicates that SGP4 initialisation rejected the elements.
	ErrElementInit = errors.New("sgp4 initialisation failed")
)

// CatalogParse is the result of parsing an element catalog.
type CatalogParse struct {
	Sets []*model.ElementSet
	// Malformed counts element groups that were dropped during parsing.
	Malformed int
}

// NewElementSet validates the two element lines and initialises the SGP4
// record. go-satellite terminates the process on unparsable fields, so every
// field it reads is checked here first.
func NewElementSet(name, line1, line2 string) (*model.ElementSet, error) {
	line1 = strings.TrimRight(line1, " \t")
	line2 = strings.TrimRight(line2, " \t")
	if err := validateElementLines(line1, line2); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedElements, name, err)
	}

	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	if sat.Error != 0 {
		return nil, fmt.Errorf("%w: %q: code=%d %s", ErrElementInit, name, sat.Error, sat.ErrorStr)
	}

	catnum := strings.TrimSpace(line1[2:7])
	if name == "" {
		name = catnum
	}
	return &model.ElementSet{
		Name:          name,
		CatalogNumber: catnum,
		Line1:         line1,
		Line2:         line2,
		Sat:           sat,
	}, nil
}

// ParseCatalog reads a catalog of element groups. Each group is two element
// lines, optionally preceded by a name line ("0 " prefixes are stripped).
// Blank lines and lines starting with '#' are ignored. Groups that cannot be
// parsed are counted and skipped; only read errors are returned.
func ParseCatalog(r io.Reader) (CatalogParse, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return CatalogParse{}, fmt.Errorf("read catalog: %w", err)
	}

	var res CatalogParse
	for i := 0; i < len(lines); {
		var name, l1, l2 string
		switch {
		case isElementLine(lines[i], '1') && i+1 < len(lines) && isElementLine(lines[i+1], '2'):
			l1, l2 = lines[i], lines[i+1]
			i += 2
		case i+2 < len(lines) && isElementLine(lines[i+1], '1') && isElementLine(lines[i+2], '2'):
			name = cleanName(lines[i])
			l1, l2 = lines[i+1], lines[i+2]
			i += 3
		default:
			res.Malformed++
			i++
			continue
		}

		es, err := NewElementSet(name, l1, l2)
		if err != nil {
			res.Malformed++
			continue
		}
		res.Sets = append(res.Sets, es)
	}
	return res, nil
}

func isElementLine(line string, num byte) bool {
	return len(line) >= 2 && line[0] == num && line[1] == ' '
}

func cleanName(line string) string {
	name := strings.TrimSpace(line)
	return strings.TrimSpace(strings.TrimPrefix(name, "0 "))
}

func validateElementLines(line1, line2 string) error {
	if len(line1) != tleLineLength {
		return fmt.Errorf("line 1 length %d, want %d", len(line1), tleLineLength)
	}
	if len(line2) != tleLineLength {
		return fmt.Errorf("line 2 length %d, want %d", len(line2), tleLineLength)
	}
	if !isElementLine(line1, '1') || !isElementLine(line2, '2') {
		return errors.New("bad line numbers")
	}
	if c1, c2 := strings.TrimSpace(line1[2:7]), strings.TrimSpace(line2[2:7]); c1 != c2 {
		return fmt.Errorf("catalog number mismatch %q/%q", c1, c2)
	}
	for n, line := range []string{line1, line2} {
		if !checksumOK(line) {
			return fmt.Errorf("line %d checksum mismatch", n+1)
		}
	}

	fields := []struct {
		value     string
		maxBlanks int
		integer   bool
	}{
		{line1[2:7], 2, true},
		{line1[18:20], 0, true},
		{line1[20:32], 0, false},
		{line1[33:43], 2, false},
		{line1[44:45] + "." + line1[45:50] + "e" + line1[50:52], 2, false},
		{line1[53:54] + "." + line1[54:59] + "e" + line1[59:61], 2, false},
		{line2[8:16], 2, false},
		{line2[17:25], 2, false},
		{"." + line2[26:33], 0, false},
		{line2[34:42], 2, false},
		{line2[43:51], 2, false},
		{line2[52:63], 2, false},
	}
	for _, f := range fields {
		if !numericField(f.value, f.maxBlanks, f.integer) {
			return fmt.Errorf("numeric field %q", f.value)
		}
	}
	return nil
}

// numericField accepts a fixed-width field padded with at most maxBlanks
// blanks and no interior blanks.
func numericField(f string, maxBlanks int, integer bool) bool {
	trimmed := strings.TrimSpace(f)
	if trimmed == "" || strings.ContainsAny(trimmed, " \t") {
		return false
	}
	if strings.Count(f, " ") > maxBlanks {
		return false
	}
	var err error
	if integer {
		_, err = strconv.Atoi(trimmed)
	} else {
		_, err = strconv.ParseFloat(trimmed, 64)
	}
	return err == nil
}

// checksumOK verifies the modulo-10 checksum in column 69: digits count at
// face value, minus signs count as one.
func checksumOK(line string) bool {
	sum := 0
	for i := 0; i < tleLineLength-1; i++ {
		switch c := line[i]; {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	last := line[tleLineLength-1]
	return last >= '0' && last <= '9' && sum%10 == int(last-'0')
}
