package core

import (
	"strings"
	"testing"

	"github.com/signalsfoundry/globe-engine/model"
)

// ISS elements with an epoch of 2008-09-20.
const (
	issLine1 = "1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927"
	issLine2 = "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537"
)

// Sun-synchronous elements with an epoch of 2024-04-09 12:00 UTC.
const (
	s2aLine1 = "1 40697U 15028A   24100.50000000  .00000100  00000-0  50000-4 0  9994"
	s2aLine2 = "2 40697  98.5600 170.0000 0001200  90.0000 270.0000 14.30800000 10002"
	s3aLine1 = "1 41335U 16011A   24100.50000000  .00000050  00000-0  30000-4 0  9999"
	s3aLine2 = "2 41335  98.6200  80.0000 0001100  95.0000 265.0000 14.26700000 10001"
)

func mustElementSet(t *testing.T, name, l1, l2 string) *model.ElementSet {
	t.Helper()
	es, err := NewElementSet(name, l1, l2)
	if err != nil {
		t.Fatalf("NewElementSet(%q): %v", name, err)
	}
	return es
}

// corruptChecksum flips the final checksum digit of an element line.
func corruptChecksum(line string) string {
	last := line[len(line)-1]
	return line[:len(line)-1] + string('0'+(last-'0'+1)%10)
}

func catalog(lines ...string) *strings.Reader {
	return strings.NewReader(strings.Join(lines, "\n") + "\n")
}
