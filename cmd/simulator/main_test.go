package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/globe-engine/internal/config"
	"github.com/signalsfoundry/globe-engine/internal/logging"
)

const catalog = `0 Sentinel-2A
1 40697U 15028A   24100.50000000  .00000100  00000-0  50000-4 0  9994
2 40697  98.5600 170.0000 0001200  90.0000 270.0000 14.30800000 10002
`

func TestSimulateReportsMovingSatellites(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataSource = dir
	cfg.InitialLayers = []string{"satellites"}
	cfg.Clock.Start = "2024-04-09T12:00:00Z"
	if err := os.WriteFile(filepath.Join(dir, cfg.Satellites.Catalog), []byte(catalog), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	var out bytes.Buffer
	err := simulate(context.Background(), cfg, options{Frames: 120, Every: 60, Limit: 5}, logging.Noop(), &out)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	text := out.String()
	if !strings.Contains(text, "satellites=VISIBLE") {
		t.Fatalf("satellite layer not loaded:\n%s", text)
	}
	if strings.Count(text, "Sentinel-2A") != 2 {
		t.Fatalf("expected two reports:\n%s", text)
	}

	advance := time.Duration(float64(cfg.Clock.Step) * cfg.Clock.Multiplier)
	want := time.Date(2024, time.April, 9, 12, 0, 0, 0, time.UTC).Add(120 * advance).Format(time.RFC3339)
	if !strings.Contains(text, "["+want+"] frame 120") {
		t.Fatalf("final clock %s missing:\n%s", want, text)
	}

	lines := satelliteLines(text)
	if len(lines) != 2 || lines[0] == lines[1] {
		t.Fatalf("satellite did not move between reports: %q", lines)
	}
}

func TestSimulateMissingDataSource(t *testing.T) {
	cfg := config.Default()
	cfg.DataSource = filepath.Join(t.TempDir(), "missing")
	if err := simulate(context.Background(), cfg, options{Frames: 1}, logging.Noop(), &bytes.Buffer{}); err == nil {
		t.Fatalf("expected data source error")
	}
}

func satelliteLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(line, "Sentinel-2A") {
			out = append(out, line)
		}
	}
	return out
}
