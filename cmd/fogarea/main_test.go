package main

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mohammed-shakir/fogmap-area/internal/area"
	"github.com/mohammed-shakir/fogmap-area/internal/coverage/coveragetest"
	"github.com/mohammed-shakir/fogmap-area/internal/importer"
)

func writeArchive(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := importer.WriteSyncArchive(&buf, coveragetest.ReferenceTrack()); err != nil {
		t.Fatalf("WriteSyncArchive: %v", err)
	}
	p := filepath.Join(t.TempDir(), "sync.zip")
	if err := os.WriteFile(p, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRun_JSONAllStrategies(t *testing.T) {
	p := writeArchive(t)
	var stdout, stderr bytes.Buffer
	code := run([]string{"-archive", p, "-strategy", "all", "-parallel", "4", "-compare", "-cells", "7", "-json"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, stderr.String())
	}
	var out output
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v\n%s", err, stdout.String())
	}
	if out.Blocks != 71 || out.Pixels != 39045 {
		t.Fatalf("blocks=%d pixels=%d", out.Blocks, out.Pixels)
	}
	if len(out.Results) != 5 {
		t.Fatalf("results=%d", len(out.Results))
	}
	for _, r := range out.Results {
		if math.Abs(r.Area-coveragetest.ReferenceArea) > area.Tolerance {
			t.Fatalf("%s: %v", r.Strategy, r.Area)
		}
	}
	if out.Report == nil || !out.Report.WithinTolerance {
		t.Fatalf("report: %+v", out.Report)
	}
	if out.Cells == nil || out.Cells.Res != 7 || len(out.Cells.Cells) == 0 {
		t.Fatalf("cells: %+v", out.Cells)
	}
}

func TestRun_Table(t *testing.T) {
	p := writeArchive(t)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-archive", p, "-strategy", "exact,block-only"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, stderr.String())
	}
	s := stdout.String()
	for _, want := range []string{"71 blocks", "39045 pixels", "exact", "block_only", "AREA_KM2"} {
		if !strings.Contains(s, want) {
			t.Fatalf("output missing %q:\n%s", want, s)
		}
	}
}

func TestRun_Errors(t *testing.T) {
	p := writeArchive(t)
	cases := []struct {
		name string
		args []string
		code int
	}{
		{"no archive", nil, 2},
		{"bad strategy", []string{"-archive", p, "-strategy", "guess"}, 2},
		{"missing file", []string{"-archive", filepath.Join(t.TempDir(), "none.zip")}, 1},
		{"bad resolution", []string{"-archive", p, "-cells", "16"}, 1},
		{"unknown flag", []string{"-nope"}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if got := run(tc.args, &stdout, &stderr); got != tc.code {
				t.Fatalf("exit=%d want %d stderr=%s", got, tc.code, stderr.String())
			}
		})
	}
}
