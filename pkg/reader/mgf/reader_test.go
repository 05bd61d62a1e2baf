package mgf

import (
	"strings"
	"testing"
)

const sample = `COM=global parameters are skipped
BEGIN IONS
TITLE=scan=1
PEPMASS=445.12 1200
CHARGE=2+
RTINSECONDS=61.5
300.5 20
200.1 100 1+
END IONS

BEGIN IONS
TITLE=scan=2
PEPMASS=512.3
CHARGE=3+
150.0 5
END IONS
`

func TestReader(t *testing.T) {
	r := NewReader(strings.NewReader(sample), "run1.mgf")

	if !r.Next() {
		t.Fatalf("expected first spectrum, err=%v", r.Err())
	}
	spec := r.Spectrum()
	if spec.Title != "scan=1" {
		t.Errorf("title = %q, want scan=1", spec.Title)
	}
	if spec.PrecursorMZ != 445.12 {
		t.Errorf("precursor = %v, want 445.12", spec.PrecursorMZ)
	}
	if spec.Charge != 2 {
		t.Errorf("charge = %d, want 2", spec.Charge)
	}
	if spec.RetentionTime == nil || *spec.RetentionTime != 61.5 {
		t.Errorf("retention time = %v, want 61.5", spec.RetentionTime)
	}
	if len(spec.Peaks) != 2 || spec.Peaks[0].MZ != 200.1 {
		t.Errorf("peaks = %+v, want two peaks sorted by m/z", spec.Peaks)
	}
	if spec.Peaks[0].Charge != 1 {
		t.Errorf("peak charge = %d, want 1", spec.Peaks[0].Charge)
	}
	if spec.SourceFile != "run1.mgf" {
		t.Errorf("source file = %q", spec.SourceFile)
	}

	if !r.Next() {
		t.Fatalf("expected second spectrum, err=%v", r.Err())
	}
	if r.Spectrum().Charge != 3 {
		t.Errorf("charge = %d, want 3", r.Spectrum().Charge)
	}

	if r.Next() {
		t.Fatal("expected end of file")
	}
	if r.Err() != nil {
		t.Fatalf("unexpected error: %v", r.Err())
	}
}

func TestReaderErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing title", "BEGIN IONS\nPEPMASS=100\n100 1\nEND IONS\n"},
		{"unterminated", "BEGIN IONS\nTITLE=a\n100 1\n"},
		{"bad peak", "BEGIN IONS\nTITLE=a\n100 x\nEND IONS\n"},
		{"bad charge", "BEGIN IONS\nTITLE=a\nCHARGE=two\nEND IONS\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(strings.NewReader(tt.input), "")
			if r.Next() {
				t.Fatal("expected no spectrum")
			}
			if r.Err() == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestParseCharge(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"2+", 2},
		{"3", 3},
		{"1-", -1},
		{"2+ and 3+", 2},
	}
	for _, tt := range tests {
		got, err := parseCharge(tt.in)
		if err != nil {
			t.Errorf("parseCharge(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseCharge(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
