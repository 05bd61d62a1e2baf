package core

import (
	"errors"
	"math"
	"testing"
)

func TestSpectrumValidate(t *testing.T) {
	peaks := []Peak{{MZ: 100.0, Intensity: 1000.0}, {MZ: 200.0, Intensity: 2000.0}}
	tests := []struct {
		name    string
		edit    func(s *Spectrum)
		wantErr bool
	}{
		{"valid", func(s *Spectrum) {}, false},
		{"unknown charge", func(s *Spectrum) { s.Charge = 0 }, false},
		{"missing title", func(s *Spectrum) { s.Title = "" }, true},
		{"negative charge", func(s *Spectrum) { s.Charge = -1 }, true},
		{"no precursor", func(s *Spectrum) { s.PrecursorMZ = 0 }, true},
		{"no peaks", func(s *Spectrum) { s.Peaks = nil }, true},
		{"unsorted peaks", func(s *Spectrum) { s.Peaks[0], s.Peaks[1] = s.Peaks[1], s.Peaks[0] }, true},
		{"NaN m/z", func(s *Spectrum) { s.Peaks[0].MZ = math.NaN() }, true},
		{"negative intensity", func(s *Spectrum) { s.Peaks[1].Intensity = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := &Spectrum{Title: "scan=1", Charge: 2, PrecursorMZ: 400.5, Peaks: append([]Peak(nil), peaks...)}
			tt.edit(spec)
			err := spec.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSpectrum) {
				t.Errorf("Validate() error %v does not wrap ErrInvalidSpectrum", err)
			}
		})
	}
}

func TestSortPeaks(t *testing.T) {
	spec := &Spectrum{
		Peaks: []Peak{
			{MZ: 300.0, Intensity: 100.0},
			{MZ: 100.0, Intensity: 200.0},
			{MZ: 200.0, Intensity: 150.0},
		},
	}
	if spec.ArePeaksSorted() {
		t.Fatal("ArePeaksSorted() = true before sorting")
	}

	spec.SortPeaks()

	expected := []float64{100.0, 200.0, 300.0}
	for i, peak := range spec.Peaks {
		if peak.MZ != expected[i] {
			t.Errorf("Peak %d: expected m/z %.1f, got %.1f", i, expected[i], peak.MZ)
		}
	}
	if !spec.ArePeaksSorted() {
		t.Error("ArePeaksSorted() = false after sorting")
	}
}

func TestHasPeak(t *testing.T) {
	spec := &Spectrum{
		Peaks: []Peak{
			{MZ: 100.0, Intensity: 1},
			{MZ: 200.0, Intensity: 1},
			{MZ: 300.0, Intensity: 1},
		},
	}

	tests := []struct {
		mz   float64
		want bool
	}{
		{100.01, true},
		{199.98, true},
		{250.0, false},
		{300.03, false},
		{50.0, false},
	}

	for _, tt := range tests {
		if got := spec.HasPeak(tt.mz, 0.02); got != tt.want {
			t.Errorf("HasPeak(%.2f) = %v, want %v", tt.mz, got, tt.want)
		}
	}
}

func TestMZRange(t *testing.T) {
	spec := &Spectrum{Peaks: []Peak{{MZ: 150}, {MZ: 120}, {MZ: 900}}}
	lo, hi := spec.MZRange()
	if lo != 120 || hi != 900 {
		t.Errorf("MZRange() = (%v, %v), want (120, 900)", lo, hi)
	}
}
