// Package core provides the peptide, modification and spectrum models shared by
// the validation pipeline.
package core

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
)

// ErrInvalidSpectrum wraps every problem reported by Spectrum.Validate.
var ErrInvalidSpectrum = errors.New("invalid spectrum")

// Spectrum is one MS/MS scan, keyed by the title its spectrum match refers to.
type Spectrum struct {
	Title         string
	PrecursorMZ   float64
	Peaks         []Peak
	Charge        int      // 0 if unknown
	RetentionTime *float64 // seconds
	SourceFile    string
}

// Peak is a fragment m/z and intensity.
type Peak struct {
	MZ        float64
	Intensity float64
	Charge    int // 0 if unknown
}

// Validate checks that a spectrum can be used for site scoring.
func (s *Spectrum) Validate() error {
	var errs []error
	if s.Title == "" {
		errs = append(errs, errors.New("title is required"))
	}
	if s.PrecursorMZ <= 0 {
		errs = append(errs, errors.New("precursor m/z must be positive"))
	}
	if s.Charge < 0 {
		errs = append(errs, errors.New("charge must not be negative"))
	}
	if len(s.Peaks) == 0 {
		errs = append(errs, errors.New("no peaks"))
	}
	for i, p := range s.Peaks {
		if math.IsNaN(p.MZ) || math.IsInf(p.MZ, 0) || p.MZ <= 0 {
			errs = append(errs, fmt.Errorf("peak %d has invalid m/z %v", i, p.MZ))
		}
		if math.IsNaN(p.Intensity) || math.IsInf(p.Intensity, 0) || p.Intensity < 0 {
			errs = append(errs, fmt.Errorf("peak %d has invalid intensity %v", i, p.Intensity))
		}
	}
	if !s.ArePeaksSorted() {
		errs = append(errs, errors.New("peaks must be sorted by m/z"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w %q: %w", ErrInvalidSpectrum, s.Title, errors.Join(errs...))
	}
	return nil
}

// ArePeaksSorted checks if peaks are sorted by m/z in ascending order.
func (s *Spectrum) ArePeaksSorted() bool {
	return slices.IsSortedFunc(s.Peaks, func(a, b Peak) int {
		switch {
		case a.MZ < b.MZ:
			return -1
		case a.MZ > b.MZ:
			return 1
		}
		return 0
	})
}

// SortPeaks sorts peaks by m/z in ascending order.
func (s *Spectrum) SortPeaks() {
	sort.SliceStable(s.Peaks, func(i, j int) bool {
		return s.Peaks[i].MZ < s.Peaks[j].MZ
	})
}

// HasPeak reports whether a peak lies within tol (Da) of mz. Peaks must be sorted.
func (s *Spectrum) HasPeak(mz, tol float64) bool {
	i := sort.Search(len(s.Peaks), func(i int) bool {
		return s.Peaks[i].MZ >= mz-tol
	})
	return i < len(s.Peaks) && s.Peaks[i].MZ <= mz+tol
}

// MZRange returns the lowest and highest peak m/z.
func (s *Spectrum) MZRange() (float64, float64) {
	if len(s.Peaks) == 0 {
		return 0, 0
	}
	lo, hi := s.Peaks[0].MZ, s.Peaks[0].MZ
	for _, p := range s.Peaks[1:] {
		lo = math.Min(lo, p.MZ)
		hi = math.Max(hi, p.MZ)
	}
	return lo, hi
}
