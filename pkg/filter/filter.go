// Package filter prepares spectrum peaks for modification site scoring
package filter

import (
	"fmt"
	"math"
	"slices"

	"github.com/ChrisMcGann/psvalidate/pkg/core"
)

// Config selects the peaks a site scorer gets to see
type Config struct {
	IntensityCutoff float64 // % of base peak below which peaks are dropped (0 = no cutoff)
	WindowTopN      int     // most intense peaks kept per m/z window (0 = off)
	WindowSize      float64 // m/z width of a window
}

// Validate checks the configuration for impossible values
func (c *Config) Validate() error {
	if c.IntensityCutoff < 0 || c.IntensityCutoff > 100 {
		return fmt.Errorf("intensity cutoff must be within [0, 100], got %.2f", c.IntensityCutoff)
	}
	if c.WindowTopN < 0 {
		return fmt.Errorf("window top-n must not be negative, got %d", c.WindowTopN)
	}
	if c.WindowTopN > 0 && c.WindowSize <= 0 {
		return fmt.Errorf("window size must be positive when window top-n is set")
	}
	return nil
}

// Apply returns a filtered copy of spec with peaks sorted by m/z. The input
// spectrum is left untouched.
func (c *Config) Apply(spec *core.Spectrum) (*core.Spectrum, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	out := *spec
	out.Peaks = slices.DeleteFunc(slices.Clone(spec.Peaks), func(p core.Peak) bool {
		return p.Intensity <= 0
	})

	if c.IntensityCutoff > 0 && len(out.Peaks) > 0 {
		base := slices.MaxFunc(out.Peaks, func(a, b core.Peak) int {
			return cmpFloat(a.Intensity, b.Intensity)
		}).Intensity
		threshold := c.IntensityCutoff / 100 * base
		out.Peaks = slices.DeleteFunc(out.Peaks, func(p core.Peak) bool {
			return p.Intensity < threshold
		})
	}

	out.SortPeaks()
	if c.WindowTopN > 0 {
		out.Peaks = windowTopN(out.Peaks, c.WindowTopN, c.WindowSize)
	}
	return &out, nil
}

// windowTopN keeps the n most intense of each m/z window of the given width,
// windows anchored at the lowest peak. peaks must be sorted by m/z; the
// result is too.
func windowTopN(peaks []core.Peak, n int, width float64) []core.Peak {
	if len(peaks) == 0 {
		return peaks
	}
	lo := peaks[0].MZ

	var kept []core.Peak
	for start := 0; start < len(peaks); {
		w := math.Floor((peaks[start].MZ - lo) / width)
		end := start + 1
		for end < len(peaks) && math.Floor((peaks[end].MZ-lo)/width) == w {
			end++
		}
		kept = append(kept, mostIntense(peaks[start:end], n)...)
		start = end
	}
	slices.SortFunc(kept, func(a, b core.Peak) int { return cmpFloat(a.MZ, b.MZ) })
	return kept
}

// mostIntense returns up to n peaks by intensity, lower m/z first on ties.
func mostIntense(peaks []core.Peak, n int) []core.Peak {
	sorted := slices.Clone(peaks)
	slices.SortFunc(sorted, func(a, b core.Peak) int {
		if c := cmpFloat(b.Intensity, a.Intensity); c != 0 {
			return c
		}
		return cmpFloat(a.MZ, b.MZ)
	})
	return sorted[:min(n, len(sorted))]
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
