// Package mgf provides a streaming reader for Mascot Generic Format peak lists
package mgf

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ChrisMcGann/psvalidate/pkg/core"
)

// Reader provides streaming access to MGF files
type Reader struct {
	scanner     *bufio.Scanner
	sourceFile  string
	lineNum     int
	currentSpec *core.Spectrum
	err         error
}

// NewReader creates a new MGF reader. sourceFile is recorded on every spectrum.
func NewReader(r io.Reader, sourceFile string) *Reader {
	return &Reader{
		scanner:    bufio.NewScanner(r),
		sourceFile: sourceFile,
	}
}

// Next advances to the next spectrum. Returns false when no more spectra or error.
func (r *Reader) Next() bool {
	r.currentSpec = nil

	spec, err := r.readSpectrum()
	if err != nil {
		if err != io.EOF {
			r.err = err
		}
		return false
	}

	r.currentSpec = spec
	return true
}

// Spectrum returns the current spectrum
func (r *Reader) Spectrum() *core.Spectrum {
	return r.currentSpec
}

// Err returns any error encountered during reading
func (r *Reader) Err() error {
	return r.err
}

// readSpectrum reads one BEGIN IONS ... END IONS block
func (r *Reader) readSpectrum() (*core.Spectrum, error) {
	var spec *core.Spectrum

	for r.scanner.Scan() {
		r.lineNum++
		line := strings.TrimSpace(r.scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if spec == nil {
			if line == "BEGIN IONS" {
				spec = &core.Spectrum{SourceFile: r.sourceFile, Peaks: []core.Peak{}}
			}
			// global parameters before the first block are ignored
			continue
		}

		if line == "END IONS" {
			if spec.Title == "" {
				return nil, fmt.Errorf("line %d: spectrum without TITLE", r.lineNum)
			}
			spec.SortPeaks()
			return spec, nil
		}

		if key, value, ok := strings.Cut(line, "="); ok {
			if err := r.parseHeader(spec, strings.ToUpper(key), value); err != nil {
				return nil, fmt.Errorf("line %d: %w", r.lineNum, err)
			}
			continue
		}

		peak, err := r.parsePeak(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", r.lineNum, err)
		}
		spec.Peaks = append(spec.Peaks, peak)
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	if spec != nil {
		return nil, fmt.Errorf("line %d: unterminated spectrum %q", r.lineNum, spec.Title)
	}
	return nil, io.EOF
}

func (r *Reader) parseHeader(spec *core.Spectrum, key, value string) error {
	switch key {
	case "TITLE":
		spec.Title = strings.TrimSpace(value)

	case "PEPMASS":
		// PEPMASS=mz [intensity]
		fields := strings.Fields(value)
		if len(fields) == 0 {
			return fmt.Errorf("empty PEPMASS")
		}
		mz, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return fmt.Errorf("invalid PEPMASS: %w", err)
		}
		spec.PrecursorMZ = mz

	case "CHARGE":
		charge, err := parseCharge(value)
		if err != nil {
			return err
		}
		spec.Charge = charge

	case "RTINSECONDS":
		rt, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err == nil {
			spec.RetentionTime = &rt
		}
	}
	return nil
}

// parseCharge reads "2+", "3-" or "2". Only the first of "2+ and 3+" is kept.
func parseCharge(value string) (int, error) {
	value = strings.TrimSpace(value)
	if i := strings.IndexAny(value, " ,"); i > 0 {
		value = value[:i]
	}
	sign := 1
	if strings.HasSuffix(value, "-") {
		sign = -1
	}
	value = strings.TrimRight(value, "+-")
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid CHARGE %q", value)
	}
	return sign * n, nil
}

// parsePeak parses a peak line (format: "mz intensity [charge]")
func (r *Reader) parsePeak(line string) (core.Peak, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return core.Peak{}, fmt.Errorf("invalid peak format, expected at least 2 fields")
	}

	mz, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return core.Peak{}, fmt.Errorf("invalid m/z value: %w", err)
	}

	intensity, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return core.Peak{}, fmt.Errorf("invalid intensity value: %w", err)
	}

	peak := core.Peak{MZ: mz, Intensity: intensity}
	if len(fields) >= 3 {
		if z, err := parseCharge(fields[2]); err == nil {
			peak.Charge = z
		}
	}
	return peak, nil
}
