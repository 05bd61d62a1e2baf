// Package hits provides a streaming reader for tab-separated search engine
// hits, one candidate per line.
package hits

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/ChrisMcGann/psvalidate/pkg/core"
	"github.com/ChrisMcGann/psvalidate/pkg/identification"
	"github.com/ChrisMcGann/psvalidate/pkg/protein"
)

// Columns of a hits file. The header row names them in any order; spectrum,
// algorithm and one of sequence or tag are required.
const (
	ColSpectrum       = "spectrum"
	ColFile           = "file"
	ColAlgorithm      = "algorithm"
	ColRank           = "rank"
	ColSequence       = "sequence"
	ColModifications  = "modifications"
	ColTag            = "tag"
	ColCharge         = "charge"
	ColScore          = "score"
	ColProteins       = "proteins"
	ColPrecursorError = "precursor_error_ppm"
)

// Hit is one parsed line. Exactly one of Peptide and Tag is set.
type Hit struct {
	Spectrum string
	File     string
	Peptide  *identification.PeptideAssumption
	Tag      *identification.TagAssumption
}

// Reader provides streaming access to hits files
type Reader struct {
	scanner   *bufio.Scanner
	modDB     *core.ModDatabase
	decoyTags []string
	columns   map[string]int
	lineNum   int
	current   *Hit
	err       error
}

// NewReader creates a new hits reader. Decoy hits are recognised by the
// accession tags of their proteins; nil tags use protein.DefaultDecoyTags.
func NewReader(r io.Reader, modDB *core.ModDatabase, decoyTags []string) *Reader {
	if modDB == nil {
		modDB = core.DefaultModDatabase()
	}
	if decoyTags == nil {
		decoyTags = protein.DefaultDecoyTags
	}
	return &Reader{
		scanner:   bufio.NewScanner(r),
		modDB:     modDB,
		decoyTags: decoyTags,
	}
}

// Next advances to the next hit. Returns false when no more hits or error.
func (r *Reader) Next() bool {
	r.current = nil

	hit, err := r.readHit()
	if err != nil {
		if err != io.EOF {
			r.err = err
		}
		return false
	}

	r.current = hit
	return true
}

// Hit returns the current hit
func (r *Reader) Hit() *Hit {
	return r.current
}

// Err returns any error encountered during reading
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) readHit() (*Hit, error) {
	for r.scanner.Scan() {
		r.lineNum++
		line := strings.TrimRight(r.scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")

		if r.columns == nil {
			if err := r.parseHeader(fields); err != nil {
				return nil, fmt.Errorf("line %d: %w", r.lineNum, err)
			}
			continue
		}

		hit, err := r.parseHit(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", r.lineNum, err)
		}
		return hit, nil
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (r *Reader) parseHeader(fields []string) error {
	r.columns = make(map[string]int, len(fields))
	for i, f := range fields {
		r.columns[strings.ToLower(strings.TrimSpace(f))] = i
	}
	for _, col := range []string{ColSpectrum, ColAlgorithm} {
		if _, ok := r.columns[col]; !ok {
			return fmt.Errorf("missing %s column", col)
		}
	}
	_, seq := r.columns[ColSequence]
	_, tag := r.columns[ColTag]
	if !seq && !tag {
		return fmt.Errorf("missing %s or %s column", ColSequence, ColTag)
	}
	return nil
}

// field returns the trimmed value of a column, empty when absent.
func (r *Reader) field(fields []string, col string) string {
	i, ok := r.columns[col]
	if !ok || i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}

func (r *Reader) parseHit(fields []string) (*Hit, error) {
	hit := &Hit{
		Spectrum: r.field(fields, ColSpectrum),
		File:     r.field(fields, ColFile),
	}
	if hit.Spectrum == "" {
		return nil, fmt.Errorf("empty spectrum")
	}
	algorithm := r.field(fields, ColAlgorithm)
	if algorithm == "" {
		return nil, fmt.Errorf("empty algorithm")
	}

	rank := 1
	if s := r.field(fields, ColRank); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid rank: %w", err)
		}
		rank = n
	}

	charge := 0
	if s := r.field(fields, ColCharge); s != "" {
		n, err := strconv.Atoi(strings.TrimRight(s, "+"))
		if err != nil {
			return nil, fmt.Errorf("invalid charge: %w", err)
		}
		charge = n
	}

	score, err := parseScore(r.field(fields, ColScore))
	if err != nil {
		return nil, err
	}

	accessions := identification.NormalizeAccessions(strings.Split(r.field(fields, ColProteins), ";"))
	decoy := len(accessions) > 0
	for _, acc := range accessions {
		if !protein.IsDecoyAccession(acc, r.decoyTags) {
			decoy = false
			break
		}
	}

	sequence := strings.ToUpper(r.field(fields, ColSequence))
	if sequence == "" {
		tag := r.field(fields, ColTag)
		if tag == "" {
			return nil, fmt.Errorf("neither sequence nor tag given")
		}
		hit.Tag = &identification.TagAssumption{
			Algorithm: algorithm,
			Rank:      rank,
			Tag:       tag,
			Charge:    charge,
			Score:     score,
			Decoy:     decoy,
		}
		return hit, nil
	}

	mods, err := r.modDB.ParseModString(r.field(fields, ColModifications), sequence)
	if err != nil {
		return nil, err
	}
	peptide := core.Peptide{Sequence: sequence, Modifications: mods}
	peptide.SortModifications()

	var ppm float64
	if s := r.field(fields, ColPrecursorError); s != "" {
		ppm, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid precursor error: %w", err)
		}
	}

	hit.Peptide = &identification.PeptideAssumption{
		Algorithm:         algorithm,
		Rank:              rank,
		Peptide:           peptide,
		Charge:            charge,
		Score:             score,
		Accessions:        accessions,
		Decoy:             decoy,
		PrecursorErrorPPM: ppm,
	}
	return hit, nil
}

// parseScore reads a raw score; empty, NA and NaN mean no score.
func parseScore(s string) (identification.Score, error) {
	switch strings.ToLower(s) {
	case "", "na", "nan", "null":
		return identification.NoScore(), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return identification.NoScore(), fmt.Errorf("invalid score: %w", err)
	}
	return identification.Score(f), nil
}

// ReadMatches reads every hit and groups them into spectrum matches keyed by
// spectrum, returned in key order.
func ReadMatches(r *Reader) ([]*identification.SpectrumMatch, error) {
	byKey := make(map[string]*identification.SpectrumMatch)
	for r.Next() {
		hit := r.Hit()
		m, ok := byKey[hit.Spectrum]
		if !ok {
			m = identification.NewSpectrumMatch(hit.Spectrum)
			m.SpectrumFile = hit.File
			byKey[hit.Spectrum] = m
		}
		if hit.Peptide != nil {
			m.AddPeptideAssumption(*hit.Peptide)
		} else {
			m.AddTagAssumption(*hit.Tag)
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}

	out := make([]*identification.SpectrumMatch, 0, len(byKey))
	for _, m := range byKey {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
