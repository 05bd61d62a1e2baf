// Package fasta provides a streaming reader for FASTA protein databases
package fasta

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Record is a single FASTA entry
type Record struct {
	Accession   string
	Description string
	Sequence    string
}

// Reader provides streaming access to FASTA files
type Reader struct {
	scanner    *bufio.Scanner
	lineNum    int
	pending    string // header line read ahead of the current record
	currentRec *Record
	err        error
}

// NewReader creates a new FASTA reader
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	// protein sequences can sit on a single very long line
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Reader{scanner: scanner}
}

// Next advances to the next record. Returns false when no more records or error.
func (r *Reader) Next() bool {
	r.currentRec = nil

	rec, err := r.readRecord()
	if err != nil {
		if err != io.EOF {
			r.err = err
		}
		return false
	}

	r.currentRec = rec
	return true
}

// Record returns the current record
func (r *Reader) Record() *Record {
	return r.currentRec
}

// Err returns any error encountered during reading
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) readRecord() (*Record, error) {
	header := r.pending
	r.pending = ""

	// Find the first header
	for header == "" {
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		r.lineNum++
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		if !strings.HasPrefix(line, ">") {
			return nil, fmt.Errorf("line %d: sequence data before first header", r.lineNum)
		}
		header = line
	}

	rec, err := parseHeader(header)
	if err != nil {
		return nil, fmt.Errorf("line %d: %w", r.lineNum, err)
	}

	var seq strings.Builder
	for r.scanner.Scan() {
		r.lineNum++
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			r.pending = line
			break
		}
		seq.WriteString(strings.ToUpper(strings.TrimSuffix(line, "*")))
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}

	rec.Sequence = seq.String()
	return rec, nil
}

// parseHeader extracts the accession from headers like
// ">sp|P02769|ALBU_BOVIN Serum albumin" or ">DECOY_P02769 description".
func parseHeader(line string) (*Record, error) {
	header := strings.TrimSpace(strings.TrimPrefix(line, ">"))
	if header == "" {
		return nil, fmt.Errorf("empty FASTA header")
	}

	id, desc, _ := strings.Cut(header, " ")
	rec := &Record{Accession: id, Description: strings.TrimSpace(desc)}

	// UniProt style db|accession|entry
	if parts := strings.Split(id, "|"); len(parts) >= 3 {
		rec.Accession = parts[1]
		if prefix := decoyPrefix(parts[0]); prefix != "" {
			rec.Accession = prefix + parts[1]
		}
	}

	return rec, nil
}

// decoyPrefix keeps a decoy marker that was put on the database token,
// e.g. "DECOY_sp|P1|X" becomes "DECOY_P1".
func decoyPrefix(db string) string {
	if i := strings.LastIndex(db, "_"); i > 0 {
		return db[:i+1]
	}
	return ""
}
