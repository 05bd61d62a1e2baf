package fasta

import (
	"strings"
	"testing"
)

func TestReader(t *testing.T) {
	input := `;comment
>sp|P02769|ALBU_BOVIN Serum albumin
MKWVTFISLL
LLFSSAYS*

>DECOY_sp|P02769|ALBU_BOVIN
SYASSFLL
>plain_id
peptide
`

	r := NewReader(strings.NewReader(input))

	var records []*Record
	for r.Next() {
		records = append(records, r.Record())
	}
	if err := r.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	tests := []struct {
		acc, desc, seq string
	}{
		{"P02769", "Serum albumin", "MKWVTFISLLLLFSSAYS"},
		{"DECOY_P02769", "", "SYASSFLL"},
		{"plain_id", "", "PEPTIDE"},
	}
	for i, tt := range tests {
		rec := records[i]
		if rec.Accession != tt.acc || rec.Description != tt.desc || rec.Sequence != tt.seq {
			t.Errorf("record %d = %+v, want %+v", i, *rec, tt)
		}
	}
}

func TestReaderRejectsSequenceBeforeHeader(t *testing.T) {
	r := NewReader(strings.NewReader("MKW\n>P1\nAA\n"))
	if r.Next() {
		t.Fatal("expected no record")
	}
	if r.Err() == nil {
		t.Fatal("expected error")
	}
}
