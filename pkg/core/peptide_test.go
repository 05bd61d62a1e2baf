package core

import (
	"strings"
	"testing"
)

func TestPeptideKey(t *testing.T) {
	a := Peptide{
		Sequence: "PEPMSK",
		Modifications: []Modification{
			{Name: "Phospho", Mass: 79.966331, Position: 4, Variable: true},
			{Name: "Oxidation", Mass: 15.994915, Position: 3, Variable: true},
		},
	}
	b := Peptide{
		Sequence: "PEPMSK",
		Modifications: []Modification{
			{Name: "Oxidation", Mass: 15.994915, Position: 3, Variable: true},
			{Name: "Phospho", Mass: 79.966331, Position: 4, Variable: true},
		},
	}

	if a.Key() != "PEPMSK|Oxidation@4;Phospho@5" {
		t.Errorf("unexpected key %q", a.Key())
	}
	if !a.SameSequenceAndModifications(b) {
		t.Error("modification order should not change identity")
	}
	if a.Modifications[0].Name != "Phospho" {
		t.Error("Key() must not reorder the receiver's modifications")
	}

	plain := Peptide{Sequence: "PEPMSK"}
	if plain.Key() != "PEPMSK" {
		t.Errorf("unmodified key should be the sequence, got %q", plain.Key())
	}
	if plain.SameSequenceAndModifications(a) || !plain.SameSequence(a) {
		t.Error("sequence and modification comparisons disagree")
	}
}

func TestModStringRoundTrip(t *testing.T) {
	db := DefaultModDatabase()
	p := Peptide{
		Sequence: "MPEPSK",
		Modifications: []Modification{
			{Name: "Acetyl (Protein N-term)", Mass: 42.010565, Position: -1, Variable: true},
			{Name: "Phospho", Mass: 79.966331, Position: 4, Variable: true},
		},
	}

	mods, err := db.ParseModString(p.ModString(), p.Sequence)
	if err != nil {
		t.Fatalf("ParseModString() error = %v", err)
	}
	parsed := Peptide{Sequence: p.Sequence, Modifications: mods}
	if parsed.Key() != p.Key() {
		t.Errorf("round trip changed key: %q -> %q", p.Key(), parsed.Key())
	}
}

func TestParseModString(t *testing.T) {
	db := DefaultModDatabase()
	if err := db.SetFixed("Carbamidomethyl"); err != nil {
		t.Fatalf("SetFixed() error = %v", err)
	}

	tests := []struct {
		name     string
		mods     string
		sequence string
		wantLen  int
		wantErr  bool
	}{
		{"empty", "", "PEPTIDE", 0, false},
		{"named with residue", "Carbamidomethyl@C2;Oxidation@M4", "ACDMK", 2, false},
		{"mass shift", "15.994915@4", "ACDMK", 1, false},
		{"terminal", "Acetyl (Protein N-term)@Nterm", "ACDMK", 1, false},
		{"unknown name", "Foo@2", "ACDMK", 0, true},
		{"residue mismatch", "Oxidation@C4", "ACDMK", 0, true},
		{"out of range", "Oxidation@9", "ACDMK", 0, true},
		{"missing position", "Oxidation", "ACDMK", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.ParseModString(tt.mods, tt.sequence)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseModString() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.wantLen {
				t.Errorf("got %d modifications, want %d", len(got), tt.wantLen)
			}
		})
	}

	mods, _ := db.ParseModString("Carbamidomethyl@C2;Oxidation@M4", "ACDMK")
	if mods[0].Variable || !mods[1].Variable {
		t.Errorf("fixed flags not applied: %+v", mods)
	}
	if mods[0].Position != 1 || mods[1].Position != 3 {
		t.Errorf("positions should be 0-based: %+v", mods)
	}
}

func TestModDatabaseCSV(t *testing.T) {
	db := NewModDatabase()
	csv := "mod,massshift,aa\nMyMod,12.5,kr\n\nOther,1.0\n"
	if err := db.LoadFromCSV(strings.NewReader(csv)); err != nil {
		t.Fatalf("LoadFromCSV() error = %v", err)
	}

	def, ok := db.Get("MyMod")
	if !ok || def.Mass != 12.5 || !def.Targets('K') || def.Targets('S') {
		t.Errorf("unexpected definition %+v", def)
	}
	if names := db.Names(); len(names) != 2 || names[0] != "MyMod" {
		t.Errorf("Names() = %v", names)
	}

	if err := db.LoadFromCSV(strings.NewReader("h\nBad,notanumber\n")); err == nil {
		t.Error("expected error for invalid mass")
	}
	if err := db.SetFixed("Missing"); err == nil {
		t.Error("expected error for unknown fixed modification")
	}
}

func TestVariableModifications(t *testing.T) {
	p := Peptide{
		Sequence: "CMK",
		Modifications: []Modification{
			{Name: "Carbamidomethyl", Position: 0},
			{Name: "Oxidation", Position: 1, Variable: true},
		},
	}
	vm := p.VariableModifications()
	if len(vm) != 1 || vm[0].Name != "Oxidation" {
		t.Errorf("VariableModifications() = %+v", vm)
	}

	c := p.Clone()
	c.Modifications[0].Position = 2
	if p.Modifications[0].Position != 0 {
		t.Error("Clone() shares modification storage")
	}
}
