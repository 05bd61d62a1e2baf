// Package core provides modification parsing and management
package core

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Terminus restricts where a modification may sit
type Terminus int

const (
	AnyPosition Terminus = iota
	PeptideNTerm
	PeptideCTerm
	ProteinNTerm
	ProteinCTerm
)

// ModDefinition describes a modification known to the registry
type ModDefinition struct {
	Name     string
	Mass     float64
	Residues string // target residues, empty for terminal-only modifications
	Terminus Terminus
	Fixed    bool
}

// Targets reports whether the modification can sit on residue aa
func (d ModDefinition) Targets(aa rune) bool {
	if d.Residues == "" {
		return false
	}
	return strings.ContainsRune(d.Residues, aa)
}

// ModDatabase stores modification definitions. It replaces process-wide
// factories: build one, configure it and pass it to whoever needs it.
type ModDatabase struct {
	mods map[string]ModDefinition
}

// NewModDatabase creates an empty modification database
func NewModDatabase() *ModDatabase {
	return &ModDatabase{
		mods: make(map[string]ModDefinition),
	}
}

// LoadFromCSV loads modifications from a CSV file (format: mod,massshift,aa)
func (db *ModDatabase) LoadFromCSV(r io.Reader) error {
	scanner := bufio.NewScanner(r)

	// Skip header line
	scanner.Scan()

	lineNum := 1
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			return fmt.Errorf("line %d: invalid format, expected at least 2 comma-separated fields", lineNum)
		}

		modName := strings.TrimSpace(parts[0])
		massStr := strings.TrimSpace(parts[1])

		mass, err := strconv.ParseFloat(massStr, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid mass value '%s': %w", lineNum, massStr, err)
		}

		def := ModDefinition{Name: modName, Mass: mass}
		if len(parts) > 2 {
			def.Residues = strings.ToUpper(strings.TrimSpace(parts[2]))
		}
		db.Define(def)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading CSV: %w", err)
	}

	return nil
}

// Define adds or replaces a modification definition
func (db *ModDatabase) Define(def ModDefinition) {
	db.mods[def.Name] = def
}

// Add adds or updates a modification that may sit on the given residues
func (db *ModDatabase) Add(name string, mass float64, residues string) {
	db.Define(ModDefinition{Name: name, Mass: mass, Residues: residues})
}

// Get returns the definition for a modification name
func (db *ModDatabase) Get(name string) (ModDefinition, bool) {
	def, ok := db.mods[name]
	return def, ok
}

// GetMass returns the mass shift for a modification name
func (db *ModDatabase) GetMass(name string) (float64, bool) {
	def, ok := db.mods[name]
	return def.Mass, ok
}

// SetFixed marks the named modifications as fixed for the current search
func (db *ModDatabase) SetFixed(names ...string) error {
	for _, name := range names {
		def, ok := db.mods[name]
		if !ok {
			return fmt.Errorf("unknown modification '%s'", name)
		}
		def.Fixed = true
		db.mods[name] = def
	}
	return nil
}

// Names returns the registered modification names in sorted order
func (db *ModDatabase) Names() []string {
	names := make([]string, 0, len(db.mods))
	for name := range db.mods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseModString parses a modification string like "57.021464@2;15.994915@8" or "Carbamidomethyl@C2;Oxidation@M8"
// Returns a list of modifications
func (db *ModDatabase) ParseModString(modStr string, sequence string) ([]Modification, error) {
	if modStr == "" {
		return nil, nil
	}

	var mods []Modification
	parts := strings.Split(modStr, ";")

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		atParts := strings.Split(part, "@")
		if len(atParts) != 2 {
			return nil, fmt.Errorf("invalid modification format '%s', expected 'name@position' or 'mass@position'", part)
		}

		nameOrMass := strings.TrimSpace(atParts[0])
		posStr := strings.TrimSpace(atParts[1])

		mod := Modification{Name: nameOrMass, Variable: true}

		// Try to parse as a number first (direct mass)
		mass, err := strconv.ParseFloat(nameOrMass, 64)
		if err == nil {
			mod.Mass = mass
		} else {
			def, ok := db.Get(nameOrMass)
			if !ok {
				return nil, fmt.Errorf("unknown modification '%s'", nameOrMass)
			}
			mod.Mass = def.Mass
			mod.Variable = !def.Fixed
		}

		position, err := parsePosition(posStr, sequence)
		if err != nil {
			return nil, fmt.Errorf("invalid position '%s': %w", posStr, err)
		}
		mod.Position = position

		mods = append(mods, mod)
	}

	return mods, nil
}

// parsePosition parses a 1-based position that may carry the residue letter.
// Examples: "2", "C2", "Nterm", "Cterm"
func parsePosition(posStr string, sequence string) (int, error) {
	posStr = strings.TrimSpace(posStr)

	switch strings.ToLower(posStr) {
	case "nterm", "n-term", "0", "-1":
		return -1, nil
	case "cterm", "c-term":
		return len(sequence), nil
	}

	// Remove leading amino acid letter if present
	digits := strings.TrimLeft(posStr, "ACDEFGHIKLMNPQRSTVWY")

	pos, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("invalid position number: %w", err)
	}
	if pos < 1 || (sequence != "" && pos > len(sequence)) {
		return 0, fmt.Errorf("position %d outside sequence of length %d", pos, len(sequence))
	}
	if digits != posStr && sequence != "" && posStr[0] != sequence[pos-1] {
		return 0, fmt.Errorf("residue %c does not match sequence residue %c", posStr[0], sequence[pos-1])
	}

	return pos - 1, nil
}

// DefaultModDatabase returns a ModDatabase pre-loaded with common modifications
func DefaultModDatabase() *ModDatabase {
	db := NewModDatabase()

	db.Add("Carbamidomethyl", 57.021464, "C")
	db.Add("Carbamyl", 43.005814, "KR")
	db.Add("Carboxymethyl", 58.005479, "C")
	db.Add("Deamidated", 0.984016, "NQ")
	db.Add("Oxidation", 15.994915, "MW")
	db.Add("Dioxidation", 31.989829, "MW")
	db.Add("Phospho", 79.966331, "STY")
	db.Add("Methyl", 14.01565, "KR")
	db.Add("Dimethyl", 28.0313, "KR")
	db.Add("Trimethyl", 42.04695, "K")
	db.Add("Sulfo", 79.956815, "Y")
	db.Add("HexNAc", 203.079373, "NST")
	db.Add("Propionamide", 71.037114, "C")
	db.Add("GlyGly", 114.042927, "K")
	db.Add("Nitro", 44.985078, "Y")
	db.Add("Citrullination", 0.984016, "R")
	db.Add("Acetyl", 42.010565, "K")
	db.Add("TMT6plex", 229.162932, "K")
	db.Add("TMTPro", 304.207146, "K")
	db.Add("iTRAQ4plex", 144.102063, "K")
	db.Add("iTRAQ8plex", 304.205360, "K")

	db.Define(ModDefinition{Name: "Acetyl (Protein N-term)", Mass: 42.010565, Terminus: ProteinNTerm})
	db.Define(ModDefinition{Name: "Amidated (Protein C-term)", Mass: -0.984016, Terminus: ProteinCTerm})
	db.Define(ModDefinition{Name: "Gln->pyro-Glu", Mass: -17.026549, Residues: "Q", Terminus: PeptideNTerm})
	db.Define(ModDefinition{Name: "Glu->pyro-Glu", Mass: -18.010565, Residues: "E", Terminus: PeptideNTerm})
	db.Define(ModDefinition{Name: "TMT6plex (N-term)", Mass: 229.162932, Terminus: PeptideNTerm})

	return db
}
