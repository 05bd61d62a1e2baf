package identification

import "fmt"

// ValidationLevel is the accept/reject classification of a match.
// Levels are ordered: NotValidated < Doubtful < Confident.
type ValidationLevel int

const (
	NotValidated ValidationLevel = iota
	Doubtful
	Confident
)

// Index returns the display ordering of the level.
func (v ValidationLevel) Index() int {
	return int(v)
}

// IsValidated reports whether the level is Doubtful or Confident.
func (v ValidationLevel) IsValidated() bool {
	return v >= Doubtful
}

func (v ValidationLevel) String() string {
	switch v {
	case NotValidated:
		return "Not Validated"
	case Doubtful:
		return "Doubtful"
	case Confident:
		return "Confident"
	default:
		return fmt.Sprintf("ValidationLevel(%d)", int(v))
	}
}

// ValidationLevels lists every level in ascending order.
var ValidationLevels = []ValidationLevel{NotValidated, Doubtful, Confident}

// PIStatus describes how uniquely a protein group is supported by its peptides.
type PIStatus int

const (
	PIUnassigned PIStatus = iota
	PIUnique
	PIRelated
	PIAmbiguous
)

func (s PIStatus) String() string {
	switch s {
	case PIUnassigned:
		return "Unassigned"
	case PIUnique:
		return "Unique"
	case PIRelated:
		return "Related"
	case PIAmbiguous:
		return "Ambiguous"
	default:
		return fmt.Sprintf("PIStatus(%d)", int(s))
	}
}

// ProjectType selects how far assembly goes.
type ProjectType string

const (
	ProjectPSM     ProjectType = "psm"
	ProjectPeptide ProjectType = "peptide"
	ProjectProtein ProjectType = "protein"
)

// Valid reports whether t names a known project type.
func (t ProjectType) Valid() bool {
	switch t {
	case ProjectPSM, ProjectPeptide, ProjectProtein:
		return true
	}
	return false
}

// WantsPeptides reports whether peptide matches are assembled.
func (t ProjectType) WantsPeptides() bool {
	return t == ProjectPeptide || t == ProjectProtein
}

// WantsProteins reports whether protein groups are assembled and inferred.
func (t ProjectType) WantsProteins() bool {
	return t == ProjectProtein
}
