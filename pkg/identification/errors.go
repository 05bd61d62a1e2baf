package identification

import (
	"errors"
	"fmt"
)

// ErrMissingBestAssumption is returned for a spectrum match that should carry a
// best peptide or tag assumption but has none.
var ErrMissingBestAssumption = errors.New("no best assumption")

// MatchError ties a per-match failure to the key of the match.
type MatchError struct {
	Key string
	Err error
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("match %s: %v", e.Key, e.Err)
}

func (e *MatchError) Unwrap() error {
	return e.Err
}
