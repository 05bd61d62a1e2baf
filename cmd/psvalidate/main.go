// psvalidate - Target-decoy validation of peptide-spectrum matches
package main

import (
	"fmt"
	"os"

	"github.com/ChrisMcGann/psvalidate/cmd/psvalidate/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
