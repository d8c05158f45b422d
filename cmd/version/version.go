package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sidkik/treemirror/pkg/version"
)

// New creates a new `version` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of treemirror.",
		Long:  "Print the version of treemirror, as a git tag or commit hash.",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("version: %s\n", version.Version)
		},
	}
}
