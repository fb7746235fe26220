package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tausani-ah-chong/tdd-agent/internal/version"
)

// NewVersionCmd prints the compiled version details.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show tdd-agent version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Banner())
		},
	}
}
