// Package cli implements chatctl, the offline operator tool: it inspects a
// stopped server's database, checks config files and signs identities.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the chatctl command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "chatctl",
		Short: "Operator tool for the chat server",
		Long: `chatctl inspects a chat database offline, validates configuration
and produces identity signatures for trusted backends.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().Bool("json", false, "print JSON instead of text")

	root.AddCommand(
		newStatsCmd(),
		newConversationsCmd(),
		newMessagesCmd(),
		newConfigCmd(),
		newSignCmd(),
	)
	return root
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printf(w io.Writer, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(w, format, args...)
}
