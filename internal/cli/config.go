package cli

import (
	"errors"
	"flag"
	"os"

	"github.com/spf13/cobra"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/api/auth"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/config"
)

var errMissingKey = errors.New("no signing key: pass --key or set CHAT_SIGNING_KEY")

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	check := &cobra.Command{
		Use:   "check [config-path]",
		Short: "Load a config file with the environment applied and validate it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags, err := config.ParseConfigFlags(flag.NewFlagSet("check", flag.ContinueOnError), []string{"--config", args[0]})
			if err != nil {
				return err
			}
			fileCfg, exists, err := config.ParseConfigFile(flags)
			if err != nil {
				return err
			}
			eff, err := config.LoadEffectiveConfig(flags, fileCfg, exists, os.Getenv)
			if err != nil {
				return err
			}
			if err := config.ValidateConfig(eff); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if wantJSON(cmd) {
				return printJSON(out, eff.Config)
			}
			c := eff.Config
			printf(out, "ok (source: %s)\n", eff.Source)
			printf(out, "listen:           %s\n", eff.Addr)
			printf(out, "db path:          %s\n", eff.DBPath)
			printf(out, "attachment limit: %s\n", c.Chat.MaxAttachmentSize)
			printf(out, "typing window:    %s\n", c.Chat.TypingWindow.Duration())
			return nil
		},
	}
	cmd.AddCommand(check)
	return cmd
}

func newSignCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "sign [user-id]",
		Short: "Print the X-User-Signature value for a user id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = os.Getenv("CHAT_SIGNING_KEY")
			}
			if key == "" {
				return errMissingKey
			}
			printf(cmd.OutOrStdout(), "%s\n", auth.Sign(args[0], key))
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "signing key (defaults to $CHAT_SIGNING_KEY)")
	return cmd
}
