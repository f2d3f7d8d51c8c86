package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/leadfinder/internal/access"
)

var shareCmd = &cobra.Command{
	Use:   "share <search-id> <email>...",
	Short: "Share a search with other identities",
	Long:  "Grants read access to a search owned by --owner. Unknown emails and the owner's own address are skipped.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("admin"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ownerEmail, _ := cmd.Flags().GetString("owner")
		owner, err := lookupOwner(ctx, st, ownerEmail)
		if err != nil {
			return err
		}

		n, err := access.New(st).Share(ctx, args[0], *owner, args[1:])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "search %s shared with %d of %d identities\n", args[0], n, len(args)-1)
		return nil
	},
}

func init() {
	shareCmd.Flags().String("owner", "", "email of the search owner")
	rootCmd.AddCommand(shareCmd)
}
