package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadfinder/internal/model"
	"github.com/sells-group/leadfinder/internal/store"
)

var searchesCmd = &cobra.Command{
	Use:   "searches",
	Short: "List searches visible to --owner",
	RunE: func(cmd *cobra.Command, _ []string) error {
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
		page, _ := cmd.Flags().GetInt("page")
		size, _ := cmd.Flags().GetInt("page-size")

		searches, err := st.ListVisibleSearches(ctx, owner.ID, store.NewPage(page, size))
		if err != nil {
			return eris.Wrap(err, "searches")
		}
		if len(searches) == 0 {
			fmt.Fprintln(os.Stderr, "No searches found.")
			return nil
		}

		formatSearches(os.Stdout, searches, owner.ID)
		return nil
	},
}

func formatSearches(out io.Writer, searches []model.Search, viewerID string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tQUERY\tRESULTS\tACCESS\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-----\t-------\t------\t-------")

	for _, s := range searches {
		accessKind := "shared"
		if s.OwnedBy(viewerID) {
			accessKind = "owner"
		}
		query := s.Query
		if len(query) > 40 {
			query = query[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			s.ID, query, s.ResultsCount, accessKind, s.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}

func init() {
	searchesCmd.Flags().String("owner", "", "email of the identity whose visible searches to list")
	searchesCmd.Flags().Int("page", 1, "page number")
	searchesCmd.Flags().Int("page-size", store.DefaultPageSize, "results per page")
	rootCmd.AddCommand(searchesCmd)
}
