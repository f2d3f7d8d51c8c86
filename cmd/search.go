package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadfinder/internal/model"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a place search and store the results",
	Long:  "Searches the place provider, enriches each result from its website and stores the search for --owner.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "search")
		if err != nil {
			return err
		}
		defer env.Close()

		ownerEmail, _ := cmd.Flags().GetString("owner")
		owner, err := lookupOwner(ctx, env.Store, ownerEmail)
		if err != nil {
			return err
		}

		query := strings.Join(args, " ")
		if loc, _ := cmd.Flags().GetString("location"); strings.TrimSpace(loc) != "" {
			query += " in " + strings.TrimSpace(loc)
		}

		if d := ingestTimeout(); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}

		res, err := env.Pipeline.Ingest(ctx, query, *owner)
		if err != nil {
			return err
		}

		zap.L().Info("search stored",
			zap.String("search_id", res.Search.ID),
			zap.Int("results", res.Search.ResultsCount),
			zap.Int("created", res.Created),
			zap.Int("linked", res.Linked),
		)
		fmt.Fprintf(os.Stderr, "Search %s: %d businesses (%d new)\n", res.Search.ID, res.Search.ResultsCount, res.Created)
		formatBusinesses(os.Stdout, res.Businesses)
		return nil
	},
}

func formatBusinesses(out io.Writer, bs []model.Business) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tEMAIL\tPHONE\tRATING\tWEBSITE")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t-----\t------\t-------")

	for _, b := range bs {
		email := ""
		if b.Email != nil {
			email = *b.Email
		}
		rating := ""
		if b.Rating != nil {
			rating = strconv.FormatFloat(*b.Rating, 'f', 1, 64)
		}
		name := b.Name
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(b.ID), name, email, b.Phone, rating, b.Website)
	}
	_ = w.Flush()
}

// truncateID shortens a UUID for table output.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	searchCmd.Flags().String("owner", "", "email of the identity that owns the search")
	searchCmd.Flags().String("location", "", "optional location appended to the query")
	rootCmd.AddCommand(searchCmd)
}
