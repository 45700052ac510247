package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/parser"
)

func newSearchCmd(a *app) *cobra.Command {
	var (
		page, size int
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "search <indexName> <terms>...",
		Short: "Run a query and print one page of results",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := parser.Parse(strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if size <= 0 {
				size = a.cfg.Search.DefaultPageSize
			}
			snap, err := a.engine.OpenSnapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer snap.Close()

			result, err := executor.New(a.cfg.Search).Execute(cmd.Context(), snap, q, page, size)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			fmt.Fprintf(out, "%d hits (page %d)\n", result.TotalHits, page)
			for i, hit := range result.Results {
				fmt.Fprintf(out, "%3d. %s\n", page*size+i+1, hit.Path)
				if hit.Snippet != nil {
					fmt.Fprintf(out, "     %s\n", *hit.Snippet)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "page index")
	cmd.Flags().IntVar(&size, "size", 0, "page size (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw result")
	return cmd
}
