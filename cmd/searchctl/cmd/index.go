package cmd

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
)

func newIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "index <indexName> <path> [file|-]",
		Short: "Index one document",
		Long: `Stores a document under path, replacing any earlier one. Its content
is read from file, or from stdin when file is "-". Without a file the
document has no content and is found by its path only.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var content *string
			if len(args) == 3 {
				data, err := readSource(cmd, args[2])
				if err != nil {
					return err
				}
				content = index.StringPtr(string(data))
			}
			if err := a.engine.Upsert(cmd.Context(), args[0], index.NewDocument(args[1], content)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %s in %s\n", args[1], args[0])
			return nil
		},
	}
}

func readSource(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}

func newImportCmd(a *app) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "import <indexName> <dir>",
		Short: "Index every regular file below dir in one commit",
		Long: `Walks dir and indexes each regular file under its path relative to
dir, joined to --prefix. Documents that cannot be indexed are reported and
the rest are still written.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			indexName, root := args[0], args[1]
			var docs []index.Document
			err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
				if err != nil || !d.Type().IsRegular() {
					return err
				}
				data, err := os.ReadFile(p)
				if err != nil {
					return err
				}
				rel, err := filepath.Rel(root, p)
				if err != nil {
					return err
				}
				key := filepath.ToSlash(filepath.Join(prefix, rel))
				docs = append(docs, index.NewDocument(key, index.StringPtr(string(data))))
				return nil
			})
			if err != nil {
				return fmt.Errorf("reading %s: %w", root, err)
			}

			statuses, err := a.engine.UpsertBatch(cmd.Context(), indexName, docs)
			if err != nil {
				return err
			}
			failed := 0
			for _, s := range statuses {
				if s.Err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "failed %s: %v\n", s.Key, s.Err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d of %d files into %s\n", len(statuses)-failed, len(statuses), indexName)
			if failed > 0 {
				return fmt.Errorf("%d documents failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "/", "path prefix for imported documents")
	return cmd
}
