package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wwwzy/PaperFast/internal/retrieval"
	"goa.design/clue/log"
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "管理论文索引",
	Long:  `把 PDF 或文本文件加入检索索引，或查看、删除、重命名、重建索引中的文档。`,
}

var docsAddCmd = &cobra.Command{
	Use:   "add <file>...",
	Short: "加入或替换文档",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		var failed []error
		for _, path := range args {
			if !retrieval.SupportedFile(path) {
				failed = append(failed, fmt.Errorf("%s: unsupported file type", path))
				continue
			}
			n, err := a.index.AddDocument(ctx, path)
			if errors.Is(err, retrieval.ErrNoEmbedder) {
				return fmt.Errorf("%w (set embedding.api_key)", err)
			}
			if err != nil {
				log.Error(ctx, err, log.KV{K: "msg", V: "add document failed"}, log.KV{K: "path", V: path})
				failed = append(failed, fmt.Errorf("%s: %w", path, err))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %s (%d chunks)\n", path, n)
		}
		return errors.Join(failed...)
	},
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出已索引的文档",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		sources, err := a.index.Sources(ctx)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No documents indexed.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "Document\tChunks\tPath")
		fmt.Fprintln(w, "--------\t------\t----")
		for _, s := range sources {
			fmt.Fprintf(w, "%s\t%d\t%s\n", s.Source, s.Chunks, s.Path)
		}
		return w.Flush()
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "按文件名从索引中删除文档",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.index.DeleteDocument(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (%d chunks)\n", args[0], n)
		return nil
	},
}

var docsRenameCmd = &cobra.Command{
	Use:   "rename <old-name> <new-file>",
	Short: "用新文件替换索引中的文档",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.index.RenameDocument(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Replaced %s with %s (%d chunks)\n", args[0], args[1], n)
		return nil
	},
}

var docsRebuildCmd = &cobra.Command{
	Use:   "rebuild [dir]",
	Short: "清空并从目录重建索引",
	Long:  `清空索引后重新加入目录下所有支持的文件；不指定目录时使用 retrieval.docs_dir。`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.Retrieval.DocsDir
		if len(args) == 1 {
			dir = args[0]
		}
		if dir == "" {
			return errors.New("no directory given and retrieval.docs_dir is empty")
		}
		ctx := commandContext(cmd)
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.index.Rebuild(ctx, dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt index from %s: %d documents\n", dir, n)
		return nil
	},
}

var (
	searchTopK    int
	searchSources []string
)

var docsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "在索引中检索相似片段",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		chunks, err := a.index.SimilaritySearch(ctx, strings.Join(args, " "), searchTopK, searchSources)
		if err != nil {
			return err
		}
		if len(chunks) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No matches.")
			return nil
		}
		for i, c := range chunks {
			fmt.Fprintf(cmd.OutOrStdout(), "#%d score=%.3f\n", i+1, c.Score)
			fmt.Fprintln(cmd.OutOrStdout(), retrieval.FormatContext([]retrieval.Chunk{c}, 0))
			fmt.Fprintln(cmd.OutOrStdout())
		}
		return nil
	},
}

var docsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "按顺序输出文档的全部片段",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		chunks, err := a.index.FullDocument(ctx, args[0], 0)
		if err != nil {
			return err
		}
		if len(chunks) == 0 {
			return fmt.Errorf("%w: %s", retrieval.ErrSourceNotFound, args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), retrieval.FormatContext(chunks, 0))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(docsCmd)
	docsCmd.AddCommand(docsAddCmd, docsListCmd, docsDeleteCmd, docsRenameCmd, docsRebuildCmd, docsSearchCmd, docsShowCmd)
	docsSearchCmd.Flags().IntVar(&searchTopK, "k", 5, "返回的片段数")
	docsSearchCmd.Flags().StringSliceVar(&searchSources, "docs", nil, "只在这些文档中检索")
}
