package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/wwwzy/PaperFast/internal/history"
	"github.com/wwwzy/PaperFast/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "管理对话历史",
	Long:  `列出、查看、重命名和删除保存的对话。`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "按最后更新时间列出对话",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.history.List(ctx)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No conversations.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tName\tMessages\tUpdated")
		fmt.Fprintln(w, "--\t----\t--------\t-------")
		for _, c := range list {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", c.ID, c.Name, c.MessageCount, c.UpdatedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "显示对话内容",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		msgs, err := a.history.Load(ctx, id)
		if errors.Is(err, history.ErrNotFound) {
			return fmt.Errorf("conversation %d not found", id)
		}
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for i, m := range msgs {
			if i > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "%s:\n%s\n", ui.DisplayRole(m.Role), m.Content)
		}
		return nil
	},
}

var historyRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "重命名对话",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		name := strings.TrimSpace(strings.Join(args[1:], " "))
		if name == "" {
			return errors.New("name is empty")
		}
		ctx := commandContext(cmd)
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.history.Rename(ctx, id, name); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Renamed conversation %d to %q.\n", id, name)
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "删除对话",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.history.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted conversation %d.\n", id)
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "删除所有对话",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.history.DeleteAll(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d conversations.\n", n)
		return nil
	},
}

var pruneHistoryDays int

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "删除长时间未更新的对话",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneHistoryDays <= 0 {
			return errors.New("--days must be positive")
		}
		ctx := commandContext(cmd)
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		before := time.Now().UTC().AddDate(0, 0, -pruneHistoryDays)
		n, err := a.history.DeleteBefore(ctx, before)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d conversations not updated since %s.\n", n, before.Format(time.RFC3339))
		return nil
	},
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid conversation id %q", s)
	}
	return id, nil
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyRenameCmd, historyDeleteCmd, historyClearCmd, historyPruneCmd)
	historyPruneCmd.Flags().IntVar(&pruneHistoryDays, "days", 30, "删除超过 N 天未更新的对话")
}
