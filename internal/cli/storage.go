package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/wwwzy/PaperFast/internal/retention"
	"github.com/wwwzy/PaperFast/internal/storage"
)

// storageCmd represents the storage command
var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "管理存储和数据库",
	Long:  `提供查看数据库概况和清理工具审计记录的命令。`,
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "显示数据库统计概况",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

// pruneAuditCmd represents the prune-audit command
var pruneAuditCmd = &cobra.Command{
	Use:   "prune-audit",
	Short: "清理审计记录",
	Long:  `根据用户指定的保留条数或天数，清理旧的工具调用审计记录。`,
	Args:  cobra.NoArgs,
	RunE:  runPruneAudit,
}

// pruneCmd 按 retention 配置立即执行一次清理
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "按配置文件立即执行一次数据清理",
	Long:  `忽略 retention.enabled 与定时间隔，立即按 retention 配置清理旧对话和审计记录。`,
	Args:  cobra.NoArgs,
	RunE:  runPrune,
}

var (
	keepAuditCount int
	keepAuditDays  int
)

func init() {
	pruneAuditCmd.Flags().IntVar(&keepAuditCount, "keep", 0, "保留最近的 N 条记录")
	pruneAuditCmd.Flags().IntVar(&keepAuditDays, "days", 0, "保留最近 N 天的记录")

	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(infoCmd)
	storageCmd.AddCommand(pruneAuditCmd)
	storageCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("打开存储失败: %w", err)
	}
	defer store.Close()

	p, err := retention.NewPruner(cfg.Retention, store)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Policy: conversations %d days, audit %d days, audit keep %d\n",
		cfg.Retention.ConversationDays, cfg.Retention.AuditDays, cfg.Retention.AuditKeep)
	res, err := p.RunOnce(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Prune completed. Deleted %d conversations and %d audit records.\n", res.Conversations, res.AuditRecords)
	return nil
}

func runPruneAudit(cmd *cobra.Command, args []string) error {
	if keepAuditCount <= 0 && keepAuditDays <= 0 {
		_ = cmd.Usage()
		return errors.New("must specify either --keep or --days")
	}
	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("打开存储失败: %w", err)
	}
	defer store.Close()

	var deletedCount int64

	if keepAuditCount > 0 {
		fmt.Fprintf(out, "Pruning audit records, keeping latest %d records...\n", keepAuditCount)
		count, err := store.DeleteAuditRecordsKeepLatest(ctx, keepAuditCount)
		if err != nil {
			return fmt.Errorf("prune by count: %w", err)
		}
		deletedCount += count
	}

	if keepAuditDays > 0 {
		before := time.Now().UTC().AddDate(0, 0, -keepAuditDays)
		fmt.Fprintf(out, "Pruning audit records older than %d days (before %s)...\n", keepAuditDays, before.Format(time.RFC3339))
		count, err := store.DeleteAuditRecordsBefore(ctx, before)
		if err != nil {
			return fmt.Errorf("prune by days: %w", err)
		}
		deletedCount += count
	}

	fmt.Fprintf(out, "Prune completed. Deleted %d records.\n", deletedCount)

	if count, err := store.CountAuditRecords(ctx); err == nil {
		fmt.Fprintf(out, "Remaining Audit Records: %d\n", count)
	}
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()

	dbPath := cfg.Storage.Path
	if !filepath.IsAbs(dbPath) {
		if absPath, err := filepath.Abs(dbPath); err == nil {
			dbPath = absPath
		}
	}

	var dbSizeStr string
	info, err := os.Stat(dbPath)
	switch {
	case os.IsNotExist(err):
		dbSizeStr = "Not Found (Will be created on first run)"
	case err != nil:
		dbSizeStr = fmt.Sprintf("Error: %v", err)
	default:
		sizeMB := float64(info.Size()) / 1024 / 1024
		dbSizeStr = fmt.Sprintf("%.2f MB (%s)", sizeMB, dbPath)
	}

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		fmt.Fprintf(out, "Database File: %s\n", dbSizeStr)
		return fmt.Errorf("打开存储失败: %w", err)
	}
	defer store.Close()

	st, err := store.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Database File: %s\n\n", dbSizeStr)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Table\tCount")
	fmt.Fprintln(w, "-----\t-----")
	fmt.Fprintf(w, "Conversations\t%d\n", st.Conversations)
	fmt.Fprintf(w, "DocumentChunks\t%d\n", st.Chunks)
	fmt.Fprintf(w, "Documents\t%d\n", st.Documents)
	fmt.Fprintf(w, "AuditRecords\t%d\n", st.AuditRecords)
	return w.Flush()
}
