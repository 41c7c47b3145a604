package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-convgen/internal/config"
	"github.com/ahrav/go-convgen/internal/domain"
	"github.com/ahrav/go-convgen/internal/storage"
)

var (
	listStatus string
	listTier   string
	listLimit  int
	listOffset int
	listOutput string
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Inspect stored conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, newest first",
	RunE:  runConversationsList,
}

var conversationsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count conversations by review status",
	RunE:  runConversationsStats,
}

var conversationsAuditCmd = &cobra.Command{
	Use:   "audit <id>",
	Short: "Show the review history of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsAudit,
}

func init() {
	f := conversationsListCmd.Flags()
	f.StringVar(&listStatus, "status", "", "filter by status (generated, needs_revision, approved)")
	f.StringVar(&listTier, "tier", "", "filter by tier")
	f.IntVar(&listLimit, "limit", 20, "maximum rows")
	f.IntVar(&listOffset, "offset", 0, "rows to skip")
	f.StringVarP(&listOutput, "output", "o", formatTable, "output format: table or json")

	conversationsCmd.AddCommand(conversationsListCmd, conversationsStatsCmd, conversationsAuditCmd)
}

// persistentApp builds an app without a provider and rejects the memory
// store, which would always be empty in a fresh process.
func persistentApp(cmd *cobra.Command) (*app, error) {
	if cfg.Storage.Driver != config.DriverPostgres {
		return nil, errNeedsPostgres
	}
	return newApp(cmd.Context(), cfg, false)
}

func runConversationsList(cmd *cobra.Command, _ []string) error {
	if err := checkFormat(listOutput); err != nil {
		return err
	}
	if listLimit < 0 || listOffset < 0 {
		return fmt.Errorf("limit and offset must be non-negative")
	}
	filter := storage.ConversationFilter{Status: domain.Status(listStatus), Limit: listLimit, Offset: listOffset}
	if listTier != "" {
		tier, err := domain.ParseTier(listTier)
		if err != nil {
			return err
		}
		filter.Tier = tier
	}

	a, err := persistentApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	recs, err := a.store.ListConversations(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if listOutput == formatJSON {
		return writeJSON(cmd.OutOrStdout(), recs)
	}
	renderConversations(cmd.OutOrStdout(), recs)
	return nil
}

func runConversationsStats(cmd *cobra.Command, _ []string) error {
	a, err := persistentApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	counts, err := a.store.CountByStatus(cmd.Context())
	if err != nil {
		return err
	}
	t := newTable(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Status", "Count"})
	for _, s := range []domain.Status{domain.StatusGenerated, domain.StatusNeedsRevision, domain.StatusApproved} {
		t.AppendRow(table.Row{s, counts[s]})
	}
	t.AppendFooter(table.Row{"Total", counts.Total()})
	t.Render()
	return nil
}

func runConversationsAudit(cmd *cobra.Command, args []string) error {
	a, err := persistentApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	entries, err := a.store.AuditHistory(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	t := newTable(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"When", "Action", "By", "Score", "Comment"})
	for _, e := range entries {
		score := "-"
		if e.Score != nil {
			score = fmt.Sprintf("%.1f", *e.Score)
		}
		t.AppendRow(table.Row{e.Timestamp.Format("2006-01-02 15:04:05"), e.Action, e.PerformedBy, score, e.Comment})
	}
	t.Render()
	return nil
}
