package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ahrav/go-convgen/internal/domain"
	"github.com/ahrav/go-convgen/internal/generation"
	"github.com/ahrav/go-convgen/internal/llm/ratelimit"
	"github.com/ahrav/go-convgen/internal/quality"
	"github.com/ahrav/go-convgen/internal/workflow"
)

// Output formats accepted by --output.
const (
	formatTable = "table"
	formatJSON  = "json"
)

func checkFormat(f string) error {
	if f != formatTable && f != formatJSON {
		return fmt.Errorf("unknown output format %q (want table or json)", f)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func renderResult(w io.Writer, res *generation.Result) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Conversation", res.ConversationID},
		{"Title", res.Title},
		{"Status", res.Status},
		{"Turns", len(res.Turns)},
		{"Quality", fmt.Sprintf("%.1f", res.Score.Overall)},
		{"Training value", res.Metrics.TrainingValue},
		{"Model", res.Model},
		{"Tokens", fmt.Sprintf("%d in / %d out", res.InputTokens, res.OutputTokens)},
		{"Cost", res.Cost},
		{"Duration", res.Duration.Round(1e6)},
	})
	if res.Flag.Flag {
		t.AppendFooter(table.Row{"Flagged", res.Flag.Note})
	}
	t.Render()

	if len(res.Score.Recommendations) > 0 {
		fmt.Fprintln(w, "\nRecommendations:")
		for _, r := range res.Score.Recommendations {
			fmt.Fprintln(w, "  -", r)
		}
	}
}

func renderBatch(w io.Writer, res *generation.BatchResult) {
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "Persona", "Tier", "Conversation", "Quality", "Status / Error"})
	for _, it := range res.Items {
		row := table.Row{it.Index, it.Params.Persona, it.Params.Tier, "", "", it.Error}
		if it.Result != nil {
			row[3] = it.Result.ConversationID
			row[4] = fmt.Sprintf("%.1f", it.Result.Score.Overall)
			row[5] = it.Result.Status
		}
		t.AppendRow(row)
	}
	t.AppendFooter(table.Row{"", "", "", "",
		fmt.Sprintf("%d ok / %d failed / %d skipped", res.Successful, res.Failed, res.Skipped),
		fmt.Sprintf("%s in %s", res.TotalCost, res.Duration.Round(1e6)),
	})
	t.Render()
}

func renderDurableBatch(w io.Writer, res *workflow.BatchResult) {
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "Conversation", "Quality", "Status / Error"})
	for _, it := range res.Items {
		switch {
		case it.Skipped:
			t.AppendRow(table.Row{it.Index, "", "", "skipped"})
		case it.Error != "":
			t.AppendRow(table.Row{it.Index, "", "", it.ErrorType + ": " + it.Error})
		default:
			t.AppendRow(table.Row{it.Index, it.ConversationID, fmt.Sprintf("%.1f", it.QualityScore), it.Status})
		}
	}
	s := res.Summary
	t.AppendFooter(table.Row{"", s.RunID,
		fmt.Sprintf("%d ok / %d failed / %d skipped", s.Successful, s.Failed, s.Skipped),
		s.TotalCost,
	})
	t.Render()
}

func renderScore(w io.Writer, score domain.QualityScore, flag quality.FlagDecision) {
	b := score.Breakdown
	t := newTable(w)
	t.AppendHeader(table.Row{"Criterion", "Score", "Weight", "Detail"})
	t.AppendRows([]table.Row{
		{quality.CriterionTurnCount, b.TurnCount.Score, b.TurnCount.Weight, b.TurnCount.Message},
		{quality.CriterionLength, b.Length.Score, b.Length.Weight, b.Length.Message},
		{quality.CriterionStructure, b.Structure.Score, b.Structure.Weight, b.Structure.Message},
		{quality.CriterionConfidence, b.Confidence.Score, b.Confidence.Weight, b.Confidence.Message},
	})
	t.AppendFooter(table.Row{"Overall", fmt.Sprintf("%.1f", score.Overall), "", b.Confidence.Level})
	t.Render()

	p := quality.ImprovementPriority(score)
	fmt.Fprintf(w, "\nPriority: critical=%s important=%s optional=%s\n",
		list(p.Critical), list(p.Important), list(p.Optional))
	if flag.Flag {
		fmt.Fprintln(w, "Flagged:", flag.Note)
	}
	for _, r := range score.Recommendations {
		fmt.Fprintln(w, "  -", r)
	}
}

func renderConversations(w io.Writer, recs []domain.ConversationRecord) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Title", "Tier", "Status", "Quality", "Turns", "Cost", "Created"})
	for _, r := range recs {
		t.AppendRow(table.Row{r.ID, r.Title, r.Tier, r.Status, fmt.Sprintf("%.1f", r.QualityScore),
			r.TotalTurns, r.CostUSD, r.CreatedAt.Format("2006-01-02 15:04")})
	}
	t.Render()
}

func renderStatus(w io.Writer, s ratelimit.Status) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Key", "Used", "Remaining", "Limit", "Utilization", "Queue", "Paused", "Resets"})
	t.AppendRow(table.Row{s.Key, s.Used, s.Remaining, s.Limit, fmt.Sprintf("%.0f%%", s.Utilization),
		s.QueueLength, s.IsPaused, s.ResetAt.Format("15:04:05")})
	t.Render()
}

func list(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}
