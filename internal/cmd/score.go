package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-convgen/internal/domain"
	"github.com/ahrav/go-convgen/internal/quality"
)

var (
	scoreTier       string
	scoreConfidence float64
	scoreOutput     string
)

var scoreCmd = &cobra.Command{
	Use:   "score <file>",
	Short: "Score a conversation file without calling the model",
	Long: `score grades a conversation JSON file ({"tier": ..., "turns": [...]})
against the configured tier thresholds and weights and prints the criterion
breakdown, recommendations and whether it would be auto-flagged.`,
	Args: cobra.ExactArgs(1),
	RunE: runScore,
}

// scoreReport is the JSON shape of the score command.
type scoreReport struct {
	Score    domain.QualityScore  `json:"score"`
	Priority quality.Priority     `json:"priority"`
	Flag     quality.FlagDecision `json:"flag"`
}

func init() {
	f := scoreCmd.Flags()
	f.StringVar(&scoreTier, "tier", "", "override the file's tier")
	f.Float64Var(&scoreConfidence, "dimension-confidence", 0, "external confidence in [0,1] applied to the overall score")
	f.StringVarP(&scoreOutput, "output", "o", formatTable, "output format: table or json")
}

func runScore(cmd *cobra.Command, args []string) error {
	if err := checkFormat(scoreOutput); err != nil {
		return err
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var data domain.ConversationData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	switch {
	case scoreTier != "":
		if data.Tier, err = domain.ParseTier(scoreTier); err != nil {
			return err
		}
	case data.Tier == "":
		data.Tier = domain.TierTemplate
	default:
		if _, err := domain.ParseTier(string(data.Tier)); err != nil {
			return err
		}
	}

	var dim *float64
	if cmd.Flags().Changed("dimension-confidence") {
		if scoreConfidence < 0 || scoreConfidence > 1 {
			return fmt.Errorf("dimension-confidence must be in [0,1], got %g", scoreConfidence)
		}
		dim = &scoreConfidence
	}

	scorer, err := quality.NewScorer(cfg.QualityOptions()...)
	if err != nil {
		return err
	}
	score := scorer.Score(data, dim)
	score.Recommendations = quality.Recommendations(score)
	flag := quality.EvaluateFlag(score)

	if scoreOutput == formatJSON {
		return writeJSON(cmd.OutOrStdout(), scoreReport{
			Score:    score,
			Priority: quality.ImprovementPriority(score),
			Flag:     flag,
		})
	}
	renderScore(cmd.OutOrStdout(), score, flag)
	return nil
}
