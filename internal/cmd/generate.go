package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ahrav/go-convgen/internal/domain"
)

var (
	genPersona   string
	genEmotion   string
	genTopic     string
	genTier      string
	genTemplate  string
	genPrompt    string
	genModel     string
	genCreatedBy string
	genOutput    string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate, score and store one conversation",
	Example: `  convgen generate --persona "first-time home buyer" --emotion anxious \
    --topic "mortgage pre-approval" --tier scenario`,
	RunE: runGenerate,
}

func init() {
	f := generateCmd.Flags()
	f.StringVar(&genPersona, "persona", "", "who the user is (required)")
	f.StringVar(&genEmotion, "emotion", "", "the user's emotional state (required)")
	f.StringVar(&genTopic, "topic", "", "what the conversation is about (required)")
	f.StringVar(&genTier, "tier", string(domain.TierTemplate), "quality tier: template, scenario or edge_case")
	f.StringVar(&genTemplate, "template", "", "prompt template ID")
	f.StringVar(&genPrompt, "prompt", "", "use this prompt verbatim instead of a template")
	f.StringVar(&genModel, "model", "", "override llm.model")
	f.StringVar(&genCreatedBy, "created-by", "cli", "recorded as the conversation author")
	f.StringVarP(&genOutput, "output", "o", formatTable, "output format: table or json")
	_ = generateCmd.MarkFlagRequired("persona")
	_ = generateCmd.MarkFlagRequired("emotion")
	_ = generateCmd.MarkFlagRequired("topic")
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	if err := checkFormat(genOutput); err != nil {
		return err
	}
	tier, err := domain.ParseTier(genTier)
	if err != nil {
		return err
	}
	params := domain.GenerationParams{
		Persona:    genPersona,
		Emotion:    genEmotion,
		Topic:      genTopic,
		Tier:       tier,
		TemplateID: genTemplate,
		Prompt:     genPrompt,
		Model:      genModel,
		CreatedBy:  genCreatedBy,
	}
	if err := params.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.gen.GenerateSingle(ctx, params)
	if err != nil {
		return err
	}
	if genOutput == formatJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	renderResult(cmd.OutOrStdout(), res)
	return nil
}
