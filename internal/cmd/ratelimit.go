package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-convgen/internal/config"
)

var rlOutput string

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Inspect or reset the shared rate limit window",
	Long: `ratelimit reads the sliding window shared through Redis. With the memory
backend each process has its own window, so this command needs
rate_limit.backend=redis.`,
}

var ratelimitStatusCmd = &cobra.Command{
	Use:   "status [key]",
	Short: "Show window usage for a key (default llm.model)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(rlOutput); err != nil {
			return err
		}
		a, key, err := sharedLimiterApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.close()

		status := a.limiter.Status(cmd.Context(), key)
		if rlOutput == formatJSON {
			return writeJSON(cmd.OutOrStdout(), status)
		}
		renderStatus(cmd.OutOrStdout(), status)
		return nil
	},
}

var ratelimitResetCmd = &cobra.Command{
	Use:   "reset [key]",
	Short: "Clear the window for a key (default llm.model)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, key, err := sharedLimiterApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.limiter.Reset(cmd.Context(), key); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rate limit window for %q reset\n", key)
		return nil
	},
}

func init() {
	ratelimitStatusCmd.Flags().StringVarP(&rlOutput, "output", "o", formatTable, "output format: table or json")
	ratelimitCmd.AddCommand(ratelimitStatusCmd, ratelimitResetCmd)
}

func sharedLimiterApp(cmd *cobra.Command, args []string) (*app, string, error) {
	if cfg.RateLimit.Backend != config.BackendRedis {
		return nil, "", fmt.Errorf("this command requires rate_limit.backend=%s", config.BackendRedis)
	}
	key := cfg.LLM.Model
	if len(args) == 1 {
		key = args[0]
	}
	a, err := newApp(cmd.Context(), cfg, false)
	if err != nil {
		return nil, "", err
	}
	return a, key, nil
}
