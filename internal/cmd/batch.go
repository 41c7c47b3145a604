package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-convgen/internal/domain"
	"github.com/ahrav/go-convgen/internal/generation"
	"github.com/ahrav/go-convgen/internal/worker"
	"github.com/ahrav/go-convgen/internal/workflow"
)

var (
	batchConcurrency int
	batchStopOnError bool
	batchDurable     bool
	batchWait        bool
	batchRunID       string
	batchOutput      string
)

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Generate conversations for every item in a JSON or JSONL file",
	Long: `batch reads generation params from a file holding either a JSON array or
one JSON object per line ("-" reads stdin) and generates them with bounded
concurrency. A failing item never stops its siblings unless --stop-on-error
is set.

With --durable the batch is started as a Temporal workflow on the configured
task queue and executed by "convgen serve" workers.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	f := batchCmd.Flags()
	f.IntVarP(&batchConcurrency, "concurrency", "c", 0, "items in flight (default pipeline.concurrency)")
	f.BoolVar(&batchStopOnError, "stop-on-error", false, "stop starting new items after the first failure")
	f.BoolVar(&batchDurable, "durable", false, "run as a Temporal workflow")
	f.BoolVar(&batchWait, "wait", false, "with --durable, wait for the workflow result")
	f.StringVar(&batchRunID, "run-id", "", "correlation ID for the batch's events (default generated)")
	f.StringVarP(&batchOutput, "output", "o", formatTable, "output format: table or json")
}

func runBatch(cmd *cobra.Command, args []string) error {
	if err := checkFormat(batchOutput); err != nil {
		return err
	}
	items, err := readItems(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}

	opts := cfg.BatchOptions()
	if cmd.Flags().Changed("concurrency") {
		opts.Concurrency = batchConcurrency
	}
	if cmd.Flags().Changed("stop-on-error") {
		opts.StopOnError = batchStopOnError
	}
	opts.RunID = batchRunID

	if batchDurable {
		return runDurableBatch(cmd, items, opts)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	stderr := cmd.ErrOrStderr()
	opts.OnProgress = func(p generation.Progress) {
		fmt.Fprintf(stderr, "\r[%d/%d] %.0f%% ok=%d failed=%d eta=%s   ",
			p.Completed, p.Total, p.Percentage, p.Successful, p.Failed, p.EstimatedRemaining.Round(1e9))
	}

	res, err := a.gen.GenerateBatch(ctx, items, opts)
	fmt.Fprintln(stderr)
	if err != nil {
		return err
	}
	if batchOutput == formatJSON {
		if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
	} else {
		renderBatch(cmd.OutOrStdout(), res)
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d items failed", res.Failed, res.Total)
	}
	return nil
}

func runDurableBatch(cmd *cobra.Command, items []domain.GenerationParams, opts generation.BatchOptions) error {
	ctx := cmd.Context()
	c, err := worker.Dial(cfg.Temporal, slog.Default())
	if err != nil {
		return err
	}
	defer c.Close()

	run, err := worker.StartBatch(ctx, c, cfg.Temporal.TaskQueue, workflow.BatchInput{
		RunID:       opts.RunID,
		Items:       items,
		Concurrency: opts.Concurrency,
		StopOnError: opts.StopOnError,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "started workflow %s (run %s)\n", run.GetID(), run.GetRunID())
	if !batchWait {
		return nil
	}

	var res workflow.BatchResult
	if err := run.Get(ctx, &res); err != nil {
		return fmt.Errorf("batch workflow %s: %w", run.GetID(), err)
	}
	if batchOutput == formatJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	renderDurableBatch(cmd.OutOrStdout(), &res)
	return nil
}

// readItems decodes a JSON array or a stream of JSON objects.
func readItems(stdin io.Reader, path string) ([]domain.GenerationParams, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: no items", path)
		}
		return nil, err
	}

	dec := json.NewDecoder(br)
	var items []domain.GenerationParams
	if first == '[' {
		if err := dec.Decode(&items); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	} else {
		for {
			var p domain.GenerationParams
			err := dec.Decode(&p)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("%s: item %d: %w", path, len(items), err)
			}
			items = append(items, p)
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s: no items", path)
	}
	return items, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsRune([]byte(" \t\r\n"), rune(b)) {
			return b, br.UnreadByte()
		}
	}
}
