package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"visitnote/internal/domain"
)

func newSupplementCmd(opts *rootOptions) *cobra.Command {
	var (
		kind       string
		resultPath string
	)

	cmd := &cobra.Command{
		Use:     "supplement",
		Short:   "Generate insight, family report or handover text from a saved analysis",
		Example: `  visitnote supplement --kind handover --result result.json`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k := domain.SupplementKind(kind)
			if !k.Valid() {
				return fmt.Errorf("%w: --kind must be one of insight, family-report, handover", domain.ErrInput)
			}
			if resultPath == "" {
				return fmt.Errorf("%w: --result is required", domain.ErrInput)
			}
			result, err := readResult(resultPath)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			services, err := opts.build(ctx, nil, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			reqCtx, cancel := opts.requestContext(ctx)
			defer cancel()

			text, err := services.Analysis.Supplement(reqCtx, k, result.Soap, result.CarePlan)
			if err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "■ %s\n%s\n", k.Title(), text)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "insight, family-report or handover")
	cmd.Flags().StringVar(&resultPath, "result", "", "JSON written by analyze --json")
	return cmd
}

func readResult(path string) (domain.AnalysisResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("failed to read analysis: %w", err)
	}
	var result domain.AnalysisResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("%w: analysis is not valid JSON: %v", domain.ErrInput, err)
	}
	return result, nil
}
