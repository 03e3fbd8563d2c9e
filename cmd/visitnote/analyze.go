package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"visitnote/internal/audio"
	"visitnote/internal/domain"
)

func newAnalyzeCmd(opts *rootOptions) *cobra.Command {
	var (
		audioPath string
		mimeType  string
		note      string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a visit recording and/or note",
		Example: `  visitnote analyze --audio visit.webm
  visitnote analyze --note "BP 150/90, 下肢浮腫あり" --json > result.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			services, err := opts.build(ctx, nil, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			var rec *domain.Recording
			if strings.TrimSpace(audioPath) != "" {
				rec, err = audio.ReadRecordingFile(audioPath, mimeType)
				if err != nil {
					return err
				}
			}

			reqCtx, cancel := opts.requestContext(ctx)
			defer cancel()

			result, err := services.Analysis.Analyze(reqCtx, rec, note)
			if err != nil {
				return userError(err)
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			renderResult(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().StringVar(&audioPath, "audio", "", "Recorded visit audio file")
	cmd.Flags().StringVar(&mimeType, "mime", "", "Audio MIME type (inferred from the extension when empty)")
	cmd.Flags().StringVar(&note, "note", "", "Free-text visit note")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the analysis as JSON")
	return cmd
}

func writeJSON(w io.Writer, result domain.AnalysisResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(result)
}

func renderResult(w io.Writer, result domain.AnalysisResult) {
	fmt.Fprintf(w, "脅威レベル: %s\n\n", result.ThreatLevel)

	fmt.Fprintln(w, "■ SOAP")
	fmt.Fprintf(w, "S: %s\n", result.Soap.Subjective)
	fmt.Fprintf(w, "O: %s\n", result.Soap.Objective)
	fmt.Fprintf(w, "A: %s\n", result.Soap.Assessment)
	fmt.Fprintf(w, "P: %s\n\n", result.Soap.Plan)

	fmt.Fprintln(w, "■ 看護計画")
	for i, entry := range result.CarePlan {
		fmt.Fprintf(w, "%d. %s\n", i+1, entry.Problem)
		fmt.Fprintf(w, "   目標: %s\n", entry.Goal)
		fmt.Fprintf(w, "   介入: %s\n", entry.Intervention)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "■ 要約\n%s\n\n", result.Summary)
	fmt.Fprintf(w, "■ お局の教え\n%s\n", result.OtsuboneWisdom)
}

// userError points credential failures at the variables that fix them.
func userError(err error) error {
	if errors.Is(err, domain.ErrCredential) {
		return fmt.Errorf("%w (set GEMINI_API_KEY, OPENAI_API_KEY or VISITNOTE_API_KEY)", err)
	}
	return err
}
