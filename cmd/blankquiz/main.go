package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"blankquiz"

	"github.com/spf13/cobra"
)

// errFindings makes the process exit 1 without printing an extra error.
var errFindings = errors.New("blank tags need attention")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errFindings) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)

	root := &cobra.Command{
		Use:           "blankquiz",
		Short:         "Generate and validate fill-in-the-blank quizzes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "blankquiz.yaml", "Path to YAML config (optional)")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose debugging output")

	loadConfig := func() (blankquiz.Config, error) {
		cfg, err := blankquiz.LoadConfig(configPath)
		if err != nil {
			return cfg, err
		}
		if verbose {
			cfg.Verbose = true
		}
		return cfg, nil
	}

	root.AddCommand(newValidateCmd(), newGenerateCmd(loadConfig), newConfigCmd(loadConfig))
	return root
}

func newValidateCmd() *cobra.Command {
	var (
		positions []int
		file      string
	)

	cmd := &cobra.Command{
		Use:   "validate [text]",
		Short: "Check [blank_N] tags in question text against configured positions",
		Long: "Prints the validation report as JSON. Text comes from the argument, " +
			"or from --file (\"-\" for stdin). Exits 1 when the text has invalid or " +
			"duplicate tags or is out of sync with --positions.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd.InOrStdin(), args, file)
			if err != nil {
				return err
			}

			report := blankquiz.ValidateBlankText(text, positions)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}

			if len(report.InvalidTags) > 0 || len(report.DuplicatePositions) > 0 || !report.IsSynchronized {
				return errFindings
			}
			return nil
		},
	}
	cmd.Flags().IntSliceVarP(&positions, "positions", "p", nil, "Configured blank positions, e.g. 1,2,3")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read question text from file (\"-\" for stdin)")
	return cmd
}

func readText(stdin io.Reader, args []string, file string) (string, error) {
	switch {
	case len(args) == 1 && file != "":
		return "", errors.New("pass text as an argument or with --file, not both")
	case len(args) == 1:
		return args[0], nil
	case file == "-":
		data, err := io.ReadAll(stdin)
		return string(data), err
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", file, err)
		}
		return string(data), nil
	}
	return "", errors.New("question text is required")
}

func newGenerateCmd(loadConfig func() (blankquiz.Config, error)) *cobra.Command {
	var (
		req        blankquiz.GenerationRequest
		outputFile string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a fill-in-the-blank quiz and print it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(req.Topic) == "" {
				return errors.New("topic is required, use --topic")
			}
			if cfg.OpenAI.APIKey == "" {
				return errors.New("OpenAI API key is required, set OPENAI_API_KEY or openai.api_key")
			}

			logger, err := blankquiz.NewLogger(cfg.LogMode)
			if err != nil {
				return err
			}
			defer logger.Sync()
			blankquiz.SetLogger(logger)
			blankquiz.SetVerbose(cfg.Verbose)

			generator := blankquiz.NewQuizGeneratorWithClient(
				blankquiz.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL),
				cfg.OpenAI.Model,
			)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			quiz, err := generator.GenerateQuiz(ctx, req)
			if err != nil {
				return fmt.Errorf("failed to generate quiz: %w", err)
			}

			output, err := json.MarshalIndent(quiz, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal quiz: %w", err)
			}
			if outputFile == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return err
			}
			if err := os.WriteFile(outputFile, output, 0644); err != nil {
				return fmt.Errorf("failed to write output file: %w", err)
			}
			logger.Infow("quiz saved", "path", outputFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Topic, "topic", "", "Quiz topic (required)")
	cmd.Flags().IntVar(&req.NumQuestions, "questions", 10, "Number of questions to generate")
	cmd.Flags().StringVar(&req.SourceMaterial, "source", "", "Source material to base questions on")
	cmd.Flags().StringVar(&req.Difficulty, "difficulty", "medium", "Difficulty level (easy, medium, hard)")
	cmd.Flags().StringVar(&outputFile, "output", "", "Output file for quiz JSON (default: stdout)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Overall generation timeout")
	return cmd
}

func newConfigCmd(loadConfig func() (blankquiz.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := cfg.Redacted().YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
