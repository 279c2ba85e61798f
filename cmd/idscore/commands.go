package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/idcompare/internal/extraction"
	"github.com/example/idcompare/internal/scoring"
)

func newParseCommand(logger func() *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "parse FILE",
		Short: "Print the records found in saved model output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			records, err := extraction.ParseRecords([]string{output})
			if err != nil {
				logger().Debug("parse failed", zap.String("file", args[0]), zap.Error(err))
				return fmt.Errorf("no record pair in %s: %w", args[0], err)
			}

			rows := make([][]string, 0, len(records))
			for i, record := range records {
				image := ""
				if record.Image != nil {
					image = *record.Image
				}
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					orDash(record.NameValue()),
					orDash(record.DateOfBirthValue()),
					orDash(image),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"#", "Name", "Date of birth", "Image"},
				rows,
				0,
			))
			return nil
		},
	}
}

func newTextCommand(logger func() *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "text FILE",
		Short: "Score the text similarity of the records in saved model output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			records := extraction.NewParser(logger()).Parse([]string{output})
			scores, ok := scoring.NewTextScorer(logger()).Breakdown(records)

			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintf(out, "Text score: %.2f (records not parsed)\n", scores.Text)
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Signal", "Value"},
				[][]string{
					{"Name similarity", formatScore(scores.Name)},
					{"Date of birth match", strconv.FormatBool(scores.DOBMatch)},
					{"Text score", formatScore(scores.Text)},
				},
				1,
			))
			return nil
		},
	}
}

func newFuseCommand(logger func() *zap.Logger) *cobra.Command {
	var face, text float64
	defaults := scoring.DefaultWeights()
	weights := defaults

	cmd := &cobra.Command{
		Use:   "fuse",
		Short: "Combine a face score and a text score",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			overall := scoring.NewFuser(weights, logger()).Fuse(face, text)
			fmt.Fprintf(cmd.OutOrStdout(), "Overall score: %s\n", formatScore(overall))
			return nil
		},
	}

	cmd.Flags().Float64Var(&face, "face", 0, "Face similarity in [0, 1]")
	cmd.Flags().Float64Var(&text, "text", 0, "Text similarity in [0, 1]")
	cmd.Flags().Float64Var(&weights.Face, "face-weight", defaults.Face, "Weight applied to the face score")
	cmd.Flags().Float64Var(&weights.Text, "text-weight", defaults.Text, "Weight applied to the text score")
	_ = cmd.MarkFlagRequired("face")
	_ = cmd.MarkFlagRequired("text")

	return cmd
}

// readInput reads path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 2, 64)
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
