package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mbd888/riskintake/internal/csvmap"
	"github.com/mbd888/riskintake/internal/risk"
	"github.com/mbd888/riskintake/internal/transactions"
)

func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score <file.csv>",
		Short: "Score a CSV file locally without a server",
		Long: `Score every row of a transaction CSV with the local risk estimator.

The mapped columns plus risk_score and risk_level are written as CSV to stdout
(or --output). Rows that cannot be read, or that an upload would reject,
are skipped and counted.`,
		Args: cobra.ExactArgs(1),
		RunE: runScore,
	}

	cmd.Flags().StringP("output", "o", "", "write scored CSV to this file instead of stdout")
	cmd.Flags().String("risk-config", "", "YAML file overriding risk weights")
	cmd.Flags().String("scale", "", "score scale (percent or unit)")
	cmd.Flags().Bool("no-progress", false, "disable the progress bar")

	_ = viper.BindPFlag("risk.config_file", cmd.Flags().Lookup("risk-config"))
	_ = viper.BindPFlag("risk.scale", cmd.Flags().Lookup("scale"))
	_ = viper.BindPFlag("score.no_progress", cmd.Flags().Lookup("no-progress"))

	return cmd
}

func runScore(cmd *cobra.Command, args []string) error {
	est, err := risk.Load(viper.GetString("risk.config_file"), viper.GetString("risk.scale"))
	if err != nil {
		return err
	}

	in, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer func() { _ = in.Close() }()

	out := cmd.OutOrStdout()
	if path, _ := cmd.Flags().GetString("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	var progress io.Writer
	if !viper.GetBool("score.no_progress") {
		progress = cmd.ErrOrStderr()
	}

	sum, err := scoreCSV(cmd.Context(), in, out, est, progress)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "\nScored %d row(s), skipped %d, high risk %d, max %g\n",
		sum.Scored, sum.Skipped, sum.High, sum.Max)
	return nil
}

type scoreSummary struct {
	Scored  int
	Skipped int
	High    int
	Max     float64
}

var scoredHeader = []string{"amount", "merchant", "country", "timestamp", "risk_score", "risk_level"}

// scoreCSV maps and scores every row of in, writing one output row per scored
// input row. Rows the server would reject on upload are skipped and counted.
// A nil progress writer disables the bar.
func scoreCSV(ctx context.Context, in io.Reader, out io.Writer, est *risk.Estimator, progress io.Writer) (scoreSummary, error) {
	var sum scoreSummary

	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	w := csv.NewWriter(out)
	if err := w.Write(scoredHeader); err != nil {
		return sum, err
	}

	headers, err := reader.Read()
	if errors.Is(err, io.EOF) {
		w.Flush()
		return sum, w.Error()
	}
	if err != nil {
		return sum, fmt.Errorf("read csv header: %w", err)
	}
	binding := csvmap.NewDefault().Bind(headers)

	var bar *progressbar.ProgressBar
	if progress != nil {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(progress),
			progressbar.OptionShowCount(),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetDescription("Scoring rows"),
		)
	}

	now := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if bar != nil {
			_ = bar.Add(1)
		}
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return sum, fmt.Errorf("read csv: %w", err)
			}
			slog.Warn("skipping unreadable csv row", "line", parseErr.Line, "error", err)
			sum.Skipped++
			continue
		}
		line, _ := reader.FieldPos(0)

		d, err := binding.Map(record)
		if err == nil {
			_, err = transactions.FromDraft("", d, transactions.SourceCSV, now)
		}
		if err != nil {
			slog.Warn("skipping csv row", "line", line, "error", err)
			sum.Skipped++
			continue
		}

		a := est.Assess(d.RiskInput())
		sum.Scored++
		if a.Score > sum.Max {
			sum.Max = a.Score
		}
		if a.Level == risk.LevelHigh {
			sum.High++
		}

		if err := w.Write([]string{
			strconv.FormatFloat(d.Amount, 'f', -1, 64),
			d.Merchant,
			d.Country,
			d.Timestamp,
			strconv.FormatFloat(a.Score, 'f', -1, 64),
			string(a.Level),
		}); err != nil {
			return sum, err
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	w.Flush()
	return sum, w.Error()
}
