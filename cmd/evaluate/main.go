package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"caloriecast/calories"
	"caloriecast/ml"
	"github.com/spf13/cobra"
)

const targetColumn = "calories"

type options struct {
	modelPath string
	dataPath  string
	onnxLib   string
	noHeader  bool
	asJSON    bool
}

func newCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "evaluate",
		Short:        "Score a model artifact against a labelled CSV",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, cmd.OutOrStdout())
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&opts.modelPath, "model", "models/calorie_model.json", "model artifact (.json or .onnx)")
	fs.StringVar(&opts.dataPath, "data", "", "CSV with gender,age,height,weight,duration,calories columns")
	fs.StringVar(&opts.onnxLib, "onnx-lib", "", "onnxruntime shared library, required for .onnx artifacts")
	fs.BoolVar(&opts.noHeader, "no-header", false, "CSV has no header row; columns are positional")
	fs.BoolVar(&opts.asJSON, "json", false, "print the report as JSON")
	cmd.MarkFlagRequired("data")
	return cmd
}

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opts *options, out io.Writer) error {
	if opts.onnxLib != "" {
		if err := ml.InitONNX(opts.onnxLib); err != nil {
			return err
		}
		defer ml.ShutdownONNX()
	}

	model, err := ml.LoadModel(opts.modelPath, ml.LoadOptions{NumFeatures: len(calories.FeatureOrder)})
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}

	file, err := os.Open(opts.dataPath)
	if err != nil {
		return err
	}
	defer file.Close()

	rows, targets, err := readSamples(file, !opts.noHeader)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", opts.dataPath, err)
	}

	report, err := ml.Evaluate(model, rows, targets)
	if err != nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	fmt.Fprintf(out, "samples=%d failed=%d mae=%.4f rmse=%.4f r2=%.4f\n",
		report.Samples, report.Failed, report.MAE, report.RMSE, report.R2)
	return nil
}

// readSamples returns feature rows in calories.FeatureOrder and their targets.
// With a header, columns are found by name (case-insensitive) and extra
// columns are ignored; without one the first six columns are used in order.
func readSamples(r io.Reader, header bool) ([][]float64, []float64, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	columns := append(append([]string(nil), calories.FeatureOrder...), targetColumn)
	index := make([]int, len(columns))
	for i := range index {
		index[i] = i
	}

	if header {
		names, err := reader.Read()
		if err != nil {
			return nil, nil, fmt.Errorf("header: %w", err)
		}
		positions := make(map[string]int, len(names))
		for i, name := range names {
			positions[strings.ToLower(strings.TrimSpace(name))] = i
		}
		for i, column := range columns {
			pos, ok := positions[column]
			if !ok {
				return nil, nil, fmt.Errorf("missing column %q", column)
			}
			index[i] = pos
		}
	}

	var rows [][]float64
	var targets []float64
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}

		values := make([]float64, len(columns))
		for i, column := range columns {
			if index[i] >= len(record) {
				return nil, nil, fmt.Errorf("record %d: missing %s", line, column)
			}
			v, err := parseValue(column, record[index[i]])
			if err != nil {
				return nil, nil, fmt.Errorf("record %d: %s: %w", line, column, err)
			}
			values[i] = v
		}
		rows = append(rows, values[:len(columns)-1])
		targets = append(targets, values[len(columns)-1])
	}
	return rows, targets, nil
}

// parseValue also accepts male/female for gender, encoded as 1/0.
func parseValue(column, raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if column == "gender" {
		switch strings.ToLower(raw) {
		case "male":
			return 1, nil
		case "female":
			return 0, nil
		}
	}
	return strconv.ParseFloat(raw, 64)
}
