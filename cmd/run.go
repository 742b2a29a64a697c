package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lead-pipeline/internal/model"
)

var (
	runState        string
	runCity         string
	runLocation     string
	runPMS          string
	runQuantity     int
	runUnitMin      int
	runUnitMax      int
	runRequirements string
	runExclude      []string
	runMaxRounds    int
	runOutput       string
	runRequestFile  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single lead request",
	Example: `  lead-pipeline run --state KS --city Wichita --quantity 25
  lead-pipeline run --request-file request.yaml --output leads.json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		params, err := buildRunParams(cmd.Flags())
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		result, runErr := env.Orchestrator.Run(ctx, params)
		if result != nil {
			if err := writeResult(result, runOutput); err != nil {
				return err
			}
			zap.L().Info("run complete",
				zap.String("run_id", result.RunID),
				zap.Int("requested", result.Requested),
				zap.Int("returned", result.Returned),
				zap.String("run_dir", result.RunDir),
			)
		}
		if runErr != nil {
			return eris.Wrap(runErr, "run")
		}
		return nil
	},
}

// buildRunParams reads --request-file when given and overlays every flag
// the user set explicitly.
func buildRunParams(flags *pflag.FlagSet) (model.RequestParams, error) {
	var p model.RequestParams
	if runRequestFile != "" {
		loaded, err := loadRequestFile(runRequestFile)
		if err != nil {
			return p, err
		}
		p = loaded
	} else {
		p.Quantity = runQuantity
	}

	if flags.Changed("state") {
		p.State = strings.ToUpper(strings.TrimSpace(runState))
	}
	if flags.Changed("city") {
		p.City = runCity
	}
	if flags.Changed("location") {
		p.Location = runLocation
	}
	if flags.Changed("pms") {
		p.PMS = runPMS
	}
	if flags.Changed("quantity") {
		p.Quantity = runQuantity
	}
	if flags.Changed("unit-min") {
		v := runUnitMin
		p.UnitMin = &v
	}
	if flags.Changed("unit-max") {
		v := runUnitMax
		p.UnitMax = &v
	}
	if flags.Changed("requirements") {
		p.Requirements = runRequirements
	}
	if flags.Changed("exclude") {
		p.Exclude = runExclude
	}
	if flags.Changed("max-rounds") {
		p.MaxRounds = runMaxRounds
	}

	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func loadRequestFile(path string) (model.RequestParams, error) {
	var p model.RequestParams
	data, err := os.ReadFile(path)
	if err != nil {
		return p, eris.Wrapf(err, "read request file %s", path)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, eris.Wrapf(err, "parse request file %s", path)
	}
	p.State = strings.ToUpper(strings.TrimSpace(p.State))
	return p, nil
}

// writeResult prints the result JSON to stdout, or to path when set.
func writeResult(result any, path string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal result")
	}
	if path == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "write %s", path)
	}
	return nil
}

// registerRequestFlags binds the request parameter flags shared by run and
// plan.
func registerRequestFlags(f *pflag.FlagSet) {
	f.StringVar(&runState, "state", "", "two-letter state code")
	f.StringVar(&runCity, "city", "", "target city")
	f.StringVar(&runLocation, "location", "", "free-form location (defaults to \"City, State\")")
	f.StringVar(&runPMS, "pms", "", "property management software filter")
	f.IntVar(&runQuantity, "quantity", 10, "number of leads to deliver")
	f.IntVar(&runUnitMin, "unit-min", 0, "minimum units managed")
	f.IntVar(&runUnitMax, "unit-max", 0, "maximum units managed")
	f.StringVar(&runRequirements, "requirements", "", "extra requirements passed to discovery")
	f.StringSliceVar(&runExclude, "exclude", nil, "domains to exclude (comma-separated, globs allowed)")
	f.IntVar(&runMaxRounds, "max-rounds", 0, "discovery round cap (default from config)")
	f.StringVar(&runRequestFile, "request-file", "", "YAML file with request parameters")
}

func init() {
	registerRequestFlags(runCmd.Flags())
	runCmd.Flags().StringVar(&runOutput, "output", "", "write the result JSON to this file instead of stdout")
	rootCmd.AddCommand(runCmd)
}
