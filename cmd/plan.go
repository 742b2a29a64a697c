package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-pipeline/internal/pipeline"
	"github.com/sells-group/lead-pipeline/internal/planner"
)

// planOutput is what plan prints: the buffer target and the chunk split of
// the first discovery round.
type planOutput struct {
	Requested  int             `json:"requested_quantity"`
	Quantity   int             `json:"quantity"`
	Target     int             `json:"buffer_target"`
	Multiplier float64         `json:"buffer_multiplier"`
	Chunks     []planner.Chunk `json:"chunks"`
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the buffer target and chunk plan for a request",
	RunE: func(cmd *cobra.Command, _ []string) error {
		params, err := buildRunParams(cmd.Flags())
		if err != nil {
			return err
		}
		if err := cfg.Validate("plan"); err != nil {
			return err
		}

		deps, err := buildDeps()
		if err != nil {
			return err
		}
		orch := pipeline.New(cfg, deps)

		out := planOutput{Requested: params.Quantity}
		out.Quantity, out.Target, out.Multiplier = orch.Plan(params.Quantity)

		chunks, err := deps.Splitter.Split(cmd.Context(), params.DiscoveryQuery(out.Target))
		if err != nil {
			return err
		}
		out.Chunks = chunks
		return writeResult(out, runOutput)
	},
}

func init() {
	registerRequestFlags(planCmd.Flags())
	planCmd.Flags().StringVar(&runOutput, "output", "", "write the plan JSON to this file instead of stdout")
	rootCmd.AddCommand(planCmd)
}
