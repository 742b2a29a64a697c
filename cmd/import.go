package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/pkg/webhook"
)

var importFile string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import source candidates from a JSON file into the store",
	Long:  "Reads companies in any shape the discovery webhook returns (a list, or one wrapped under companies/results) and upserts them as source candidates.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cands, err := readCandidates(importFile)
		if err != nil {
			return err
		}
		if len(cands) == 0 {
			return eris.Errorf("no companies with a domain found in %s", importFile)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		n, err := st.ImportCandidates(ctx, cands)
		if err != nil {
			return eris.Wrap(err, "import candidates")
		}

		zap.L().Info("import complete",
			zap.Int64("imported", n),
			zap.Int("parsed", len(cands)),
			zap.String("file", importFile),
		)
		return nil
	},
}

func readCandidates(path string) ([]model.Candidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "parse %s", path)
	}
	cands := webhook.ParseCompanies(doc)
	for i := range cands {
		cands[i].Source = "import"
	}
	return cands, nil
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path to JSON file (required)")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
