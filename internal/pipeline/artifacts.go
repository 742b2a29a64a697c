package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Files written into each run directory.
const (
	inputFile       = "input.json"
	metricsFile     = "metrics.json"
	outputFile      = "output.json"
	partialFile     = "partial_companies.json"
	incrementalFile = "incremental_results.json"
	summaryFile     = "summary.txt"
	runLogFile      = "run.log"
)

// newRunID returns a sortable, collision-resistant run identifier.
func newRunID(now time.Time) string {
	return now.UTC().Format("20060102_150405") + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

func writeJSON(dir, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "pipeline: marshal %s", name)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return eris.Wrapf(err, "pipeline: write %s", name)
	}
	return nil
}

// openRunLog tees base into a JSON run.log inside dir.
func openRunLog(base *zap.Logger, dir string) (*zap.Logger, func(), error) {
	f, err := os.OpenFile(filepath.Join(dir, runLogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: open run log")
	}
	enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	fileCore := zapcore.NewCore(enc, zapcore.AddSync(f), zapcore.DebugLevel)
	logger := zap.New(zapcore.NewTee(base.Core(), fileCore))
	closer := func() {
		_ = logger.Sync()
		_ = f.Close()
	}
	return logger, closer, nil
}

// writeSummary writes a short human-readable account of the run.
func writeSummary(rc *RunContext, res *Result, runErr error) error {
	m := rc.Metrics.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s\n", rc.ID)
	fmt.Fprintf(&b, "Phase: %s\n", rc.Phase())
	fmt.Fprintf(&b, "Requested: %d  Buffer target: %d (%.2fx)\n", rc.Requested, rc.BufferTarget, rc.Multiplier)
	if res != nil {
		fmt.Fprintf(&b, "Companies returned: %d\n", res.Returned)
	}
	fmt.Fprintf(&b, "Duration: %.1fs\n", m.DurationSecs)
	if runErr != nil {
		fmt.Fprintf(&b, "Error: %v\n", runErr)
	}
	b.WriteString("\nCounters:\n")
	for _, k := range sortedKeys(m.Counters) {
		fmt.Fprintf(&b, "  %-28s %d\n", k, m.Counters[k])
	}
	if len(m.APICalls) > 0 {
		b.WriteString("\nAPI calls:\n")
		for _, k := range sortedKeys(m.APICalls) {
			t := m.APICalls[k]
			fmt.Fprintf(&b, "  %-28s ok=%d failed=%d\n", k, t.Success, t.Failure)
		}
	}
	return os.WriteFile(filepath.Join(rc.Dir, summaryFile), []byte(b.String()), 0o644)
}
