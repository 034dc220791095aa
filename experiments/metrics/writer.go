package metrics

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type PlannerConfig struct {
	ID            int
	MaxIterations int
	MaxDepth      int
	Samples       int
	Duration      time.Duration
	Weight        float64
	Online        bool
}

type EpisodeRecord struct {
	ID      int
	Planner int // PlannerConfig.ID
	EpisodeMetric
}

type StepRecord struct {
	Episode int // EpisodeRecord.ID
	StepMetric
}

type Writer struct {
	RunID   uuid.UUID
	baseDir string
}

// NewWriter creates root/name/<run id> and writes every record file there.
func NewWriter(root, name string) (*Writer, error) {
	runID := uuid.New()
	baseDir := filepath.Join(root, name, runID.String())
	err := os.MkdirAll(baseDir, 0755)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create directory")
	}

	return &Writer{
		RunID:   runID,
		baseDir: baseDir,
	}, nil
}

func (w *Writer) Dir() string {
	return w.baseDir
}

func (w *Writer) WritePlannerConfigs(configs []PlannerConfig) error {
	header := []string{"run", "id", "max_iterations", "max_depth", "samples", "duration", "weight", "online"}
	rows := make([][]string, 0, len(configs))
	for _, config := range configs {
		rows = append(rows, []string{
			w.RunID.String(),
			strconv.Itoa(config.ID),
			strconv.Itoa(config.MaxIterations),
			strconv.Itoa(config.MaxDepth),
			strconv.Itoa(config.Samples),
			config.Duration.String(),
			strconv.FormatFloat(config.Weight, 'f', -1, 64),
			strconv.FormatBool(config.Online),
		})
	}
	return w.write("planner_configs.csv", header, rows)
}

func (w *Writer) WriteEpisodeRecords(records []EpisodeRecord) error {
	header := []string{"run", "id", "planner", "start_time", "end_time", "duration", "steps", "return", "terminated", "fallbacks"}
	rows := make([][]string, 0, len(records))
	for _, record := range records {
		rows = append(rows, []string{
			w.RunID.String(),
			strconv.Itoa(record.ID),
			strconv.Itoa(record.Planner),
			record.StartTime.Format(time.RFC3339),
			record.EndTime.Format(time.RFC3339),
			record.Duration.String(),
			strconv.Itoa(record.Steps),
			strconv.FormatFloat(record.Return, 'f', -1, 64),
			strconv.FormatBool(record.Terminated),
			strconv.Itoa(record.Fallbacks),
		})
	}
	return w.write("episode_records.csv", header, rows)
}

func (w *Writer) WriteStepRecords(records []StepRecord) error {
	header := []string{"run", "episode", "step", "action", "observation", "cost", "duration", "simulations", "full_rollouts", "max_depth", "nodes", "is_tree_reused", "stopped_early"}
	rows := make([][]string, 0, len(records))
	for _, record := range records {
		rows = append(rows, []string{
			w.RunID.String(),
			strconv.Itoa(record.Episode),
			strconv.Itoa(record.Step),
			record.Action,
			record.Observation,
			strconv.FormatFloat(record.Cost, 'f', -1, 64),
			record.Duration.String(),
			strconv.Itoa(record.Simulations),
			strconv.Itoa(record.FullRollouts),
			strconv.Itoa(record.MaxDepth),
			strconv.Itoa(record.Nodes),
			strconv.FormatBool(record.IsTreeReused),
			strconv.FormatBool(record.StoppedEarly),
		})
	}
	return w.write("step_records.csv", header, rows)
}

func (w *Writer) write(file string, header []string, rows [][]string) error {
	path := filepath.Join(w.baseDir, file)
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", file)
	}
	defer f.Close()

	writer := csv.NewWriter(f)

	err = writer.Write(header)
	if err != nil {
		return errors.Wrapf(err, "failed to write %s header", file)
	}
	err = writer.WriteAll(rows)
	if err != nil {
		return errors.Wrapf(err, "failed to write %s rows", file)
	}
	return nil
}
