package report

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/signalnine/hypertune/internal/result"
	"github.com/signalnine/hypertune/internal/search"
)

// DefaultTop is how many of the best trials are listed.
const DefaultTop = 10

type StudySummary struct {
	ProblemID  int            `json:"problem_id"`
	Sampler    string         `json:"sampler"`
	Evaluator  string         `json:"evaluator"`
	Trials     int            `json:"trials"`
	Failed     int            `json:"failed"`
	Failures   map[string]int `json:"failures,omitempty"`
	MeanScore  float64        `json:"mean_score"`
	BestScore  float64        `json:"best_score"`
	BestTrial  int            `json:"best_trial"`
	DurationS  int            `json:"duration_s"`
	TopTrials  []search.Trial `json:"top_trials"`
	ParamNames []string       `json:"-"`
}

// Generate reads the study persisted in runDir and writes a summary.
func Generate(runDir, format string, w io.Writer) error {
	rec, err := result.ReadStudy(filepath.Join(runDir, result.StudyFile))
	if err != nil {
		return err
	}
	s := Summarize(rec, DefaultTop)

	switch format {
	case "markdown":
		return writeMarkdown(s, w)
	case "json":
		return writeJSON(s, w)
	default:
		return writeTable(s, w)
	}
}

func Summarize(rec *result.StudyRecord, top int) StudySummary {
	s := StudySummary{
		ProblemID: rec.ProblemID,
		Sampler:   rec.Sampler,
		Evaluator: rec.Evaluator.Name,
		Trials:    len(rec.Trials),
		Failures:  map[string]int{},
		BestTrial: -1,
		DurationS: int(rec.Finished.Sub(rec.Started) / time.Second),
	}
	if rec.Best != nil {
		s.BestScore = rec.Best.Score
		s.BestTrial = rec.Best.Number
	}

	var total float64
	for _, t := range rec.Trials {
		total += t.Score
		if t.Failure != "" {
			s.Failed++
			s.Failures[t.Failure]++
		}
	}
	if s.Trials > 0 {
		s.MeanScore = total / float64(s.Trials)
	}

	ranked := make([]search.Trial, len(rec.Trials))
	copy(ranked, rec.Trials)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Number < ranked[j].Number
	})
	if len(ranked) > top {
		ranked = ranked[:top]
	}
	s.TopTrials = ranked

	names := map[string]bool{}
	for _, t := range ranked {
		for k := range t.Params {
			names[k] = true
		}
	}
	for k := range names {
		s.ParamNames = append(s.ParamNames, k)
	}
	sort.Strings(s.ParamNames)
	return s
}

func writeTable(s StudySummary, w io.Writer) error {
	fmt.Fprintf(w, "Problem %d, evaluator %s, sampler %s\n", s.ProblemID, s.Evaluator, s.Sampler)
	fmt.Fprintf(w, "Trials: %d (%d failed%s), mean score %.3f, duration %ds\n",
		s.Trials, s.Failed, failureBreakdown(s.Failures), s.MeanScore, s.DurationS)
	if s.BestTrial >= 0 {
		fmt.Fprintf(w, "Best: trial %d, score %.3f\n", s.BestTrial, s.BestScore)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TRIAL\tSCORE\tSTATUS\t"+strings.ToUpper(strings.Join(s.ParamNames, "\t")))
	fmt.Fprintln(tw, strings.Repeat("-", 80))
	for _, t := range s.TopTrials {
		fmt.Fprintf(tw, "%d\t%.3f\t%s\t%s\n", t.Number, t.Score, status(t), strings.Join(paramCells(t, s.ParamNames), "\t"))
	}
	return tw.Flush()
}

func writeMarkdown(s StudySummary, w io.Writer) error {
	fmt.Fprintf(w, "**Problem %d** (`%s`, sampler `%s`): %d trials, %d failed, best score %.3f (trial %d)\n\n",
		s.ProblemID, s.Evaluator, s.Sampler, s.Trials, s.Failed, s.BestScore, s.BestTrial)
	fmt.Fprintln(w, "| Trial | Score | Status | "+strings.Join(s.ParamNames, " | ")+" |")
	fmt.Fprintln(w, "|---|---|---|"+strings.Repeat("---|", len(s.ParamNames)))
	for _, t := range s.TopTrials {
		fmt.Fprintf(w, "| %d | %.3f | %s | %s |\n", t.Number, t.Score, status(t), strings.Join(paramCells(t, s.ParamNames), " | "))
	}
	return nil
}

func writeJSON(s StudySummary, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func status(t search.Trial) string {
	if t.Failure != "" {
		return t.Failure
	}
	return "ok"
}

func paramCells(t search.Trial, names []string) []string {
	cells := make([]string, len(names))
	for i, n := range names {
		if v, ok := t.Params[n]; ok {
			cells[i] = fmt.Sprintf("%g", v)
		}
	}
	return cells
}

func failureBreakdown(f map[string]int) string {
	if len(f) == 0 {
		return ""
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, f[k])
	}
	return ": " + strings.Join(parts, ", ")
}
