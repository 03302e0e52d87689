// Package workspace materialises one trial on disk: a private directory
// holding the candidate parameter file and, once the evaluator has run, its
// output file.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	ParamsFile = "params.json"
	OutputFile = "output.json"
	MetaFile   = "meta.json"
)

// ErrConflict means a trial directory already exists. Trial numbers are
// unique within a run, so this is an invariant violation rather than a
// recoverable condition.
var ErrConflict = errors.New("workspace conflict")

// ErrNoScore is returned by ReadScore when the output cannot yield a score.
var ErrNoScore = errors.New("no score in output")

type Workspace struct {
	Number     int
	Dir        string
	ParamsPath string
	OutputPath string
}

// Dir returns the directory owned by trial number under root.
func Dir(root string, number int) string {
	return filepath.Join(root, strconv.Itoa(number))
}

// Create makes a new, empty directory root/<number>.
func Create(root string, number int) (*Workspace, error) {
	if number < 0 {
		return nil, fmt.Errorf("trial number %d is negative", number)
	}
	dir := Dir(root, number)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s already exists", ErrConflict, dir)
		}
		return nil, fmt.Errorf("creating trial dir: %w", err)
	}
	return &Workspace{
		Number:     number,
		Dir:        dir,
		ParamsPath: filepath.Join(dir, ParamsFile),
		OutputPath: filepath.Join(dir, OutputFile),
	}, nil
}

// WriteParams writes the parameter document the evaluator reads via --params.
func (w *Workspace) WriteParams(doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling params: %w", err)
	}
	if err := os.WriteFile(w.ParamsPath, data, 0o644); err != nil {
		return fmt.Errorf("writing params: %w", err)
	}
	return nil
}

// ReadScore parses the evaluator's output file and returns its numeric
// "score" field. Other fields are ignored.
func (w *Workspace) ReadScore() (float64, error) {
	data, err := os.ReadFile(w.OutputPath)
	if err != nil {
		return 0, fmt.Errorf("reading output: %w", err)
	}
	return ParseScore(data)
}

func ParseScore(data []byte) (float64, error) {
	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("parsing output: %w", err)
	}
	raw, ok := out["score"]
	if !ok || string(raw) == "null" {
		return 0, fmt.Errorf("%w: field missing", ErrNoScore)
	}
	var score float64
	if err := json.Unmarshal(raw, &score); err != nil {
		return 0, fmt.Errorf("%w: %s is not a number", ErrNoScore, raw)
	}
	return score, nil
}

// WriteMeta stores a JSON record of the trial next to its parameter file.
func (w *Workspace) WriteMeta(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling meta: %w", err)
	}
	return os.WriteFile(filepath.Join(w.Dir, MetaFile), data, 0o644)
}
