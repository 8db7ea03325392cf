package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store persists GraphResult journals under:
//
//	<baseDir>/.taskforge/runs/<run-id>/graph_result.json
//
// Writes are atomic and durable (temp file + fsync + rename + directory
// fsync), adapted from the teacher's own Store in internal/recovery/state.
type Store struct {
	baseDir string
}

// NewStore builds a Store rooted at baseDir.
func NewStore(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("checkpoint: baseDir is required")
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) runsRootDir() string {
	return filepath.Join(s.baseDir, ".taskforge", "runs")
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.runsRootDir(), runID)
}

func (s *Store) resultPath(runID string) string {
	return filepath.Join(s.runDir(runID), "graph_result.json")
}

// ListRunIDs returns every run ID currently journaled on disk, sorted
// lexicographically.
func (s *Store) ListRunIDs() ([]string, error) {
	entries, err := os.ReadDir(s.runsRootDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if name := strings.TrimSpace(e.Name()); name != "" {
			ids = append(ids, name)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Save writes result to disk, overwriting any previous snapshot for the
// same run. Each call is a complete, self-contained snapshot; the journal
// never depends on append ordering.
func (s *Store) Save(result GraphResult) error {
	if err := result.Validate(); err != nil {
		return fmt.Errorf("checkpoint: invalid graph result: %w", err)
	}
	if err := ensureDirDurable(s.runDir(result.RunID), 0o755); err != nil {
		return fmt.Errorf("checkpoint: ensure run dir: %w", err)
	}
	data, err := jsonMarshalStable(result)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal graph result: %w", err)
	}
	if err := writeFileAtomicDurable(s.resultPath(result.RunID), data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write graph result: %w", err)
	}
	return nil
}

// Load reads the journaled GraphResult for runID back from disk.
func (s *Store) Load(runID string) (GraphResult, error) {
	if strings.TrimSpace(runID) == "" {
		return GraphResult{}, errors.New("checkpoint: runID is required")
	}
	var result GraphResult
	if err := readJSONStrict(s.resultPath(runID), &result); err != nil {
		return GraphResult{}, err
	}
	if err := result.Validate(); err != nil {
		return GraphResult{}, fmt.Errorf("checkpoint: invalid graph result on disk: %w", err)
	}
	return result, nil
}

func jsonMarshalStable(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("checkpoint: invalid JSON: trailing content")
	}
	return nil
}

func ensureDirDurable(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return err
	}
	if err := fsyncDir(dir); err != nil {
		return err
	}
	parent := filepath.Dir(dir)
	if parent != dir {
		if err := fsyncDir(parent); err != nil {
			return err
		}
	}
	return nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
