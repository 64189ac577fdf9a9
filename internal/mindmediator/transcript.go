package mindmediator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileTranscriptRecorder persists one JSONL file per tag under dir, named
// "<ts>_<tag>.jsonl" (spec.md §6 file layout
// "transcripts/mind/<ts>_<tag>.jsonl"): a header line followed by one
// request/response line per attempt.
type FileTranscriptRecorder struct {
	Dir string

	paths map[string]string
}

func NewFileTranscriptRecorder(dir string) *FileTranscriptRecorder {
	return &FileTranscriptRecorder{Dir: dir, paths: map[string]string{}}
}

func (r *FileTranscriptRecorder) Record(tag string, attempt Attempt) (string, error) {
	path, ok := r.paths[tag]
	if !ok {
		if err := os.MkdirAll(r.Dir, 0o755); err != nil {
			return "", fmt.Errorf("mindmediator: mkdir transcripts dir: %w", err)
		}
		name := fmt.Sprintf("%d_%s.jsonl", time.Now().UnixNano(), tag)
		path = filepath.Join(r.Dir, name)
		r.paths[tag] = path

		header, _ := json.Marshal(map[string]any{"kind": "header", "tag": tag, "ts": time.Now().UTC().Format(time.RFC3339)})
		if err := appendLine(path, header); err != nil {
			return "", err
		}
	}

	line, err := json.Marshal(map[string]any{
		"kind":          "attempt",
		"attempt_num":   attempt.AttemptNum,
		"system_prompt": attempt.SystemPrompt,
		"user_prompt":   attempt.UserPrompt,
		"raw_response":  attempt.RawResponse,
		"error":         attempt.Error,
		"duration_ms":   attempt.DurationMS,
	})
	if err != nil {
		return path, fmt.Errorf("mindmediator: marshal transcript line: %w", err)
	}
	if err := appendLine(path, line); err != nil {
		return path, err
	}
	return path, nil
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("mindmediator: open transcript %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("mindmediator: write transcript line: %w", err)
	}
	return f.Sync()
}
