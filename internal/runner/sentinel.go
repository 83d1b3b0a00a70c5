package runner

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ResultPrefix marks the worker's result line: FINAL_VIDEO_PATH:<path>
const ResultPrefix = "FINAL_VIDEO_PATH"

var errOutsideUploads = errors.New("path escapes the uploads directory")

// ExtractResultPath returns the path carried by the last result line.
// The prefix is matched case-insensitively and whitespace around it is ignored.
func ExtractResultPath(lines []string) (string, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		if p, ok := parseResultLine(lines[i]); ok {
			return p, true
		}
	}
	return "", false
}

func parseResultLine(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	idx := strings.Index(trimmed, ":")
	if idx < 0 {
		return "", false
	}
	if !strings.EqualFold(strings.TrimSpace(trimmed[:idx]), ResultPrefix) {
		return "", false
	}
	p := strings.TrimSpace(trimmed[idx+1:])
	if p == "" {
		return "", false
	}
	return p, true
}

// ResultLocator turns worker-reported paths into public URLs under the uploads mount
type ResultLocator struct {
	UploadsDir string
	Mount      string
	// VerifyExists requires the artifact to be present on disk
	VerifyExists bool
}

// Resolve returns the public URL and the on-disk location of a reported path
func (l ResultLocator) Resolve(reported string) (string, string, error) {
	mount := "/" + strings.Trim(l.Mount, "/")
	mountName := strings.TrimPrefix(mount, "/")

	raw := strings.ReplaceAll(strings.TrimSpace(reported), `\`, "/")

	var rel string
	if strings.HasPrefix(raw, "/") || filepath.IsAbs(filepath.FromSlash(raw)) {
		if r, ok := l.relToUploads(raw); ok {
			rel = r
		} else if strings.HasPrefix(path.Clean(raw), mount+"/") {
			rel = strings.TrimPrefix(path.Clean(raw), mount+"/")
		} else {
			return "", "", fmt.Errorf("%q: %w", reported, errOutsideUploads)
		}
	} else {
		rel = path.Clean(raw)
		if mountName != "" && (rel == mountName || strings.HasPrefix(rel, mountName+"/")) {
			rel = strings.TrimPrefix(strings.TrimPrefix(rel, mountName), "/")
		}
	}

	if rel == "" || rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", "", fmt.Errorf("%q: %w", reported, errOutsideUploads)
	}

	diskPath := filepath.Join(l.UploadsDir, filepath.FromSlash(rel))
	if l.VerifyExists {
		info, err := os.Stat(diskPath)
		if err != nil {
			return "", "", fmt.Errorf("result file %s: %w", diskPath, err)
		}
		if info.IsDir() {
			return "", "", fmt.Errorf("result file %s is a directory", diskPath)
		}
	}

	return mount + "/" + rel, diskPath, nil
}

func (l ResultLocator) relToUploads(abs string) (string, bool) {
	if l.UploadsDir == "" {
		return "", false
	}
	root, err := filepath.Abs(l.UploadsDir)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(root, filepath.Clean(filepath.FromSlash(abs)))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
