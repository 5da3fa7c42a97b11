// Package artifacts writes timestamped diagnostic files (page snapshots,
// failing payloads, parse summaries) into a run-level directory so crawl
// failures can be inspected after the fact.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var root = "artifacts"

// SetRoot overrides the directory artifacts are written into. The default
// is ./artifacts.
func SetRoot(dir string) {
	if dir != "" {
		root = dir
	}
}

// Root returns the current artifact directory.
func Root() string {
	return root
}

// Save writes contents to <root>/<tag>_<timestamp><ext> and returns the
// written path. ext should include the leading dot.
func Save(tag string, ext string, contents []byte) (string, error) {
	err := os.MkdirAll(root, 0755)
	if err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s%s", tag, time.Now().Format("20060102-150405"), ext)
	path := filepath.Join(root, name)
	err = os.WriteFile(path, contents, 0644)
	if err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}

// SaveJSON marshals v with indentation and saves it under a .json name.
func SaveJSON(tag string, v any) (string, error) {
	contents, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}
	return Save(tag, ".json", contents)
}
