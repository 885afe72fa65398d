// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys and credentials from a directory of plain-text files.
// Each file in the directory represents one secret: the filename is the key name and the
// file contents (trimmed) are the value.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/cve-harvest/internal/logging"
)

// Key file names understood by the pipeline.
const (
	// NVDAPIKey raises the registry rate tier when present.
	NVDAPIKey = "nvd-api-key"

	// OpenAIAPIKey authenticates the OpenAI-compatible summarizer.
	OpenAIAPIKey = "openai-api-key"
)

// DefaultDir is where the CLI looks for key files.
const DefaultDir = ".secrets"

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files are logged and skipped.
func Load(dir string, log *zap.SugaredLogger) (map[string]string, error) {
	log = logging.OrNop(log)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.Warnw("could not read secret", "name", name, "error", err)
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Resolve returns configured when it is set, otherwise the named key file's
// value. Explicit configuration always wins over the secrets directory.
func Resolve(secrets map[string]string, name, configured string) string {
	if v := strings.TrimSpace(configured); v != "" {
		return v
	}
	return secrets[name]
}
