// Package store saves and loads conversations as JSON or YAML files.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads the records stored at path. A missing file yields no records.
func Load[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	var records []T
	if isYAML(path) {
		err = yaml.Unmarshal(data, &records)
	} else {
		err = json.Unmarshal(data, &records)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}
	return records, nil
}

// Save writes records to path, replacing the file atomically.
func Save[T any](path string, records []T) error {
	if records == nil {
		records = []T{}
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(records)
	} else {
		data, err = json.MarshalIndent(records, "", "  ")
	}
	if err != nil {
		return errors.Wrap(err, "failed to encode records")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temp file")
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "failed to replace %s", path)
}
