package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/miradorstack/mirador-adapt/internal/detector"
	"github.com/miradorstack/mirador-adapt/internal/engine"
)

// loadModelFile installs the model at path. A missing file is not an error:
// loaded is false and the caller trains instead.
func loadModelFile(p *engine.Pipeline, path string) (meta detector.Metadata, loaded bool, err error) {
	if path == "" {
		return detector.Metadata{}, false, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return detector.Metadata{}, false, nil
	}
	if err != nil {
		return detector.Metadata{}, false, fmt.Errorf("open model %s: %w", path, err)
	}
	defer f.Close()

	meta, err = p.LoadModel(f)
	if err != nil {
		return detector.Metadata{}, false, fmt.Errorf("load model %s: %w", path, err)
	}
	return meta, true, nil
}

// saveModelFile replaces path atomically so a crash never leaves a torn model.
func saveModelFile(p *engine.Pipeline, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := p.SaveModel(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
