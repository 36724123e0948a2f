package cubeio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"fpreduce/pkg/pipeline"
)

// MetadataFile is the name of the run summary written next to the artifacts
const MetadataFile = "metadata.yaml"

// RunSummary is the YAML document describing a finished run
type RunSummary struct {
	RunID       string             `yaml:"run_id"`
	Artifacts   []string           `yaml:"artifacts"`
	Metadata    map[string]float64 `yaml:"metadata"`
	Diagnostics []string           `yaml:"diagnostics,omitempty"`
}

// WriteResult writes every artifact of res to dir as NN_name.fits plus a
// metadata.yaml summary. It returns the written paths in publication order.
func WriteResult(dir string, res *pipeline.Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	cards := headerCards(res)
	var written []string
	summary := RunSummary{RunID: res.RunID, Metadata: res.Metadata}

	for _, a := range res.Artifacts() {
		path := filepath.Join(dir, a.FileName(".fits"))
		artifactCards := append([]Card{{Name: "OBJECT", Value: a.Name, Comment: "reduction artifact"}}, cards...)

		var err error
		if a.Cube != nil {
			err = WriteCube(path, a.Cube, artifactCards...)
		} else {
			err = WriteMap(path, a.Map, artifactCards...)
		}
		if err != nil {
			return written, fmt.Errorf("artifact %s: %w", a.Name, err)
		}
		written = append(written, path)
		summary.Artifacts = append(summary.Artifacts, filepath.Base(path))
	}

	for _, d := range res.Diagnostics {
		summary.Diagnostics = append(summary.Diagnostics, d.Error())
	}
	path := filepath.Join(dir, MetadataFile)
	if err := WriteYAML(path, summary); err != nil {
		return written, err
	}
	return append(written, path), nil
}

// WriteYAML marshals v to path
func WriteYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("error marshaling %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return nil
}

// ReadSummary loads a metadata.yaml written by WriteResult
func ReadSummary(path string) (*RunSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading summary: %w", err)
	}
	var s RunSummary
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("error parsing summary: %w", err)
	}
	return &s, nil
}

// headerCards carries the run identity and the ring center into every FITS
// header. Longer metadata keys only go to metadata.yaml.
func headerCards(res *pipeline.Result) []Card {
	cards := []Card{{Name: "RUNID", Value: res.RunID}}
	if res.Center != nil {
		cards = append(cards,
			Card{Name: "CENTCOL", Value: res.Center.Center.Col, Comment: "ring center column"},
			Card{Name: "CENTROW", Value: res.Center.Center.Row, Comment: "ring center row"},
		)
	}

	keys := make([]string, 0, len(res.Metadata))
	for k := range res.Metadata {
		if len(k) <= 8 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		cards = append(cards, Card{Name: strings.ToUpper(k), Value: res.Metadata[k]})
	}
	return cards
}
