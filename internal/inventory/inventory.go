// Package inventory parses the input table of (host, path) work items. The
// table order is the report order, so parsing never reorders rows.
package inventory

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/3cpo-dev/fleetrm/pkg/api"
)

// Manifest is the YAML inventory form: hosts with their path lists.
type Manifest struct {
	Targets []struct {
		Host  string   `yaml:"host"`
		Paths []string `yaml:"paths"`
	} `yaml:"targets"`
}

// Load parses an inventory file, dispatching on its extension
// (.csv, .yaml, .yml).
func Load(path string) ([]api.WorkItem, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return LoadCSV(path)
	case ".yaml", ".yml":
		return LoadYAML(path)
	default:
		return nil, fmt.Errorf("unsupported inventory format: %s", path)
	}
}

// LoadCSV reads a CSV with a header row carrying host and path columns
// (case-insensitive; extra columns are ignored). Rows with a blank host or
// blank path are dropped.
func LoadCSV(path string) ([]api.WorkItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open inventory: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read inventory header: %w", err)
	}
	hostCol, pathCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "host":
			hostCol = i
		case "path":
			pathCol = i
		}
	}
	if hostCol < 0 || pathCol < 0 {
		return nil, fmt.Errorf("inventory %s: header must carry host and path columns", path)
	}

	var items []api.WorkItem
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read inventory row: %w", err)
		}
		if hostCol >= len(record) || pathCol >= len(record) {
			continue
		}
		host := strings.TrimSpace(record[hostCol])
		p := strings.TrimSpace(record[pathCol])
		if host == "" || p == "" {
			continue
		}
		items = append(items, api.WorkItem{Host: host, Path: p})
	}
	return items, nil
}

// LoadYAML reads a manifest of the form
//
//	targets:
//	  - host: node-1
//	    paths: [/var/tmp/a, /var/tmp/b]
//
// flattened in document order.
func LoadYAML(path string) ([]api.WorkItem, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open inventory: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(content, &m); err != nil {
		return nil, fmt.Errorf("parse inventory: %w", err)
	}

	var items []api.WorkItem
	for _, t := range m.Targets {
		host := strings.TrimSpace(t.Host)
		if host == "" {
			continue
		}
		for _, p := range t.Paths {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			items = append(items, api.WorkItem{Host: host, Path: p})
		}
	}
	return items, nil
}
