// Package detector defines the detection backend contract and its
// implementations. The model itself is a black box: a backend turns an image
// into labeled rectangles.
package detector

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/threat-cam/streaming-server/pkg/types"
)

// Backend detects objects in a frame.
type Backend interface {
	Detect(ctx context.Context, img image.Image) ([]types.Detection, error)
}

// BackendFunc adapts a function to Backend
type BackendFunc func(ctx context.Context, img image.Image) ([]types.Detection, error)

func (f BackendFunc) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	return f(ctx, img)
}

// LabelTable maps class ids to label names.
type LabelTable []string

// Name returns the label for classID, or the id itself when out of range.
func (t LabelTable) Name(classID int) string {
	if classID >= 0 && classID < len(t) {
		return t[classID]
	}
	return strconv.Itoa(classID)
}

// LoadLabels reads a label table. YAML files (.yaml/.yml) use the YOLO
// dataset layout with a `names` field, either a list or an id->name map.
// Any other file is read as one label per line.
func LoadLabels(path string) (LabelTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAMLLabels(data)
	default:
		return parseLineLabels(data), nil
	}
}

func parseLineLabels(data []byte) LabelTable {
	var table LabelTable
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		table = append(table, line)
	}
	return table
}

func parseYAMLLabels(data []byte) (LabelTable, error) {
	var doc struct {
		Names yaml.Node `yaml:"names"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse labels: %w", err)
	}

	switch doc.Names.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := doc.Names.Decode(&names); err != nil {
			return nil, fmt.Errorf("parse labels: %w", err)
		}
		return LabelTable(names), nil
	case yaml.MappingNode:
		var byID map[int]string
		if err := doc.Names.Decode(&byID); err != nil {
			return nil, fmt.Errorf("parse labels: %w", err)
		}
		maxID := -1
		for id := range byID {
			if id < 0 {
				return nil, fmt.Errorf("parse labels: negative class id %d", id)
			}
			maxID = max(maxID, id)
		}
		table := make(LabelTable, maxID+1)
		for i := range table {
			table[i] = strconv.Itoa(i)
		}
		for id, name := range byID {
			table[id] = name
		}
		return table, nil
	default:
		return nil, fmt.Errorf("parse labels: missing names")
	}
}
