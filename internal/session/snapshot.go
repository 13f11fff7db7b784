// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/sous/internal/model"
	"github.com/jeranaias/sous/internal/util"
)

// MaxSnapshotSize bounds how much of a snapshot file is read.
const MaxSnapshotSize = 4 * 1024 * 1024

// ErrUnsupportedFormat is returned for an unknown snapshot extension.
var ErrUnsupportedFormat = errors.New("unsupported snapshot format")

// Format is a snapshot file encoding.
type Format string

// Supported formats.
const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Snapshot is one read-only view of a cooking session.
type Snapshot struct {
	Context   model.CookingContext     `json:"context" yaml:"context" toml:"context"`
	Knowledge model.RetrievedKnowledge `json:"knowledge" yaml:"knowledge" toml:"knowledge"`
	History   []model.Message          `json:"history" yaml:"history" toml:"history"`
}

// Validate checks the snapshot for values the router cannot use.
func (s *Snapshot) Validate() error {
	c := s.Context
	switch {
	case c.CurrentStep < 0:
		return fmt.Errorf("current_step must not be negative, got %d", c.CurrentStep)
	case c.TotalSteps < 0:
		return fmt.Errorf("total_steps must not be negative, got %d", c.TotalSteps)
	case c.TotalSteps > 0 && c.CurrentStep > c.TotalSteps:
		return fmt.Errorf("current_step %d exceeds total_steps %d", c.CurrentStep, c.TotalSteps)
	}
	if err := model.ValidateHistory(s.History); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	return nil
}

// RetrievedKnowledge returns the retrieved knowledge, or nil when there is none.
func (s *Snapshot) RetrievedKnowledge() *model.RetrievedKnowledge {
	if s == nil || s.Knowledge.IsEmpty() {
		return nil
	}
	k := s.Knowledge
	return &k
}

// Clone returns a deep copy so callers can hold it across reloads.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Context.Ingredients = append([]string(nil), s.Context.Ingredients...)
	out.Knowledge.Knowledge = append([]model.KnowledgeChunk(nil), s.Knowledge.Knowledge...)
	out.Knowledge.Memory = append([]model.KnowledgeChunk(nil), s.Knowledge.Memory...)
	out.History = append([]model.Message(nil), s.History...)
	return &out
}

// Decode parses a snapshot in the given format and validates it.
func Decode(data []byte, format Format) (*Snapshot, error) {
	var s Snapshot
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(string(data), &s); err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&s); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}
	return &s, nil
}

// Encode serializes a snapshot in the given format.
func Encode(s *Snapshot, format Format) ([]byte, error) {
	switch format {
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(s); err != nil {
			return nil, fmt.Errorf("encode toml: %w", err)
		}
		return buf.Bytes(), nil
	case FormatYAML:
		return yaml.Marshal(s)
	case FormatJSON:
		return json.MarshalIndent(s, "", "  ")
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Load reads and decodes the snapshot at path.
func Load(path string) (*Snapshot, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if info.Size() > MaxSnapshotSize {
		return nil, fmt.Errorf("load snapshot: %s is %d bytes, limit is %d", path, info.Size(), MaxSnapshotSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	s, err := Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", path, err)
	}
	return s, nil
}

// Save atomically writes the snapshot to path in the format its extension
// names.
func Save(path string, s *Snapshot) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}
	data, err := Encode(s, format)
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(path, data, 0644)
}
