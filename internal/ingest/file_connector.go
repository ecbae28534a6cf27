package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"roster/internal/identity"
)

// FileConnector reads identity records from a YAML or JSON export. The cursor
// is the content hash, so an unchanged file yields an empty batch.
//
// The document is either a list of records or a mapping with an
// "identities" list. Each record's fields are also kept as its raw payload.
type FileConnector struct {
	source string
	path   string
}

// NewFileConnector returns a connector for path. Records without a source
// inherit source.
func NewFileConnector(source, path string) *FileConnector {
	return &FileConnector{source: strings.TrimSpace(source), path: path}
}

// Source implements Connector.
func (c *FileConnector) Source() string {
	return c.source
}

// Fetch implements Connector.
func (c *FileConnector) Fetch(ctx context.Context, cursor string) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return Batch{}, fmt.Errorf("read %s: %w", c.path, err)
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if digest == cursor {
		return Batch{NextCursor: cursor}, nil
	}
	records, err := ParseRecords(data)
	if err != nil {
		return Batch{}, fmt.Errorf("parse %s: %w", c.path, err)
	}
	return Batch{Records: records, NextCursor: digest}, nil
}

type recordDocument struct {
	Identities []yaml.Node `yaml:"identities"`
}

// ParseRecords decodes a YAML or JSON identity export.
func ParseRecords(data []byte) ([]identity.IdentityUpsert, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	doc := root.Content[0]

	var nodes []yaml.Node
	switch doc.Kind {
	case yaml.SequenceNode:
		if err := doc.Decode(&nodes); err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		var wrapped recordDocument
		if err := doc.Decode(&wrapped); err != nil {
			return nil, err
		}
		nodes = wrapped.Identities
	default:
		return nil, identity.Validationf("expected a list of identities at line %d", doc.Line)
	}

	records := make([]identity.IdentityUpsert, 0, len(nodes))
	for i := range nodes {
		node := &nodes[i]
		var rec identity.IdentityUpsert
		if err := node.Decode(&rec); err != nil {
			return nil, fmt.Errorf("record at line %d: %w", node.Line, err)
		}
		var fields map[string]any
		if err := node.Decode(&fields); err != nil {
			return nil, fmt.Errorf("record at line %d: %w", node.Line, err)
		}
		raw, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("record at line %d: %w", node.Line, err)
		}
		rec.RawPayload = raw
		records = append(records, rec)
	}
	return records, nil
}
