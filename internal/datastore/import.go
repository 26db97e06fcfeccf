package datastore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"gopkg.in/yaml.v3"

	errx "github.com/Sensemaking-core/server/internal/core/error"
)

// DefaultTimeField is the document field holding the unix timestamp.
const DefaultTimeField = "timestamp"

// Batch is one block of an import file: raw documents of one collection for one user.
type Batch struct {
	Collection string           `yaml:"collection"`
	UID        string           `yaml:"uid"`
	TimeField  string           `yaml:"time_field,omitempty"`
	Records    []map[string]any `yaml:"records"`
}

// ReadBatches decodes every YAML document in r. A document may be a single batch or a list of batches.
func ReadBatches(r io.Reader) ([]Batch, error) {
	dec := yaml.NewDecoder(r)
	var out []Batch
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode import file: %w", err)
		}
		if len(node.Content) == 0 {
			continue
		}
		if node.Content[0].Kind == yaml.SequenceNode {
			var list []Batch
			if err := node.Decode(&list); err != nil {
				return nil, fmt.Errorf("decode batch list: %w", err)
			}
			out = append(out, list...)
			continue
		}
		var b Batch
		if err := node.Decode(&b); err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
		out = append(out, b)
	}
}

// Import writes every batch and returns the number of documents stored.
func Import(ctx context.Context, s Store, batches []Batch) (int, error) {
	total := 0
	for i, b := range batches {
		field := b.TimeField
		if field == "" {
			field = DefaultTimeField
		}
		docs := make([]Doc, 0, len(b.Records))
		for j, rec := range b.Records {
			at, err := timeOf(rec[field])
			if err != nil {
				return total, fmt.Errorf("batch %d record %d: %w", i, j, err)
			}
			docs = append(docs, Doc{At: at, Value: rec})
		}
		if err := s.Put(ctx, b.Collection, b.UID, docs...); err != nil {
			return total, fmt.Errorf("batch %d (%s/%s): %w", i, b.Collection, b.UID, err)
		}
		total += len(docs)
	}
	return total, nil
}

func timeOf(v any) (time.Time, error) {
	switch t := v.(type) {
	case int:
		return time.Unix(int64(t), 0), nil
	case int64:
		return time.Unix(t, 0), nil
	case float64:
		sec, frac := math.Modf(t)
		return time.Unix(int64(sec), int64(frac*float64(time.Second))), nil
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp %q", errx.ErrInvalidArgument, t)
		}
		return parsed, nil
	case time.Time:
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("%w: missing or unsupported timestamp %v", errx.ErrInvalidArgument, v)
	}
}
