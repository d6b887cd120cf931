package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"horse.fit/harvest/internal/document"
)

//go:embed document_batch.schema.json
var documentBatchSchemaJSON string

const schemaName = "document_batch.schema.json"

// Batch is a validated dedup request body.
type Batch struct {
	Documents []document.Document
	Threshold float64
	Mode      string
}

type batchPayload struct {
	Documents []documentPayload `json:"documents"`
	Threshold *float64          `json:"threshold,omitempty"`
	Mode      string            `json:"mode,omitempty"`
}

// documentPayload accepts the field names upstream collaborators send: "link" for url and
// "content" for body_text.
type documentPayload struct {
	URL         string         `json:"url"`
	Link        string         `json:"link"`
	Title       string         `json:"title"`
	BodyText    string         `json:"body_text"`
	Content     string         `json:"content"`
	PublishedAt *string        `json:"published_at,omitempty"`
	Source      string         `json:"source"`
	Language    string         `json:"language"`
	RawMetadata map[string]any `json:"raw_metadata"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// DecodeDocumentBatch validates raw against the embedded schema and converts it.
func DecodeDocumentBatch(raw []byte) (Batch, error) {
	value, err := decodeStrictJSON(raw)
	if err != nil {
		return Batch{}, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return Batch{}, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return Batch{}, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return Batch{}, fmt.Errorf("normalize payload JSON: %w", err)
	}
	var payload batchPayload
	if err := json.Unmarshal(normalized, &payload); err != nil {
		return Batch{}, fmt.Errorf("unmarshal payload: %w", err)
	}

	batch := Batch{Mode: payload.Mode, Documents: make([]document.Document, 0, len(payload.Documents))}
	if payload.Threshold != nil {
		batch.Threshold = *payload.Threshold
	}
	for i, item := range payload.Documents {
		doc, err := item.toDocument()
		if err != nil {
			return Batch{}, fmt.Errorf("documents[%d]: %w", i, err)
		}
		batch.Documents = append(batch.Documents, doc)
	}
	return batch, nil
}

func (p documentPayload) toDocument() (document.Document, error) {
	doc := document.Document{
		URL:         firstNonEmpty(p.URL, p.Link),
		Title:       strings.TrimSpace(p.Title),
		BodyText:    firstNonEmpty(p.BodyText, p.Content),
		Language:    strings.TrimSpace(p.Language),
		RawMetadata: p.RawMetadata,
		Source:      document.SourceScrape,
	}
	if doc.URL == "" && doc.Title == "" {
		return document.Document{}, fmt.Errorf("url or title must not be empty")
	}
	if strings.TrimSpace(p.Source) != "" {
		source, err := document.ParseSource(p.Source)
		if err != nil {
			return document.Document{}, err
		}
		doc.Source = source
	}
	if p.PublishedAt != nil {
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(*p.PublishedAt))
		if err != nil {
			return document.Document{}, fmt.Errorf("published_at must be RFC3339: %w", err)
		}
		ts = ts.UTC()
		doc.PublishedAt = &ts
	}
	return doc, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource(schemaName, strings.NewReader(documentBatchSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile(schemaName)
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}
	return value, nil
}
