package policy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// documentSchema structurally validates policy documents before compilation.
// Compilation still performs the semantic checks (enum values, ranges, CEL).
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["mode", "predicates", "sources"],
  "properties": {
    "version": {"type": "string"},
    "mode": {"enum": ["auto", "review", "dry-run", "shadow"]},
    "predicates": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["cardinality"],
        "properties": {
          "cardinality": {"enum": ["functional", "set"]},
          "threshold": {
            "type": "object",
            "additionalProperties": {"type": "number", "minimum": 0, "maximum": 1}
          },
          "overwrite": {"enum": ["supersede", "coexist", "forbid"]},
          "guard": {"type": "string"}
        }
      }
    },
    "sources": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["tier"],
        "properties": {
          "tier": {"enum": ["A", "B", "C"]},
          "bonus": {"type": "number"},
          "rate_per_min": {"type": "integer", "minimum": 0},
          "allow_domains": {"type": "array", "items": {"type": "string"}},
          "ttl_days": {"type": "integer", "minimum": 0}
        }
      }
    },
    "shadow": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "label": {"type": "string"},
        "promote_after_min": {"type": "integer", "minimum": 0}
      }
    },
    "limits": {
      "type": "object",
      "properties": {
        "per_session_edges": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("policy.schema.json", documentSchema)

// Parse validates and decodes a YAML policy document.
func Parse(data []byte) (*Document, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("policy: parse yaml: %w", err)
	}

	// Round-trip through JSON so the schema validator sees json-typed values.
	jsonBytes, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("policy: normalize document: %w", err)
	}
	var jsonValue any
	if err := json.Unmarshal(jsonBytes, &jsonValue); err != nil {
		return nil, fmt.Errorf("policy: normalize document: %w", err)
	}
	if err := compiledSchema.Validate(jsonValue); err != nil {
		return nil, fmt.Errorf("policy: schema validation: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("policy: decode document: %w", err)
	}
	return &doc, nil
}

// Loader loads policy documents from a file into a Table. Reload swaps the
// active snapshot atomically; a document that fails to parse or compile
// leaves the previous snapshot in place.
type Loader struct {
	path   string
	table  *Table
	logger *slog.Logger
}

// NewLoader creates a loader for the given policy file.
func NewLoader(path string, table *Table) *Loader {
	return &Loader{
		path:   path,
		table:  table,
		logger: slog.Default().With("component", "policy"),
	}
}

// Load reads, validates, compiles, and atomically publishes the policy file.
func (l *Loader) Load() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("policy: read %s: %w", l.path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return err
	}
	snap, err := Compile(doc)
	if err != nil {
		return err
	}
	l.table.Swap(snap)
	l.logger.Info("policy loaded",
		"path", l.path,
		"version", snap.Version,
		"hash", snap.Hash,
		"mode", snap.Mode,
	)
	return nil
}
