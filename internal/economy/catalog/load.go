package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// entriesSchema guards catalog files against malformed hand edits
// before they reach the decoder.
const entriesSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["id", "name", "category"],
    "properties": {
      "id": {"type": "string", "minLength": 1},
      "name": {"type": "string", "minLength": 1},
      "category": {"enum": ["ITEM", "BUILDING", "TOOL", "LANGUAGE"]},
      "money_cost": {"type": ["number", "string"]},
      "material_cost": {
        "type": "object",
        "additionalProperties": {"type": "integer", "minimum": 1}
      },
      "required_tools": {"type": "array", "items": {"type": "string"}},
      "required_buildings": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["type_key"],
          "properties": {
            "type_key": {"type": "string", "minLength": 1},
            "tier": {"type": "integer", "minimum": 0}
          }
        }
      },
      "min_quantity": {"type": "integer", "minimum": 1},
      "max_quantity": {"type": "integer", "minimum": 1},
      "discount_proficiency": {"type": "string"},
      "delay_seconds": {"type": "integer", "minimum": 0},
      "building_type_key": {"type": "string"},
      "building_tier": {"type": "integer", "minimum": 0}
    }
  }
}`

var categoryFiles = map[string]Category{
	"items.json":     CategoryItem,
	"buildings.json": CategoryBuilding,
	"tools.json":     CategoryTool,
	"languages.json": CategoryLanguage,
}

// Load reads the per-category catalog files under configDir. Missing
// files are allowed (a guild may publish no languages, say); malformed
// ones are not.
func Load(configDir string) (*Static, error) {
	schema, err := jsonschema.CompileString("entries.schema.json", entriesSchema)
	if err != nil {
		return nil, fmt.Errorf("compile catalog schema: %w", err)
	}

	var all []Entry
	digests := map[string]string{}
	for file, cat := range categoryFiles {
		path := filepath.Join(configDir, file)
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				digests[file] = sha256Hex(nil)
				continue
			}
			return nil, err
		}
		digests[file] = sha256Hex(raw)

		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		if err := schema.Validate(doc); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}

		var entries []Entry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		seen := map[string]bool{}
		for _, e := range entries {
			if e.Category != cat {
				return nil, fmt.Errorf("%s: entry %s has category %s", file, e.ID, e.Category)
			}
			if seen[e.ID] {
				return nil, fmt.Errorf("%s: duplicate id %s", file, e.ID)
			}
			seen[e.ID] = true
		}
		all = append(all, entries...)
	}

	s := NewStatic(all)
	s.Digests = digests
	return s, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
