package blocklist

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Document is one blocklist file.
type Document struct {
	Title       string  `toml:"title"`
	Description string  `toml:"description"`
	Maintainer  string  `toml:"maintainer"`
	Blocks      []Block `toml:"block"`
}

type Block struct {
	FriendlyName string       `toml:"friendly_name"`
	WorldID      string       `toml:"world_id"`
	GameObjects  []ObjectRule `toml:"game_objects"`
}

//go:embed blocklist.schema.json
var schemaJSON string

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("blocklist.schema.json", schemaJSON)
})

// Parse decodes a TOML blocklist after validating its shape.
func Parse(data []byte) (Document, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("parse toml: %w", err)
	}
	if err := validate(raw); err != nil {
		return Document{}, err
	}
	var doc Document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode blocklist: %w", err)
	}
	return doc, nil
}

func validate(raw map[string]any) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile blocklist schema: %w", err)
	}
	// TOML decodes to typed slices and int64; round trip through JSON to get
	// the generic shapes the validator expects.
	js, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(js))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("invalid blocklist: %w", err)
	}
	return nil
}
