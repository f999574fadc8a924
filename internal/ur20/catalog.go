package ur20

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed catalog/schema.json
var catalogSchemaJSON string

//go:embed catalog/modules.json
var builtinCatalogJSON []byte

// ModuleSpec describes the process image footprint of one module type.
type ModuleSpec struct {
	Type               ModuleType
	Description        string
	DigitalInputs      int
	DigitalOutputs     int
	AnalogInputs       int
	AnalogOutputs      int
	ParameterRegisters int
}

// InputChannels returns the number of input channels, digital first.
func (s ModuleSpec) InputChannels() int { return s.DigitalInputs + s.AnalogInputs }

// OutputChannels returns the number of output channels, digital first.
func (s ModuleSpec) OutputChannels() int { return s.DigitalOutputs + s.AnalogOutputs }

// InputBits is the module's share of the packed input image.
func (s ModuleSpec) InputBits() int { return s.DigitalInputs + 16*s.AnalogInputs }

// OutputBits is the module's share of the packed output image.
func (s ModuleSpec) OutputBits() int { return s.DigitalOutputs + 16*s.AnalogOutputs }

func (s ModuleSpec) inputKind(ch int) ValueKind {
	if ch < s.DigitalInputs {
		return KindBit
	}
	return KindWord
}

func (s ModuleSpec) outputKind(ch int) ValueKind {
	if ch < s.DigitalOutputs {
		return KindBit
	}
	return KindWord
}

type catalogFile struct {
	Version int `json:"version"`
	Modules []struct {
		ID                 string `json:"id"`
		Name               string `json:"name"`
		Description        string `json:"description"`
		DigitalInputs      int    `json:"digital_inputs"`
		DigitalOutputs     int    `json:"digital_outputs"`
		AnalogInputs       int    `json:"analog_inputs"`
		AnalogOutputs      int    `json:"analog_outputs"`
		ParameterRegisters int    `json:"parameter_registers"`
	} `json:"modules"`
}

// Catalog maps module ids to their specs.
type Catalog struct {
	schema  *jsonschema.Schema
	modules map[uint32]ModuleSpec
}

// NewCatalog returns the built-in catalog.
func NewCatalog() (*Catalog, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("ur20-catalog-v1.json", strings.NewReader(catalogSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile("ur20-catalog-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	c := &Catalog{
		schema:  schema,
		modules: make(map[uint32]ModuleSpec),
	}
	if err := c.Add(builtinCatalogJSON); err != nil {
		return nil, fmt.Errorf("built-in catalog: %w", err)
	}
	return c, nil
}

// LoadCatalog returns the built-in catalog extended with every *.json file found
// in searchPaths. Later entries override earlier ones with the same id.
func LoadCatalog(searchPaths []string) (*Catalog, error) {
	c, err := NewCatalog()
	if err != nil {
		return nil, err
	}
	for _, dir := range searchPaths {
		files, err := filepath.Glob(filepath.Join(dir, "*.json"))
		if err != nil {
			return nil, fmt.Errorf("invalid catalog path %s: %w", dir, err)
		}
		sort.Strings(files)
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read catalog %s: %w", f, err)
			}
			if err := c.Add(data); err != nil {
				return nil, fmt.Errorf("catalog %s: %w", f, err)
			}
		}
	}
	return c, nil
}

// Add validates a catalog document and merges its entries.
func (c *Catalog) Add(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to unmarshal catalog: %w", err)
	}
	for _, m := range file.Modules {
		id, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(m.ID), "0x"), 16, 32)
		if err != nil {
			return fmt.Errorf("invalid module id %q: %w", m.ID, err)
		}
		c.modules[uint32(id)] = ModuleSpec{
			Type:               ModuleType{ID: uint32(id), Name: m.Name},
			Description:        m.Description,
			DigitalInputs:      m.DigitalInputs,
			DigitalOutputs:     m.DigitalOutputs,
			AnalogInputs:       m.AnalogInputs,
			AnalogOutputs:      m.AnalogOutputs,
			ParameterRegisters: m.ParameterRegisters,
		}
	}
	return nil
}

// Lookup returns the catalog entry for a module id.
func (c *Catalog) Lookup(id uint32) (ModuleSpec, bool) {
	spec, ok := c.modules[id]
	return spec, ok
}

// ByName finds a module by its catalog name.
func (c *Catalog) ByName(name string) (ModuleSpec, bool) {
	for _, spec := range c.modules {
		if spec.Type.Name == name {
			return spec, true
		}
	}
	return ModuleSpec{}, false
}

// Modules lists all known specs ordered by id.
func (c *Catalog) Modules() []ModuleSpec {
	out := make([]ModuleSpec, 0, len(c.modules))
	for _, spec := range c.modules {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type.ID < out[j].Type.ID })
	return out
}
