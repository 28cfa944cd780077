package drive

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Type is the on-wire encoding of a register value.
type Type string

const (
	Int16   Type = "int16"
	Uint16  Type = "uint16"
	Int32   Type = "int32"
	Uint32  Type = "uint32"
	Float32 Type = "float32"
)

// Words returns the number of 16-bit Modbus registers the type occupies.
func (t Type) Words() uint16 {
	switch t {
	case Int32, Uint32, Float32:
		return 2
	}
	return 1
}

type Register struct {
	Name    string `yaml:"name"`
	Label   string `yaml:"label"`
	Address uint16 `yaml:"address"`
	Type    Type   `yaml:"type"`
}

// Dictionary maps register names to their location and encoding on the drive.
type Dictionary struct {
	Registers []Register `yaml:"registers"`

	byName map[string]Register
}

//go:embed summit.yaml
var summitDictionary []byte

// DefaultDictionary returns the built-in Summit register map.
func DefaultDictionary() *Dictionary {
	d, err := ParseDictionary(summitDictionary)
	if err != nil {
		panic(fmt.Sprintf("embedded dictionary: %v", err))
	}
	return d
}

// LoadDictionary reads a YAML register map from path.
func LoadDictionary(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dictionary: %w", err)
	}
	return ParseDictionary(data)
}

func ParseDictionary(data []byte) (*Dictionary, error) {
	var d Dictionary
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse dictionary: %w", err)
	}
	d.byName = make(map[string]Register, len(d.Registers))
	for i, r := range d.Registers {
		if r.Name == "" {
			return nil, fmt.Errorf("register %d: missing name", i)
		}
		if r.Type == "" {
			r.Type = Int32
			d.Registers[i] = r
		}
		switch r.Type {
		case Int16, Uint16, Int32, Uint32, Float32:
		default:
			return nil, fmt.Errorf("register %s: unsupported type %q", r.Name, r.Type)
		}
		if _, dup := d.byName[r.Name]; dup {
			return nil, fmt.Errorf("register %s: defined twice", r.Name)
		}
		d.byName[r.Name] = r
	}
	return &d, nil
}

// Lookup returns the register definition for name.
func (d *Dictionary) Lookup(name string) (Register, error) {
	r, ok := d.byName[name]
	if !ok {
		return Register{}, fmt.Errorf("%q: %w", name, ErrUnknownRegister)
	}
	return r, nil
}

// Label returns the display label of name, or name itself if it has none.
func (d *Dictionary) Label(name string) string {
	if r, ok := d.byName[name]; ok && r.Label != "" {
		return r.Label
	}
	return name
}
