// Package fwdispatch holds the file configuration consumed by the packing
// tool: a TOML description of a volume and the files inside it.
package fwdispatch

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
)

type VolumeConfig struct {
	Files []FileConfig `toml:"file"`
}

type FileConfig struct {
	// Name is the file GUID; empty means a random one is assigned at pack
	// time.
	Name string `toml:"name"`
	Kind string `toml:"kind"`

	// Alignment is the section alignment in bytes, a power of two.
	Alignment uint32 `toml:"alignment"`

	// Depex holds mnemonic lines assembled into a dependency program, e.g.
	// ["PUSH 39e30a6b-5b7e-4d0a-8b6f-1f0d3a1c2b01", "NOT"].
	Depex []string `toml:"depex"`

	// Image is a path to the executable payload (a WASM binary for the
	// wazero runtime).
	Image string `toml:"image"`

	// VolumeImage is a path to a nested volume file, for
	// FirmwareVolumeImage kinds.
	VolumeImage string `toml:"volume_image"`
}

func LoadVolumeConfig(path string) (*VolumeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	var cfg VolumeConfig
	if err := tree.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}
