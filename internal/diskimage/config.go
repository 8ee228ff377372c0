// Package diskimage builds and reads the boot media: a flat image of
// 2048-byte sectors with the boot sector at LBA 0, the stage payloads at
// their fixed LBAs and the kernel ELF at LBA 16. The boot stages compile
// the layout in; this package is the producing side of that contract.
package diskimage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config describes one boot image. Loaded from YAML by the mkimage
// command.
type Config struct {
	// Kernel is the path of the kernel ELF64 executable.
	Kernel string `yaml:"kernel"`

	// Cmdline is stored in the image and handed to the kernel in BootInfo.
	Cmdline string `yaml:"cmdline"`

	// Output is the image path to write.
	Output string `yaml:"output"`

	// Drive is the firmware drive number the image is expected to boot
	// from. Defaults to the first CD-ROM drive.
	Drive uint8 `yaml:"drive"`
}

// LoadConfig reads and validates a YAML image description.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Kernel == "" {
		return nil, fmt.Errorf("config %s: kernel path is required", path)
	}
	if cfg.Output == "" {
		cfg.Output = "boot.img"
	}
	if cfg.Drive == 0 {
		cfg.Drive = DefaultDrive
	}
	return &cfg, nil
}
