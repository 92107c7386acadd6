package config_test

import (
	"fmt"
	"log"

	"github.com/ajitpratap0/voxelflow/pkg/config"
)

// ExampleDefault shows the settings used when no file, environment variable
// or flag says otherwise.
func ExampleDefault() {
	cfg := config.Default()

	fmt.Printf("Log level: %s\n", cfg.Logging.Level)
	fmt.Printf("Memory fraction: %.1f\n", cfg.Execution.MemoryFraction)
	fmt.Printf("Snapshot compression: %s\n", cfg.Snapshot.Compression)

	// Output:
	// Log level: info
	// Memory fraction: 0.8
	// Snapshot compression: zstd
}

// ExampleConfig_Validate shows how to validate a configuration built in code.
func ExampleConfig_Validate() {
	cfg := config.Default()
	cfg.Metrics.Enabled = true
	cfg.Execution.MaxAllocationBytes = 4 << 30

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	fmt.Println("Configuration is valid!")

	// Output:
	// Configuration is valid!
}
