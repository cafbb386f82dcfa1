package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/nvarr/internal/config"
	"github.com/jmylchreest/nvarr/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing nvarr configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the effective configuration values in YAML format.

This renders the configuration the recorder would run with: defaults,
overlaid by the config file, environment variables, and command-line
flags. Redirect the output to a file to create a configuration template:

  nvarr config show > config.yaml

Configuration can be set via:
  - Config file (config.yaml in ., ./configs, /etc/nvarr, $HOME/.nvarr)
  - Environment variables (NVARR_STORAGE_ROOT, NVARR_GATEWAY_BASE_URL, etc.)
  - Command-line flags (for some options)

Environment variables use the NVARR_ prefix and underscores for nesting.
Example: storage.root -> NVARR_STORAGE_ROOT`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the configuration and check it for errors.

Exits non-zero and prints the first problem found when the configuration
is invalid. Useful as a pre-start check in service units.`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

// toMap converts a struct to a map, formatting durations and sizes for
// human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		// Get mapstructure tag or use the field name
		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Tag.Get("yaml")
		}
		if key == "" {
			key = fieldType.Name
		}

		result[key] = toValue(field)
	}
	return result
}

func toValue(field reflect.Value) any {
	switch v := field.Interface().(type) {
	case time.Duration:
		return duration.Format(v)
	case config.Duration:
		return v.String()
	case config.ByteSize:
		return v.String()
	}

	switch field.Kind() {
	case reflect.Struct:
		return toMap(field.Interface())
	case reflect.Slice:
		items := make([]any, field.Len())
		for i := 0; i < field.Len(); i++ {
			items[i] = toValue(field.Index(i))
		}
		return items
	default:
		return field.Interface()
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Convert to map with human-readable values
	cfgMap := toMap(cfg)

	// Marshal to YAML
	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// Print header with documentation
	fmt.Println("# nvarr Configuration File")
	fmt.Println("# =========================")
	fmt.Println("#")
	fmt.Println("# Effective values: defaults overlaid by config file, env vars and flags.")
	fmt.Println("# Duration format: 30s, 5m, 1h, 30d")
	fmt.Println("# Size format: 256KB, 64MB")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   NVARR_STORAGE_ROOT")
	fmt.Println("#   NVARR_GATEWAY_BASE_URL")
	fmt.Println("#   NVARR_DATABASE_DRIVER, NVARR_DATABASE_DSN")
	fmt.Println("#   NVARR_LOGGING_LEVEL, NVARR_LOGGING_FORMAT")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Println("Configuration OK")
	fmt.Printf("  cameras:      %d\n", len(cfg.Cameras))
	fmt.Printf("  storage root: %s\n", cfg.Storage.Root)
	fmt.Printf("  database:     %s\n", cfg.Database.Driver)
	fmt.Printf("  gateway:      %s\n", cfg.Gateway.BaseURL)
	if cfg.Scanner.Enabled {
		fmt.Printf("  scanner root: %s\n", cfg.Scanner.Root)
	}
	return nil
}
