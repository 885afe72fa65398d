// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/cve-harvest/pkg/types"
)

const (
	configName = "cve-harvest"
	envPrefix  = "CVE_HARVEST"
)

// flagKeys maps command-line flags to configuration keys. A flag only
// overrides the configuration when it is set explicitly.
var flagKeys = map[string]string{
	"data-dir":     "harvest.data_dir",
	"ledger":       "harvest.ledger_path",
	"days":         "registry.window_days",
	"min-score":    "registry.min_score",
	"headless":     "collector.headless",
	"max-captures": "collector.max_captures",
	"max-results":  "collector.max_search_results",
	"proxy":        "collector.proxy",
	"model":        "summary.model",
}

// optionalKeys are omitted from the marshaled defaults when empty but must
// still be known to viper so environment variables reach them.
var optionalKeys = []string{
	"registry.api_key",
	"collector.exec_path",
	"collector.proxy",
	"validator.tesseract_path",
	"validator.container_image",
	"summary.api_key",
	"harvest.ledger_path",
}

// newViper returns a viper instance seeded with DefaultPipelineConfig and
// reading CVE_HARVEST_SECTION_KEY environment variables.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var defaults map[string]any
	data, err := yaml.Marshal(types.DefaultPipelineConfig())
	if err == nil {
		err = yaml.Unmarshal(data, &defaults)
	}
	if err != nil {
		panic(fmt.Sprintf("encoding default config: %v", err))
	}
	setDefaults(v, "", defaults)
	for _, k := range optionalKeys {
		if !v.IsSet(k) {
			v.SetDefault(k, "")
		}
	}
	return v
}

func setDefaults(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// bindFlags binds the flags of cmd listed in flagKeys.
func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			_ = v.BindPFlag(key, f)
		}
	})
}

// readConfigFile loads cfgFile, or searches the working directory and
// ~/.config/cve-harvest for cve-harvest.yaml. A missing file is not an
// error when no explicit path was given. It returns the file used.
func readConfigFile(v *viper.Viper, cfgFile string) (string, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", configName))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("%w: reading config: %w", types.ErrConfiguration, err)
	}
	return v.ConfigFileUsed(), nil
}

// loadConfig decodes v into a PipelineConfig and validates it. Defaults
// come from the viper defaults registered by newViper; decoding into a zero
// value keeps shorter lists from inheriting default elements.
func loadConfig(v *viper.Viper) (types.PipelineConfig, error) {
	var c types.PipelineConfig
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("%w: decoding config: %w", types.ErrConfiguration, err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}
