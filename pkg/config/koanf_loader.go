// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/mapstructure"
)

// Load reads a RuntimeConfig from path, a YAML file. Built-in defaults
// are loaded first via a confmap.Provider, then the file is merged on
// top so the file only needs to override what it cares about. There is
// no remote-backend support (Consul/etcd/ZooKeeper); a single process
// reading a single local file is the only deployment shape this runtime
// has.
func Load(path string) (*RuntimeConfig, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultsMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: load built-in defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	cfg := &RuntimeConfig{}
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "yaml",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
			Metadata:         nil,
			TagName:          "yaml",
		},
	}
	if err := k.UnmarshalWithConf("", cfg, unmarshalConf); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultsMap mirrors RuntimeConfig.SetDefaults as a koanf-loadable map,
// so the file provider layers on top of the same values SetDefaults
// would otherwise backfill. Keeping both isn't redundant: this map is
// what a caller sees if they dump the merged koanf tree for debugging;
// SetDefaults is what protects a RuntimeConfig built directly in Go
// without going through Load at all.
func defaultsMap() map[string]interface{} {
	return map[string]interface{}{
		"retry": map[string]interface{}{
			"retries":   DefaultRetries,
			"delay":     DefaultDelay.String(),
			"strategy":  DefaultStrategy,
			"max_delay": DefaultMaxDelay.String(),
		},
		"history": map[string]interface{}{
			"per_field_chars":           DefaultPerFieldChars,
			"total_chars":               DefaultTotalChars,
			"max_tool_results_per_step": DefaultMaxToolResultsPerStep,
		},
		"mcp": map[string]interface{}{
			"call_timeout": DefaultCallTimeout.String(),
		},
		"telemetry": map[string]interface{}{
			"enabled":  false,
			"endpoint": DefaultOTLPEndpoint,
		},
	}
}
