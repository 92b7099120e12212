package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/opencode-ai/core/pkg/types"
)

// Load assembles the effective configuration for a working directory.
// Layers apply lowest to highest priority:
//
//  1. XDG global config (~/.config/opencode/opencode.json[c])
//  2. home-dot global config (~/.opencode/opencode.json[c])
//  3. the file named by OPENCODE_CONFIG, when set
//  4. project config (<directory>/.opencode/opencode.json[c])
//  5. inline JSON from OPENCODE_CONFIG_CONTENT, when set
//  6. environment-variable overrides
//
// Missing layers are skipped silently; a layer that exists but fails to
// parse is also skipped, so one broken file never takes the whole
// runtime down.
func Load(directory string) (*types.Config, error) {
	cfg := &types.Config{
		Provider: make(map[string]types.ProviderConfig),
		Agent:    make(map[string]types.AgentConfig),
	}

	for _, dir := range []string{GetPaths().Config, homeDotDir()} {
		applyLayerDir(cfg, dir)
	}
	if custom := os.Getenv("OPENCODE_CONFIG"); custom != "" {
		applyLayerFile(cfg, custom)
	}
	if directory != "" {
		applyLayerDir(cfg, filepath.Join(directory, ".opencode"))
	}
	if inline := os.Getenv("OPENCODE_CONFIG_CONTENT"); inline != "" {
		applyLayerBytes(cfg, []byte(inline), "")
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// homeDotDir is the legacy ~/.opencode location, still honored so
// sessions written by older installs keep their settings.
func homeDotDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".opencode")
}

// applyLayerDir folds dir's opencode.json and opencode.jsonc (in that
// order) into cfg.
func applyLayerDir(cfg *types.Config, dir string) {
	if dir == "" {
		return
	}
	applyLayerFile(cfg, filepath.Join(dir, "opencode.json"))
	applyLayerFile(cfg, filepath.Join(dir, "opencode.jsonc"))
}

// applyLayerFile folds one config file into cfg, if it exists and parses.
func applyLayerFile(cfg *types.Config, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	applyLayerBytes(cfg, raw, filepath.Dir(path))
}

// applyLayerBytes decodes one layer's bytes — comments stripped,
// placeholders interpolated relative to baseDir — and merges it in.
func applyLayerBytes(cfg *types.Config, raw []byte, baseDir string) {
	raw = jsonc.ToJSON(raw)
	raw = interpolate(raw, baseDir)

	var layer types.Config
	if err := json.Unmarshal(raw, &layer); err != nil {
		return
	}
	mergeConfig(cfg, &layer)
}

var (
	envPlaceholder  = regexp.MustCompile(`\{env:([A-Za-z_][A-Za-z0-9_]*)\}`)
	filePlaceholder = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate expands {env:NAME} and {file:PATH} placeholders in a
// layer's raw bytes. An unset variable becomes the empty string; an
// unreadable file leaves its placeholder in place so the problem stays
// visible in the decoded value. Relative file paths resolve against
// baseDir, the directory the layer was read from.
func interpolate(raw []byte, baseDir string) []byte {
	out := envPlaceholder.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envPlaceholder.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
	return filePlaceholder.ReplaceAllFunc(out, func(m []byte) []byte {
		rel := string(filePlaceholder.FindSubmatch(m)[1])
		path := rel
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return m
		}
		return []byte(strings.TrimSpace(string(content)))
	})
}

// mergeConfig folds source into target: scalars override when non-empty,
// maps merge key-by-key with source winning on collisions, instruction
// lists concatenate (skipping entries target already has, so a directory
// read as two layers contributes once), and optional sub-configs replace
// wholesale when source carries one.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.Username != "" {
		target.Username = source.Username
	}
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.SmallModel != "" {
		target.SmallModel = source.SmallModel
	}
	if source.Theme != "" {
		target.Theme = source.Theme
	}
	if source.Share != "" {
		target.Share = source.Share
	}
	for _, inst := range source.Instructions {
		dup := false
		for _, have := range target.Instructions {
			if have == inst {
				dup = true
				break
			}
		}
		if !dup {
			target.Instructions = append(target.Instructions, inst)
		}
	}

	target.Provider = mergeMap(target.Provider, source.Provider)
	target.Agent = mergeMap(target.Agent, source.Agent)
	target.Command = mergeMap(target.Command, source.Command)
	target.MCP = mergeMap(target.MCP, source.MCP)
	target.Formatter = mergeMap(target.Formatter, source.Formatter)
	target.Tools = mergeMap(target.Tools, source.Tools)
	target.PromptVariables = mergeMap(target.PromptVariables, source.PromptVariables)

	if source.Permission != nil {
		target.Permission = source.Permission
	}
	if source.LSP != nil {
		target.LSP = source.LSP
	}
	if source.Watcher != nil {
		target.Watcher = source.Watcher
	}
	if source.Experimental != nil {
		target.Experimental = source.Experimental
	}
}

// mergeMap overlays src onto dst, allocating dst on first use.
func mergeMap[V any](dst, src map[string]V) map[string]V {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]V, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// providerKeyEnv names the environment variable each well-known provider
// reads its API key from when the config file doesn't set one.
var providerKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"google":    "GOOGLE_API_KEY",
	"bedrock":   "AWS_ACCESS_KEY_ID",
}

// applyEnvOverrides is the final layer: API keys for providers the
// config left keyless, and OPENCODE_MODEL / OPENCODE_SMALL_MODEL.
func applyEnvOverrides(cfg *types.Config) {
	for name, envVar := range providerKeyEnv {
		key := os.Getenv(envVar)
		if key == "" {
			continue
		}
		if cfg.Provider == nil {
			cfg.Provider = make(map[string]types.ProviderConfig)
		}
		p := cfg.Provider[name]
		if p.APIKey == "" {
			p.APIKey = key
			cfg.Provider[name] = p
		}
	}

	if model := os.Getenv("OPENCODE_MODEL"); model != "" {
		cfg.Model = model
	}
	if small := os.Getenv("OPENCODE_SMALL_MODEL"); small != "" {
		cfg.SmallModel = small
	}
}

// Save writes cfg as indented JSON at path, creating parent directories
// as needed.
func Save(cfg *types.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
