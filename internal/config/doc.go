// Package config assembles the runtime's layered configuration and
// resolves where its data lives on disk.
//
// # Layers
//
// Load folds these sources together, later ones winning:
//
//  1. XDG global config (~/.config/opencode/opencode.json[c])
//  2. legacy global config (~/.opencode/opencode.json[c])
//  3. the file named by OPENCODE_CONFIG
//  4. project config (<dir>/.opencode/opencode.json[c])
//  5. inline JSON from OPENCODE_CONFIG_CONTENT
//  6. environment variables (OPENCODE_MODEL, OPENCODE_SMALL_MODEL, and
//     per-provider API keys like ANTHROPIC_API_KEY)
//
// .jsonc files (and .json files that sneak comments in) are stripped
// with tidwall/jsonc before decoding. A missing layer is skipped; so is
// one that fails to parse — configuration problems degrade the session,
// they don't prevent startup.
//
// # Placeholders
//
// String values may embed {env:NAME}, replaced with the environment
// variable's value (empty when unset), and {file:path}, replaced with
// the file's trimmed contents. Relative paths resolve against the
// directory the config file was read from; an unreadable file leaves
// the placeholder intact so the misconfiguration stays visible.
//
// # Paths
//
// GetPaths resolves the XDG base directories (APPDATA on Windows) for
// the runtime's data, config, cache, and state trees; StoragePath under
// the data dir is the root handed to internal/storage.
package config
