package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths names the per-user directories the runtime writes to, following
// the XDG base-directory layout (APPDATA on Windows).
type Paths struct {
	Data   string // sessions, messages, auth material
	Config string // opencode.json[c]
	Cache  string // disposable derived data
	State  string // logs and other machine-local state
}

// GetPaths resolves the standard directories, honoring the XDG_*_HOME
// overrides when set.
func GetPaths() *Paths {
	return &Paths{
		Data:   appDir("XDG_DATA_HOME", ".local", "share"),
		Config: appDir("XDG_CONFIG_HOME", ".config"),
		Cache:  appDir("XDG_CACHE_HOME", ".cache"),
		State:  appDir("XDG_STATE_HOME", ".local", "state"),
	}
}

// appDir resolves one XDG base dir and appends the application name.
// Windows has no XDG convention, so everything lands under APPDATA.
func appDir(envVar string, unixDefault ...string) string {
	base := os.Getenv(envVar)
	if base == "" {
		if runtime.GOOS == "windows" {
			base = os.Getenv("APPDATA")
		} else {
			base = filepath.Join(append([]string{os.Getenv("HOME")}, unixDefault...)...)
		}
	}
	return filepath.Join(base, "opencode")
}

// EnsurePaths creates every directory the runtime expects to exist.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.Cache, p.State} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// StoragePath is the root of the persisted-session document store.
func (p *Paths) StoragePath() string {
	return filepath.Join(p.Data, "storage")
}

// AuthPath is where provider credentials are kept.
func (p *Paths) AuthPath() string {
	return filepath.Join(p.Data, "auth.json")
}

// GlobalConfigPath is the user-wide config file location.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, "opencode.json")
}

// ProjectConfigPath is the per-project config file location.
func ProjectConfigPath(directory string) string {
	return filepath.Join(directory, ".opencode", "opencode.json")
}
