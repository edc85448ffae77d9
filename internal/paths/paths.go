// Package paths resolves where kaitiaki keeps its config, state and
// metrics. It imports only the standard library so every package can use it.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HomeEnv overrides the data directory, which defaults to ~/.kaitiaki.
const HomeEnv = "KAITIAKI_HOME"

// configNames are searched in order in each candidate directory.
var configNames = []string{"kaitiaki.toml", "kaitiaki.yaml", "kaitiaki.yml"}

// BaseDir returns $KAITIAKI_HOME, or ~/.kaitiaki when unset.
func BaseDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv(HomeEnv)); dir != "" {
		return ExpandTilde(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".kaitiaki"), nil
}

// DataPath joins name onto BaseDir.
func DataPath(name string) (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, name), nil
}

// ConfigPath finds the config file: the working directory first, then
// BaseDir. No file anywhere returns ("", nil); defaults apply.
func ConfigPath() (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	for _, dir := range []string{".", base} {
		for _, name := range configNames {
			candidate := filepath.Join(dir, name)
			info, err := os.Stat(candidate)
			if err != nil || info.IsDir() {
				continue
			}
			abs, err := filepath.Abs(candidate)
			if err != nil {
				return "", fmt.Errorf("failed to resolve %s: %w", candidate, err)
			}
			return abs, nil
		}
	}
	return "", nil
}

// StatePath places state.json next to the config file, or in BaseDir when
// running on defaults.
func StatePath(configPath string) (string, error) {
	if configPath == "" {
		return DataPath("state.json")
	}
	return filepath.Join(filepath.Dir(configPath), "state.json"), nil
}

// EnsureParentDir creates the directory that will hold file, mode 0750.
func EnsureParentDir(file string) error {
	dir := filepath.Dir(file)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// ExpandTilde replaces a leading "~" or "~/" with the home directory.
// "~user" forms are returned unchanged.
func ExpandTilde(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
