package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	. "github.com/roelfdiedericks/kaitiaki/internal/logging"
)

// State is the runtime selection that survives restarts.
type State struct {
	PreferredModel  string    `json:"preferredModel,omitempty"`
	CurrentProvider string    `json:"currentProvider,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// LoadState reads state.json. A missing file yields an empty State.
func LoadState(path string) (State, error) {
	var st State
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("failed to read state: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("failed to decode state %s: %w", path, err)
	}
	return st, nil
}

// SaveState replaces state.json. Readers see either the previous or the
// new selection, never a partial file.
func SaveState(path string, st State) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := replaceFile(path, append(data, '\n')); err != nil {
		return fmt.Errorf("failed to save state %s: %w", path, err)
	}
	L_debug("config: state saved", "path", path, "preferred", st.PreferredModel, "provider", st.CurrentProvider)
	return nil
}

// replaceFile writes a 0600 sibling temp file and renames it over path.
func replaceFile(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = tmp.Chmod(0600); err != nil {
		return err
	}
	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
