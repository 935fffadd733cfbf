package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// InputFilter is an external command consulted before Corpus.Add (but
// after novelty): it reads the candidate input from a scratch file
// and accepts it by exiting 0.
type InputFilter struct {
	Command    string
	ScratchDir string
}

// Allows runs the filter command against input, returning true iff it
// exits 0. A nil receiver always allows (no filter configured).
func (f *InputFilter) Allows(ctx context.Context, input []byte) (bool, error) {
	if f == nil || f.Command == "" {
		return true, nil
	}
	tmp, err := os.CreateTemp(f.ScratchDir, "input-filter-")
	if err != nil {
		return false, fmt.Errorf("engine: input filter scratch file: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)
	if _, err := tmp.Write(input); err != nil {
		tmp.Close()
		return false, fmt.Errorf("engine: writing input filter scratch file: %w", err)
	}
	tmp.Close()

	cmd := exec.CommandContext(ctx, f.Command, path)
	cmd.Dir = filepath.Dir(path)
	err = cmd.Run()
	if err == nil {
		return true, nil
	}
	if _, ok := err.(*exec.ExitError); ok {
		return false, nil
	}
	return false, fmt.Errorf("engine: running input filter: %w", err)
}
