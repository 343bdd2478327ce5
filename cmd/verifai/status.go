package main

import (
	"fmt"

	"github.com/fra-l/verifai/internal/config"
	"github.com/fra-l/verifai/internal/status"
)

// runStatus inspects a generated testbench directory. The directory defaults
// to the configured output directory.
func runStatus(cfg *config.ProjectConfig, dir string) (int, error) {
	if dir == "" {
		dir = cfg.OutputDir
	}
	st, err := status.Inspect(dir)
	if err != nil {
		return 1, err
	}
	fmt.Print(status.Format(st))
	if !st.Complete() {
		return 1, nil
	}
	return 0, nil
}
