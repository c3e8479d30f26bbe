// internal/solver/loader.go

package solver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rovshanmuradov/solver-engine/internal/errs"
)

// Definition is one solver from a bootstrap file.
type Definition struct {
	Config    Config
	AutoStart bool
}

type fileEntry struct {
	Config    `yaml:",inline"`
	AutoStart bool `yaml:"auto_start"`
}

type bootstrapFile struct {
	Solvers []fileEntry `yaml:"solvers"`
}

// LoadYAML reads solver definitions from path. Entries that fail validation
// are logged and skipped; a file with no valid entry is an error.
func LoadYAML(path string, logger *zap.Logger) ([]Definition, error) {
	if filepath.IsAbs(path) {
		logger.Debug("Using absolute path for solvers file", zap.String("path", path))
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var file bootstrapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(file.Solvers) == 0 {
		return nil, fmt.Errorf("no solvers found in %s", path)
	}

	defs := make([]Definition, 0, len(file.Solvers))
	for i, entry := range file.Solvers {
		cfg := entry.Config.WithDefaults()
		if err := cfg.Validate(); err != nil {
			logger.Warn("Skipping invalid solver",
				zap.Int("index", i),
				zap.String("name", entry.Name),
				zap.Error(err))
			continue
		}
		defs = append(defs, Definition{Config: cfg, AutoStart: entry.AutoStart})
	}

	if len(defs) == 0 {
		return nil, fmt.Errorf("no valid solvers in %s", path)
	}
	return defs, nil
}

// Bootstrap registers the definitions, starting those marked AutoStart.
// Definitions whose id is already registered are left alone, so restarting
// with a durable registry is safe.
func (s *Supervisor) Bootstrap(ctx context.Context, defs []Definition) (int, error) {
	created := 0
	for _, def := range defs {
		inst, err := s.Create(ctx, def.Config)
		if errors.Is(err, errs.ErrAlreadyExists) {
			s.logger.Info("Solver already registered", zap.String("solver_id", def.Config.ID))
			continue
		}
		if err != nil {
			return created, fmt.Errorf("solver %q: %w", def.Config.Name, err)
		}
		created++

		if !def.AutoStart {
			continue
		}
		if _, err := s.Start(ctx, inst.ID); err != nil {
			return created, fmt.Errorf("failed to start solver %q: %w", def.Config.Name, err)
		}
	}
	return created, nil
}
