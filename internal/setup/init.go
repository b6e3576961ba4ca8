// Package setup writes a starter goal project.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/goalrun/internal/artifact"
	"github.com/msageha/goalrun/internal/model"
	atomicyaml "github.com/msageha/goalrun/internal/yaml"
	"github.com/msageha/goalrun/templates"
)

const (
	ConfigFile = "goal.yaml"
	GrantsFile = "grants.yaml"
)

// Run writes goal.yaml and grants.yaml into projectDir and creates the
// output directory layout. goalID overrides the generated goal ID.
func Run(projectDir, goalID string) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}

	cfgPath := filepath.Join(absDir, ConfigFile)
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists", cfgPath)
	}

	cfg, err := generateConfig(goalID)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}

	outDir := filepath.Join(absDir, cfg.Output.Dir)
	for _, d := range []string{"locks", "logs", "quarantine", filepath.Dir(artifact.LedgerFile)} {
		if err := os.MkdirAll(filepath.Join(outDir, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	if err := atomicyaml.AtomicWrite(cfgPath, cfg); err != nil {
		return fmt.Errorf("write %s: %w", ConfigFile, err)
	}

	grantsPath := filepath.Join(absDir, cfg.Policy.GrantsFile)
	if _, err := os.Stat(grantsPath); os.IsNotExist(err) {
		if err := copyTemplateFile(GrantsFile, grantsPath); err != nil {
			return err
		}
	}
	return nil
}

func copyTemplateFile(name, dst string) error {
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if err := atomicyaml.AtomicWriteRaw(dst, data); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

func generateConfig(goalID string) (*model.Config, error) {
	data, err := fs.ReadFile(templates.FS, ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}

	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}

	if goalID == "" {
		if goalID, err = model.GenerateID(model.IDTypeGoal); err != nil {
			return nil, err
		}
	}
	cfg.Goal.ID = goalID

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
