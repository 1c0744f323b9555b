package pipeline

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/dividash/modelops/internal/validate"
)

// ModelSpec declares one model in the models config file.
type ModelSpec struct {
	Name string             `json:"name"`
	Type validate.ModelType `json:"type"`

	// Command and Args define the training job entry point.
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`

	// ArtifactFile overrides the default <name>.pkl artifact name.
	ArtifactFile string `json:"artifact_file,omitempty"`

	// Incremental marks the model for inclusion in incremental runs.
	Incremental bool `json:"incremental,omitempty"`
}

// modelsFile is the on-disk models config document.
type modelsFile struct {
	Models []ModelSpec `json:"models"`
}

// LoadModelSpecs reads the models config file.
func LoadModelSpecs(path string) ([]ModelSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading models config: %w", err)
	}

	var doc modelsFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing models config %s: %w", path, err)
	}

	seen := make(map[string]bool, len(doc.Models))
	for _, m := range doc.Models {
		if m.Name == "" {
			return nil, fmt.Errorf("models config %s: model with empty name", path)
		}
		if m.Command == "" {
			return nil, fmt.Errorf("models config %s: model %q has no command", path, m.Name)
		}
		if seen[m.Name] {
			return nil, fmt.Errorf("models config %s: duplicate model %q", path, m.Name)
		}
		seen[m.Name] = true
	}

	return doc.Models, nil
}

// BuildTrainers turns model specs into command trainers and collects the
// incremental subset.
func BuildTrainers(specs []ModelSpec, outputDir string, logger zerolog.Logger) ([]Trainer, []string) {
	trainers := make([]Trainer, 0, len(specs))
	var incremental []string

	for _, spec := range specs {
		trainers = append(trainers, NewCommandTrainer(CommandTrainerConfig{
			ModelName:    spec.Name,
			ModelType:    spec.Type,
			Command:      spec.Command,
			Args:         spec.Args,
			OutputDir:    outputDir,
			ArtifactFile: spec.ArtifactFile,
			Logger:       logger,
		}))
		if spec.Incremental {
			incremental = append(incremental, spec.Name)
		}
	}

	return trainers, incremental
}
