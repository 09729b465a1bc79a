package orchestrator

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/lakeforge/internal/capability"
	"github.com/ShayCichocki/lakeforge/pkg/models"
)

// PipelineFile is the on-disk form of a pipeline definition.
//
//	name: mdm
//	stages:
//	  - name: etl_generator/sap
//	    framing: You are an ETL engineer...
//	    task: Profile SAP KNA1 and generate a PySpark extraction job.
//	    capabilities: [profile_data_source, write_pipeline_code]
//	    iteration_budget: 15
//
// A bare list of stages is accepted too. Stages without ordinals are
// numbered by position.
type PipelineFile struct {
	Name   string                `yaml:"name"`
	Stages []models.PipelineTask `yaml:"stages"`
}

// LoadPipelineFile reads and parses a pipeline definition.
func LoadPipelineFile(path string) (*PipelineFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	pf, err := ParsePipeline(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return pf, nil
}

// ParsePipeline decodes a pipeline definition. Unknown fields are rejected.
func ParsePipeline(data []byte) (*PipelineFile, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, fmt.Errorf("%w: empty pipeline file", ErrInvalidPipeline)
	}

	pf := &PipelineFile{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	switch root.Content[0].Kind {
	case yaml.SequenceNode:
		err := dec.Decode(&pf.Stages)
		if err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		if err := dec.Decode(pf); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: expected a list of stages or a mapping with stages", ErrInvalidPipeline)
	}

	numberStages(pf.Stages)
	return pf, nil
}

// numberStages assigns positional ordinals when none were given.
func numberStages(tasks []models.PipelineTask) {
	for _, t := range tasks {
		if t.Ordinal != 0 {
			return
		}
	}
	for i := range tasks {
		tasks[i].Ordinal = i + 1
	}
}

// Validate checks the structural rules every pipeline must satisfy:
// at least one task, unique non-empty names, unique ordinals, non-empty
// framing and task, and no negative budgets. All problems are reported.
func Validate(tasks []models.PipelineTask) error {
	if len(tasks) == 0 {
		return fmt.Errorf("%w: no stages", ErrInvalidPipeline)
	}

	var problems []error
	names := make(map[string]bool, len(tasks))
	ordinals := make(map[int]string, len(tasks))
	for i, t := range tasks {
		label := t.Name
		if strings.TrimSpace(t.Name) == "" {
			label = fmt.Sprintf("#%d", i+1)
			problems = append(problems, fmt.Errorf("stage %s: name is required", label))
		} else if names[t.Name] {
			problems = append(problems, fmt.Errorf("stage %s: duplicate name", label))
		}
		names[t.Name] = true

		if other, dup := ordinals[t.Ordinal]; dup {
			problems = append(problems, fmt.Errorf("stage %s: ordinal %d already used by %s", label, t.Ordinal, other))
		} else {
			ordinals[t.Ordinal] = label
		}
		if strings.TrimSpace(t.Framing) == "" {
			problems = append(problems, fmt.Errorf("stage %s: framing is required", label))
		}
		if strings.TrimSpace(t.Task) == "" {
			problems = append(problems, fmt.Errorf("stage %s: task is required", label))
		}
		if t.IterationBudget < 0 {
			problems = append(problems, fmt.Errorf("stage %s: iteration budget must be >= 1, got %d", label, t.IterationBudget))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPipeline, errors.Join(problems...))
	}
	return nil
}

// stagePlan is a validated stage ready to run.
type stagePlan struct {
	task   models.PipelineTask
	table  *capability.Table
	budget int
}

// plan validates tasks against the shared table and orders them by ordinal.
// The input slice is not modified.
func plan(tasks []models.PipelineTask, table *capability.Table, defaultBudget int) ([]stagePlan, error) {
	if err := Validate(tasks); err != nil {
		return nil, err
	}
	if defaultBudget < 1 {
		return nil, fmt.Errorf("%w: default iteration budget must be >= 1, got %d", ErrInvalidPipeline, defaultBudget)
	}

	sorted := append([]models.PipelineTask(nil), tasks...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ordinal < sorted[j].Ordinal })

	var problems []error
	plans := make([]stagePlan, 0, len(sorted))
	for _, t := range sorted {
		p := stagePlan{task: t, table: table, budget: defaultBudget}
		if t.IterationBudget > 0 {
			p.budget = t.IterationBudget
		}
		if len(t.Capabilities) > 0 {
			sub, err := table.Subset(t.Capabilities...)
			if err != nil {
				problems = append(problems, fmt.Errorf("stage %s: %w", t.Name, err))
				continue
			}
			p.table = sub
		}
		plans = append(plans, p)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPipeline, errors.Join(problems...))
	}
	return plans, nil
}
