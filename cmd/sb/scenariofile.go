package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"starbridge/internal/action"
)

// scenarioDoc is one scenario in an import file.
type scenarioDoc struct {
	ID          string        `yaml:"id" json:"id"`
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description" json:"description"`
	Actions     []action.Wire `yaml:"actions" json:"actions"`
}

type scenarioFile struct {
	Scenarios []scenarioDoc `yaml:"scenarios" json:"scenarios"`
}

// loadScenarioFile reads scenarios from YAML or JSON. JSON is chosen by
// the .json extension.
func loadScenarioFile(path string) ([]scenarioDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseScenarios(data, strings.EqualFold(filepath.Ext(path), ".json"))
}

func parseScenarios(data []byte, isJSON bool) ([]scenarioDoc, error) {
	var f scenarioFile
	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("invalid scenario json: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid scenario yaml: %w", err)
	}
	if len(f.Scenarios) == 0 {
		return nil, fmt.Errorf("no scenarios found")
	}
	for i, s := range f.Scenarios {
		if strings.TrimSpace(s.ID) == "" {
			return nil, fmt.Errorf("scenario %d: id is required", i+1)
		}
	}
	return f.Scenarios, nil
}
