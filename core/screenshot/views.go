// Package screenshot captures fixed-camera images of the rendered
// result through the browser-based viewer. Capture is best-effort:
// a failure here never fails the job.
package screenshot

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// View is one named camera position consumed by the capture step.
type View struct {
	Name     string     `yaml:"name"`
	Position [3]float64 `yaml:"position"`
	Target   [3]float64 `yaml:"target"`
	Zoom     float64    `yaml:"zoom"`
}

// ViewConfig is the optional per-model screenshot configuration,
// checked in beside the model script as screenshots.yaml.
type ViewConfig struct {
	Views []View `yaml:"views"`
}

// DefaultViews are used when a model ships no screenshot config.
func DefaultViews() []View {
	return []View{
		{Name: "iso", Position: [3]float64{1, -1, 1}, Zoom: 1},
		{Name: "front", Position: [3]float64{0, -1, 0}, Zoom: 1},
		{Name: "top", Position: [3]float64{0, 0, 1}, Zoom: 1},
	}
}

// LoadViews reads the model's screenshot config from its source tree,
// falling back to the defaults when absent.
func LoadViews(scriptDir, scriptPath string) ([]View, error) {
	path := filepath.Join(scriptDir, filepath.Dir(scriptPath), "screenshots.yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultViews(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read screenshot config: %w", err)
	}

	var cfg ViewConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse screenshot config: %w", err)
	}
	if len(cfg.Views) == 0 {
		return DefaultViews(), nil
	}

	for i := range cfg.Views {
		if cfg.Views[i].Zoom == 0 {
			cfg.Views[i].Zoom = 1
		}
	}
	return cfg.Views, nil
}
