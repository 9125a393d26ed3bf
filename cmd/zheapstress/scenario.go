package main

import (
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Scenario describes one soak-test run, loaded from a YAML file mirroring
// aistore's config-from-YAML convention.
type Scenario struct {
	Name            string        `yaml:"name"`
	Slabs           int64         `yaml:"slabs"`
	QuarantineRatio float64       `yaml:"quarantine_ratio"`
	MinBodySize     int64         `yaml:"min_body_size"`
	MaxBodySize     int64         `yaml:"max_body_size"`
	LeftRedzone     int64         `yaml:"left_redzone"`
	RightRedzone    int64         `yaml:"right_redzone"`
	Duration        time.Duration `yaml:"duration"`
}

func defaultScenario() Scenario {
	return Scenario{
		Name:            "default",
		Slabs:           256,
		QuarantineRatio: 0.25,
		MinBodySize:     8,
		MaxBodySize:     512,
		LeftRedzone:     8,
		RightRedzone:    8,
		Duration:        30 * time.Second,
	}
}

func loadScenario(path string) (Scenario, error) {
	s := defaultScenario()
	if path == "" {
		return s, nil
	}
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return Scenario{}, errors.Wrap(err, "zheapstress: read scenario")
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Scenario{}, errors.Wrap(err, "zheapstress: parse scenario")
	}
	if s.Slabs <= 0 {
		return Scenario{}, errors.New("zheapstress: scenario.slabs must be positive")
	}
	if s.MaxBodySize < s.MinBodySize {
		return Scenario{}, errors.New("zheapstress: scenario.max_body_size below min_body_size")
	}
	return s, nil
}
