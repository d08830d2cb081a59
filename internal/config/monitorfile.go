package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rijexamenmeldingen/sbat-monitor/internal/model"
)

// LoadMonitorConfiguration reads the initial poll scope from a YAML file:
//
//	license_types: [B, AM]
//	exam_center_ids: [1, 7]
//	seconds_inbetween: 300
//
// Keys left out keep their defaults. Unknown keys are an error.
func LoadMonitorConfiguration(path string) (model.MonitorConfiguration, error) {
	cfg := model.DefaultMonitorConfiguration()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read monitor config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse monitor config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("monitor config %s: %w", path, err)
	}
	return cfg, nil
}
