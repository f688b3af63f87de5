// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adiadia/triage-runtime/internal/domain"
)

const maxPipelineFileSize = 64 * 1024

var ErrInvalidPipeline = errors.New("invalid pipeline config")

// Pipeline overrides timeouts and breaker policy from a YAML file:
//
//	step_timeout: 5s
//	run_timeout: 20s
//	breaker:
//	  threshold: 3
//	  cool_down: 30s
//	steps:
//	  riskSignals:
//	    timeout: 2s
type Pipeline struct {
	StepTimeout time.Duration         `yaml:"step_timeout"`
	RunTimeout  time.Duration         `yaml:"run_timeout"`
	Breaker     BreakerPolicy         `yaml:"breaker"`
	Steps       map[string]StepPolicy `yaml:"steps"`
}

type BreakerPolicy struct {
	Threshold int           `yaml:"threshold"`
	CoolDown  time.Duration `yaml:"cool_down"`
}

type StepPolicy struct {
	Timeout time.Duration `yaml:"timeout"`
}

func LoadPipeline(path string) (Pipeline, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Pipeline{}, err
	}
	if info.Size() > maxPipelineFileSize {
		return Pipeline{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidPipeline, path, maxPipelineFileSize)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, err
	}
	return ParsePipeline(raw)
}

func ParsePipeline(raw []byte) (Pipeline, error) {
	var p Pipeline
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("%w: %w", ErrInvalidPipeline, err)
	}
	if err := p.Validate(); err != nil {
		return Pipeline{}, err
	}
	return p, nil
}

func (p Pipeline) Validate() error {
	if p.StepTimeout < 0 || p.RunTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidPipeline)
	}
	if p.Breaker.Threshold < 0 || p.Breaker.CoolDown < 0 {
		return fmt.Errorf("%w: negative breaker policy", ErrInvalidPipeline)
	}
	for name, s := range p.Steps {
		if !domain.StepName(name).Known() {
			return fmt.Errorf("%w: %w: %s", ErrInvalidPipeline, domain.ErrUnknownTool, name)
		}
		if s.Timeout < 0 {
			return fmt.Errorf("%w: negative timeout for %s", ErrInvalidPipeline, name)
		}
	}
	return nil
}

// StepTimeouts returns the per-step overrides that are set.
func (p Pipeline) StepTimeouts() map[domain.StepName]time.Duration {
	out := make(map[domain.StepName]time.Duration, len(p.Steps))
	for name, s := range p.Steps {
		if s.Timeout > 0 {
			out[domain.StepName(name)] = s.Timeout
		}
	}
	return out
}

// Apply overlays the non-zero pipeline values on cfg.
func (p Pipeline) Apply(cfg Config) Config {
	if p.StepTimeout > 0 {
		cfg.StepTimeout = p.StepTimeout
	}
	if p.RunTimeout > 0 {
		cfg.RunTimeout = p.RunTimeout
	}
	if p.Breaker.Threshold > 0 {
		cfg.BreakerThreshold = p.Breaker.Threshold
	}
	if p.Breaker.CoolDown > 0 {
		cfg.BreakerCoolDown = p.Breaker.CoolDown
	}
	return cfg
}
