package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DispatchProfile is the optional YAML file tuning complexity and soft
// timeouts per file type:
//
//	simpleTimeout: 30s
//	complexTimeout: 90s
//	fileTypes:
//	  pdf: {complex: true}
//	  docx: {complex: true, timeout: 60s}
type DispatchProfile struct {
	SimpleTimeout  time.Duration           `yaml:"simpleTimeout"`
	ComplexTimeout time.Duration           `yaml:"complexTimeout"`
	FileTypes      map[string]FileTypeRule `yaml:"fileTypes"`
}

type FileTypeRule struct {
	Complex bool          `yaml:"complex"`
	Timeout time.Duration `yaml:"timeout"`
}

func LoadDispatchProfile(path string) (*DispatchProfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dispatch profile: %w", err)
	}
	return ParseDispatchProfile(raw)
}

func ParseDispatchProfile(raw []byte) (*DispatchProfile, error) {
	var profile DispatchProfile
	if err := yaml.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("parse dispatch profile: %w", err)
	}
	if profile.SimpleTimeout < 0 || profile.ComplexTimeout < 0 {
		return nil, fmt.Errorf("dispatch profile timeouts must not be negative")
	}
	for fileType, rule := range profile.FileTypes {
		if rule.Timeout < 0 {
			return nil, fmt.Errorf("dispatch profile timeout for %q must not be negative", fileType)
		}
	}
	return &profile, nil
}
