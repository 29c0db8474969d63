package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultUserProfilePath returns the location of the user-profile YAML
// blob remember_user_fact writes into, grounded on the Python original's
// user_profile_path (a YAML file re-read on every config reload).
func DefaultUserProfilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".resonance", "user_profile.yaml"), nil
}

// LoadUserProfile reads the user profile from path. A missing file yields
// an empty (not nil) UserConfig.
func LoadUserProfile(path string) (*UserConfig, error) {
	cfg := &UserConfig{Facts: map[string]string{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read user profile: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse user profile: %w", err)
	}
	if cfg.Facts == nil {
		cfg.Facts = map[string]string{}
	}
	return cfg, nil
}

// SaveUserProfile persists the user profile to path as YAML.
func SaveUserProfile(path string, cfg *UserConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create user profile directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode user profile: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// RememberFact loads the user profile at path, sets key=value, persists it,
// and returns the updated config. Matches the Python original's
// remember_user_fact: load -> mutate user_info[key] -> dump -> reload.
func RememberFact(path, key, value string) (*UserConfig, error) {
	cfg, err := LoadUserProfile(path)
	if err != nil {
		return nil, err
	}
	if cfg.Facts == nil {
		cfg.Facts = map[string]string{}
	}
	cfg.Facts[key] = value

	if err := SaveUserProfile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
