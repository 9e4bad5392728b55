package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// profilesFile is the on-disk shape of the YAML profiles file:
//
//	default: work
//	profiles:
//	  work:
//	    url: https://trac.example.com
//	    username: alice
//	    password: hunter2
//	    timeout_seconds: 15
type profilesFile struct {
	Default  string             `yaml:"default"`
	Profiles map[string]Profile `yaml:"profiles"`
}

// Profile is one named tracker in the profiles file.
type Profile struct {
	URL            string `yaml:"url"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// applyProfile merges the named profile (or the file's default) into fields
// the environment left unset. Environment values always win.
func (c *Config) applyProfile(path, name string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read profiles file %s: %w", path, err)
	}
	var file profilesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse profiles file %s: %w", path, err)
	}

	if name == "" {
		name = file.Default
	}
	if name == "" {
		return nil
	}
	profile, ok := file.Profiles[name]
	if !ok {
		return fmt.Errorf("profile %q not found in %s", name, path)
	}

	if c.Tracker.BaseURL == "" {
		c.Tracker.BaseURL = profile.URL
	}
	if c.Tracker.Username == "" {
		c.Tracker.Username = profile.Username
	}
	if c.Tracker.Password == "" {
		c.Tracker.Password = profile.Password
	}
	if profile.TimeoutSeconds > 0 && os.Getenv("TRAC_REQUEST_TIMEOUT_SECONDS") == "" {
		c.Tracker.RequestTimeoutSeconds = profile.TimeoutSeconds
	}
	return nil
}
