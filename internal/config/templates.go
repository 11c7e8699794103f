package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const templateHeader = "# neurobridge configuration. Durations use Go syntax (5s, 40ms).\n"

// Template renders the default configuration as kind "toml" or "yaml".
func Template(kind string) (string, error) {
	cfg := Default()
	var (
		body []byte
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "toml", "":
		body, err = toml.Marshal(cfg)
	case "yaml", "yml":
		body, err = yaml.Marshal(cfg)
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	if err != nil {
		return "", fmt.Errorf("render %s template: %w", kind, err)
	}
	return templateHeader + string(body), nil
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
