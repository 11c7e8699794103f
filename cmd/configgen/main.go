package main

import (
	"flag"
	"log"
	"path/filepath"
	"strings"

	"github.com/danmuck/neurobridge/internal/config"
)

func main() {
	kind := flag.String("kind", "toml", "config format: toml|yaml")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to the per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		cfg, err := config.Load(path)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated config at %s (mode=%s simulation=%t)", path, cfg.Server.Mode, cfg.Device.Simulation)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}

func defaultPath(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "yaml", "yml":
		return filepath.Join("cmd", "bridgectl", "config.yaml")
	default:
		return filepath.Join("cmd", "bridgectl", "config.toml")
	}
}
