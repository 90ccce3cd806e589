// Package main generates markdown reference pages from the grainql CLI
// and the registered SQL dialects.
//
// Usage:
//
//	go run ./scripts/gendocs -gen=cli -outdir=docs/cli
//	go run ./scripts/gendocs -gen=dialects -outdir=docs/dialects
//	go run ./scripts/gendocs -gen=all
package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"
)

var (
	genFlag    = flag.String("gen", "all", "what to generate: cli, dialects, all")
	outDirFlag = flag.String("outdir", "", "output directory (defaults based on gen type)")
)

func main() {
	flag.Parse()

	generators := map[string]func(string) error{
		"cli":      generateCLIDocs,
		"dialects": generateDialectDocs,
	}
	defaults := map[string]string{
		"cli":      filepath.Join("docs", "cli"),
		"dialects": filepath.Join("docs", "dialects"),
	}

	var run []string
	switch *genFlag {
	case "all":
		run = []string{"cli", "dialects"}
	case "cli", "dialects":
		run = []string{*genFlag}
	default:
		log.Fatalf("unknown -gen value: %s (use: cli, dialects, all)", *genFlag)
	}

	projectRoot, err := findProjectRoot()
	if err != nil {
		log.Fatalf("failed to find project root: %v", err)
	}
	log.Printf("Project root: %s", projectRoot)

	for _, name := range run {
		outDir := *outDirFlag
		if outDir == "" || len(run) > 1 {
			outDir = filepath.Join(projectRoot, defaults[name])
		}
		if err := generators[name](outDir); err != nil {
			log.Fatalf("failed to generate %s docs: %v", name, err)
		}
	}

	log.Println("Done!")
}

// findProjectRoot walks up from current directory to find go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}
