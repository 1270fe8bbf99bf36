package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bgrewell/usage"

	iso9660kit "github.com/discimage/iso9660kit"
)

// extractDirectory writes every file under dir to outputDir, recreating subdirectories as needed.
func extractDirectory(dir *iso9660kit.Directory, outputDir string) error {
	entries, err := dir.Entries()
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.Record.IsSpecial() {
			continue
		}
		name := e.Record.GetBestName()
		target := filepath.Join(outputDir, name)

		if e.Record.IsDirectory() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			sub, err := dir.Find(name)
			if err != nil {
				return err
			}
			if err := extractDirectory(sub, target); err != nil {
				return err
			}
			continue
		}

		data, err := dir.ReadFile(name)
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", target, err)
		}
	}
	return nil
}

func main() {
	u := usage.NewUsage(
		usage.WithApplicationName("isoextract"),
		usage.WithApplicationDescription("isoextract extracts every file and directory out of an ISO 9660 image onto the local filesystem."),
	)

	help := u.AddBooleanOption("h", "help", false, "Show this help message", "optional", nil)
	outputDir := u.AddStringOption("o", "output", "./extracted", "Output directory for extracted files", "optional", nil)
	path := u.AddArgument(1, "iso-path", "Path to the ISO image to extract", "")
	parsed := u.Parse()

	if !parsed {
		u.PrintError(fmt.Errorf("failed to parse arguments"))
		os.Exit(1)
	}

	if *help {
		u.PrintUsage()
		os.Exit(0)
	}

	if path == nil || *path == "" {
		u.PrintError(fmt.Errorf("path to the iso file must be provided"))
		os.Exit(1)
	}

	f, err := os.Open(*path)
	if err != nil {
		u.PrintError(err)
		os.Exit(1)
	}
	defer f.Close()

	img, err := iso9660kit.Open(f)
	if err != nil {
		u.PrintError(fmt.Errorf("failed to open image: %w", err))
		os.Exit(1)
	}

	root, err := img.RootDirectory()
	if err != nil {
		u.PrintError(fmt.Errorf("failed to read root directory: %w", err))
		os.Exit(1)
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		u.PrintError(err)
		os.Exit(1)
	}

	if err := extractDirectory(root, *outputDir); err != nil {
		u.PrintError(fmt.Errorf("failed to extract image: %w", err))
		os.Exit(1)
	}

	fmt.Printf("Extraction completed successfully to '%s'.\n", *outputDir)
}
