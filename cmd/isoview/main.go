package main

import (
	"fmt"
	"os"

	"github.com/bgrewell/usage"

	iso9660kit "github.com/discimage/iso9660kit"
)

// printTree recursively lists a directory's entries, indenting one level per directory depth.
func printTree(dir *iso9660kit.Directory, depth int) error {
	entries, err := dir.Entries()
	if err != nil {
		return err
	}

	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}

	for _, e := range entries {
		if e.Record.IsSpecial() {
			continue
		}
		name := e.Record.GetBestName()
		if e.Record.IsDirectory() {
			fmt.Printf("%s%s/\n", indent, name)
			sub, err := dir.Find(name)
			if err != nil {
				return err
			}
			if err := printTree(sub, depth+1); err != nil {
				return err
			}
		} else {
			fmt.Printf("%s%s (%d bytes)\n", indent, name, e.Record.DataLength)
		}
	}
	return nil
}

func main() {
	u := usage.NewUsage(
		usage.WithApplicationName("isoview"),
		usage.WithApplicationDescription("isoview inspects an ISO 9660 image: volume metadata, the El Torito boot catalogue if present, and the full directory tree."),
	)

	help := u.AddBooleanOption("h", "help", false, "Show this help message", "optional", nil)
	layout := u.AddBooleanOption("l", "layout", false, "Print the physical on-disk layout (sector offsets of every structure) instead of the logical directory tree", "optional", nil)
	hexOffsets := u.AddBooleanOption("x", "hex", false, "Print layout offsets in hexadecimal", "optional", nil)
	noColor := u.AddBooleanOption("nc", "no-color", false, "Disable colored layout output", "optional", nil)
	path := u.AddArgument(1, "iso-path", "Path to the ISO image to inspect", "")
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

	fmt.Println("=== ISO Information ===")
	fmt.Printf("Volume Name: %s\n", img.VolumeIdentifier())
	fmt.Printf("Volume Size: %d sectors\n", img.VolumeSpaceSize())
	fmt.Printf("El Torito Boot Support: %v\n", img.HasElTorito())
	fmt.Println("========================")

	if img.HasElTorito() {
		catalog, err := img.BootCatalog()
		if err != nil {
			u.PrintError(fmt.Errorf("failed to read boot catalog: %w", err))
			os.Exit(1)
		}
		fmt.Println("\n=== El Torito Boot Catalog ===")
		for i, entry := range catalog.Entries {
			fmt.Printf("Entry %d: platform=%s emulation=%s sectors=%d lba=%d\n",
				i, entry.Platform, entry.Emulation, entry.SectorCount, entry.Location())
		}
		fmt.Println("===============================")
	}

	if *layout {
		l, err := img.Layout()
		if err != nil {
			u.PrintError(fmt.Errorf("failed to build image layout: %w", err))
			os.Exit(1)
		}
		l.Print(true, !*noColor, *hexOffsets)
		return
	}

	root, err := img.RootDirectory()
	if err != nil {
		u.PrintError(fmt.Errorf("failed to read root directory: %w", err))
		os.Exit(1)
	}

	fmt.Println("\n=== Directory Tree ===")
	if err := printTree(root, 0); err != nil {
		u.PrintError(fmt.Errorf("failed to walk directory tree: %w", err))
		os.Exit(1)
	}
}
