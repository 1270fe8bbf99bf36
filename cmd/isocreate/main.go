package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bgrewell/usage"
	"github.com/theckman/yacspin"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	iso9660kit "github.com/discimage/iso9660kit"
	"github.com/discimage/iso9660kit/pkg/consts"
	"github.com/discimage/iso9660kit/pkg/iso9660/tree"
)

// newBuildSpinner returns a started spinner for the Format call when stdout is a terminal, or nil
// on a non-interactive stdout (CI logs, piped output) where an animated spinner would just be
// noise.
func newBuildSpinner() *yacspin.Spinner {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return nil
	}
	spinner, err := yacspin.New(yacspin.Config{
		Frequency: 100 * time.Millisecond,
		CharSet:   yacspin.CharSets[9],
		Suffix:    " formatting image",
		StopMessage: "image formatted",
		StopCharacter: "✓",
	})
	if err != nil {
		return nil
	}
	if err := spinner.Start(); err != nil {
		return nil
	}
	return spinner
}

// manifest describes the file tree plus El Torito/protective-MBR options for one ISO build,
// loaded from a YAML file named on the command line.
type manifest struct {
	VolumeIdentifier string         `yaml:"volume_identifier"`
	ProtectiveMBR    bool           `yaml:"protective_mbr"`
	ElTorito         *elToritoEntry `yaml:"el_torito"`
	Files            []fileEntry    `yaml:"files"`
}

type elToritoEntry struct {
	BootImage     string `yaml:"boot_image"`
	LoadSize      uint16 `yaml:"load_size"`
	BootInfoTable bool   `yaml:"boot_info_table"`
}

type fileEntry struct {
	Path   string `yaml:"path"`
	Source string `yaml:"source"`
	Dir    bool   `yaml:"dir"`
}

func loadManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}

// buildTree adds every manifest entry to a fresh tree, opening each source file as it goes.
// The returned closers must be closed by the caller once Format has finished reading them.
func buildTree(m *manifest) (*tree.Tree, []io.Closer, error) {
	files := tree.New()
	var closers []io.Closer

	for _, e := range m.Files {
		if e.Dir {
			if _, err := files.AddDirectory(e.Path); err != nil {
				return nil, closers, fmt.Errorf("adding directory %s: %w", e.Path, err)
			}
			continue
		}

		f, err := os.Open(e.Source)
		if err != nil {
			return nil, closers, fmt.Errorf("opening %s: %w", e.Source, err)
		}
		closers = append(closers, f)

		info, err := f.Stat()
		if err != nil {
			return nil, closers, fmt.Errorf("stating %s: %w", e.Source, err)
		}

		if _, err := files.AddFile(e.Path, info.Size(), f); err != nil {
			return nil, closers, fmt.Errorf("adding file %s: %w", e.Path, err)
		}
	}

	return files, closers, nil
}

// estimateSectors returns a conservative (over-)estimate of the number of 2048-byte sectors the
// formatted image will need: every file's data rounded up to a whole sector, four sectors per
// directory's initial extent, and a fixed overhead for the system area, volume descriptors, path
// tables, and (if requested) the El Torito boot catalogue.
func estimateSectors(files *tree.Tree, m *manifest) uint32 {
	const overhead = 32 // system area, PVD, terminator, L/M path tables, slack
	sectors := uint32(overhead)

	_ = files.WalkFilesByDepthAscending(func(n *tree.Node) error {
		sectors += uint32((n.Size + consts.ISO9660_SECTOR_SIZE - 1) / consts.ISO9660_SECTOR_SIZE)
		return nil
	})
	_ = files.WalkDirectoriesPostOrder(func(n *tree.Node) error {
		sectors += 4 // headroom for larger directory extents
		return nil
	})

	if m.ElTorito != nil {
		sectors += 1 // boot catalogue sector
	}
	return sectors
}

func main() {
	u := usage.NewUsage(
		usage.WithApplicationName("isocreate"),
		usage.WithApplicationDescription("isocreate builds an ISO 9660 image from a YAML manifest describing its file tree and optional El Torito/protective-MBR settings."),
	)

	help := u.AddBooleanOption("h", "help", false, "Show this help message", "optional", nil)
	manifestPath := u.AddArgument(1, "manifest", "Path to the YAML build manifest", "")
	outputPath := u.AddArgument(2, "output", "Path of the ISO image to create", "")
	parsed := u.Parse()

	if !parsed {
		u.PrintError(fmt.Errorf("failed to parse arguments"))
		os.Exit(1)
	}
	if *help {
		u.PrintUsage()
		os.Exit(0)
	}
	if manifestPath == nil || *manifestPath == "" || outputPath == nil || *outputPath == "" {
		u.PrintError(fmt.Errorf("both <manifest> and <output> must be provided"))
		os.Exit(1)
	}

	m, err := loadManifest(*manifestPath)
	if err != nil {
		u.PrintError(err)
		os.Exit(1)
	}

	files, closers, err := buildTree(m)
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	if err != nil {
		u.PrintError(err)
		os.Exit(1)
	}

	out, err := os.Create(*outputPath)
	if err != nil {
		u.PrintError(err)
		os.Exit(1)
	}
	defer out.Close()

	sectors := estimateSectors(files, m)
	if err := out.Truncate(int64(sectors) * consts.ISO9660_SECTOR_SIZE); err != nil {
		u.PrintError(fmt.Errorf("pre-sizing output: %w", err))
		os.Exit(1)
	}

	options := iso9660kit.Options{
		Files:            files,
		VolumeIdentifier: m.VolumeIdentifier,
		ProtectiveMBR:    m.ProtectiveMBR,
	}
	if m.ElTorito != nil {
		options.ElTorito = &iso9660kit.ElToritoSpec{
			BootImagePath: m.ElTorito.BootImage,
			LoadSize:      m.ElTorito.LoadSize,
			BootInfoTable: m.ElTorito.BootInfoTable,
		}
	}

	spinner := newBuildSpinner()
	err = iso9660kit.Format(out, options)
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		u.PrintError(fmt.Errorf("failed to format image: %w", err))
		os.Exit(1)
	}

	fmt.Printf("Created '%s' from manifest '%s'.\n", *outputPath, *manifestPath)
}
