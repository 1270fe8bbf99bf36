package format

import (
	"github.com/go-logr/logr"

	"github.com/discimage/iso9660kit/pkg/iso9660/tree"
	"github.com/discimage/iso9660kit/pkg/logging"
)

// ElToritoSpec describes the single El Torito boot entry this formatter is willing to emit: one
// no-emulation default entry for the BIOS platform. Hybrid BIOS/UEFI media is produced by pairing
// this with Options.ProtectiveMBR rather than by adding further El Torito sections.
type ElToritoSpec struct {
	// BootImagePath names a file already present in Files, by its tree path, to use as the boot
	// image.
	BootImagePath string
	// LoadSize is the number of 512-byte sectors the firmware is told to load from the boot image
	// at boot time; it need not equal the image's own size.
	LoadSize uint16
	// BootInfoTable requests that a 56-byte Boot Info Table be patched into the boot image at
	// byte offset 8 once its placement is known.
	BootInfoTable bool
}

// Options configures a single call to Format.
type Options struct {
	// Files is the tree of directories and files to lay out on the image.
	Files *tree.Tree
	// VolumeIdentifier names the volume in the Primary Volume Descriptor (d-characters, at most
	// 32 bytes). Empty is a valid, if uninformative, volume identifier.
	VolumeIdentifier string
	// ProtectiveMBR requests a protective MBR at sector 0, for hybrid BIOS/UEFI boot media.
	ProtectiveMBR bool
	// ElTorito requests El Torito boot extensions; nil omits them entirely.
	ElTorito *ElToritoSpec
}

type config struct {
	logger *logging.Logger
}

// Option adjusts ambient behavior not carried by Options itself.
type Option func(*config)

// WithLogger attaches a logr.Logger; Format logs at the boundary of each placement pass.
// The default is a discarding logger.
func WithLogger(log logr.Logger) Option {
	return func(c *config) { c.logger = logging.NewLogger(log) }
}

func newConfig(opts []Option) *config {
	c := &config{logger: logging.DefaultLogger()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
