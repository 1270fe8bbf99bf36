// Package iso9660kit creates and reads ISO 9660 optical-disc images, with optional El Torito
// boot extensions and an optional protective MBR for hybrid BIOS/UEFI media. Format builds an
// image onto a pre-sized sink; Open parses an existing one back into a navigable handle.
package iso9660kit

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/go-logr/logr"

	"github.com/discimage/iso9660kit/pkg/consts"
	"github.com/discimage/iso9660kit/pkg/iso9660/boot"
	"github.com/discimage/iso9660kit/pkg/iso9660/descriptor"
	"github.com/discimage/iso9660kit/pkg/iso9660/directory"
	"github.com/discimage/iso9660kit/pkg/iso9660/errs"
	"github.com/discimage/iso9660kit/pkg/iso9660/extent"
	"github.com/discimage/iso9660kit/pkg/iso9660/format"
	"github.com/discimage/iso9660kit/pkg/iso9660/info"
	"github.com/discimage/iso9660kit/pkg/iso9660/parser"
	"github.com/discimage/iso9660kit/pkg/iso9660/pathtable"
	"github.com/discimage/iso9660kit/pkg/logging"
)

// Re-exported so callers can classify failures with errors.Is(err, iso9660kit.NotFound) without
// importing the errs package directly.
type (
	Error = errs.Error
	Kind  = errs.Kind
)

var (
	IOFailed          = errs.IOFailed
	InvalidCharacter  = errs.InvalidCharacter
	IdentifierTooLong = errs.IdentifierTooLong
	BootImageNotFound = errs.BootImageNotFound
	SinkTooSmall      = errs.SinkTooSmall
	CorruptImage      = errs.CorruptImage
	NotFound          = errs.NotFound
)

// Options and Option are the formatter's configuration, re-exported so callers need not import
// pkg/iso9660/format directly for the common path.
type (
	Options      = format.Options
	ElToritoSpec = format.ElToritoSpec
	FormatOption = format.Option
)

// WithFormatLogger attaches a logr.Logger to a Format call.
func WithFormatLogger(log logr.Logger) FormatOption {
	return format.WithLogger(log)
}

// Format writes a complete ISO 9660 image (with optional El Torito and protective MBR, per
// options) onto sink, which must already be sized to a whole number of 2048-byte sectors large
// enough to hold the result. Sink content beyond the written extent is left untouched.
func Format(sink io.ReadWriteSeeker, options Options, opts ...FormatOption) error {
	return format.Format(sink, options, opts...)
}

// config holds Open's options.
type config struct {
	logger logr.Logger
	strict bool
}

// OpenOption configures an Open call.
type OpenOption func(*config)

// WithLogger attaches a logr.Logger to an Open call.
func WithLogger(log logr.Logger) OpenOption {
	return func(c *config) { c.logger = log }
}

// WithStrict records a strictness flag that Open does not consult: Open rejects a mismatched
// LE/BE dual encoding (volume space size, path table size, directory record location/length) as
// CorruptImage whatever the flag's value, and has no mode that prefers the little-endian copy.
func WithStrict(strict bool) OpenOption {
	return func(c *config) { c.strict = strict }
}

// readerAtSeeker adapts an io.ReadSeeker without a native ReadAt into an io.ReaderAt by
// serializing access behind a mutex. Most real sinks (os.File) already implement ReaderAt
// directly and bypass this adapter.
type readerAtSeeker struct {
	mu sync.Mutex
	rs io.ReadSeeker
}

func (r *readerAtSeeker) ReadAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.rs.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(r.rs, p)
}

func asReaderAt(source io.ReadSeeker) io.ReaderAt {
	if ra, ok := source.(io.ReaderAt); ok {
		return ra
	}
	return &readerAtSeeker{rs: source}
}

// Image is a parsed ISO 9660 image, ready to be navigated from its root directory or its path
// table.
type Image struct {
	reader     io.ReaderAt
	pvd        *descriptor.PrimaryVolumeDescriptor
	bootRecord *descriptor.BootRecordDescriptor // nil if the image has no El Torito boot record
	parser     *parser.Parser
	cfg        *config
}

// Open parses the Volume Descriptor Set at the head of source and returns a navigable Image.
// source must already contain a complete, valid ISO 9660 image.
func Open(source io.ReadSeeker, opts ...OpenOption) (*Image, error) {
	cfg := &config{logger: logr.Discard()}
	for _, opt := range opts {
		opt(cfg)
	}

	reader := asReaderAt(source)
	p := parser.NewParser(reader, logging.NewLogger(cfg.logger))

	pvd, err := p.GetPrimaryVolumeDescriptor()
	if err != nil {
		return nil, errs.New("iso9660kit.Open", errs.KindCorruptImage, err)
	}

	// A missing boot record is the ordinary case for an image with no El Torito extension: the
	// parser signals it by reaching the terminator without finding one, which is not an error
	// condition at this level.
	bootRecord, err := p.GetBootRecord()
	if err != nil {
		bootRecord = nil
	}

	return &Image{
		reader:     reader,
		pvd:        pvd,
		bootRecord: bootRecord,
		parser:     p,
		cfg:        cfg,
	}, nil
}

// HasElTorito reports whether the image carries an El Torito boot record.
func (img *Image) HasElTorito() bool {
	return img.bootRecord != nil
}

// BootCatalog parses and returns the image's El Torito boot catalogue: the default entry as
// Entries[0] and the entries of any further platform sections as Entries[1:]; the validation
// entry is checked and its platform copied onto Entries[0], but it is not an element of Entries. It
// returns NotFound if the image carries no El Torito boot record.
func (img *Image) BootCatalog() (*boot.ElTorito, error) {
	if img.bootRecord == nil {
		return nil, errs.New("Image.BootCatalog", errs.KindNotFound, nil)
	}
	catalog, err := img.parser.GetBootCatalog(img.bootRecord)
	if err != nil {
		return nil, errs.New("Image.BootCatalog", errs.KindCorruptImage, err)
	}
	return catalog, nil
}

// VolumeIdentifier returns the image's Primary Volume Descriptor volume identifier.
func (img *Image) VolumeIdentifier() string {
	return img.pvd.VolumeIdentifier()
}

// VolumeSpaceSize returns the image's size in 2048-byte logical blocks.
func (img *Image) VolumeSpaceSize() uint32 {
	return img.pvd.VolumeSpaceSize
}

// RootDirectory returns a handle to the image's root directory.
func (img *Image) RootDirectory() (*Directory, error) {
	record := img.pvd.RootDirectory()
	if record == nil {
		return nil, errs.New("Image.RootDirectory", errs.KindCorruptImage, nil)
	}
	return &Directory{img: img, record: record}, nil
}

// Layout walks the image's Volume Descriptor Set, path tables, and directory tree and returns an
// info.ISOLayout describing where every structure sits on disk, in the physical order this
// library always writes them: system area, Primary Volume Descriptor at sector 16, an optional
// Boot Record at sector 17, the terminator, then the L/M path tables and the boot catalogue.
func (img *Image) Layout() (*info.ISOLayout, error) {
	layout := info.NewISOLayout()
	layout.SystemAreaOffset = 0
	layout.SystemAreaLength = consts.ISO9660_SYSTEM_AREA_SECTORS * consts.ISO9660_SECTOR_SIZE

	descLBA := consts.ISO9660_SYSTEM_AREA_SECTORS
	layout.AddVolumeDescriptor("Primary Volume Descriptor", int(img.pvd.Version()), int(descLBA)*consts.ISO9660_SECTOR_SIZE, consts.ISO9660_SECTOR_SIZE)
	descLBA++

	if img.bootRecord != nil {
		layout.AddVolumeDescriptor("Boot Record ("+img.bootRecord.BootSystemIdentifier+")", int(img.bootRecord.Version()), int(descLBA)*consts.ISO9660_SECTOR_SIZE, consts.ISO9660_SECTOR_SIZE)
		descLBA++

		catalogLBA := binary.LittleEndian.Uint32(img.bootRecord.BootRecordBody.BootSystemUse[0:4])
		layout.BootCatalogSystem = img.bootRecord.BootSystemIdentifier
		layout.BootCatalogOffset = int(catalogLBA) * consts.ISO9660_SECTOR_SIZE
		layout.BootCatalogLength = consts.ISO9660_SECTOR_SIZE
	}
	layout.AddVolumeDescriptor("Volume Descriptor Set Terminator", 1, int(descLBA)*consts.ISO9660_SECTOR_SIZE, consts.ISO9660_SECTOR_SIZE)

	layout.AddPathTable("L-Table", int(img.pvd.LocationOfTypeLPathTable)*consts.ISO9660_SECTOR_SIZE, int(img.pvd.PathTableSize), "little-endian")
	layout.AddPathTable("M-Table", int(img.pvd.LocationOfTypeMPathTable)*consts.ISO9660_SECTOR_SIZE, int(img.pvd.PathTableSize), "big-endian")

	root, err := img.RootDirectory()
	if err != nil {
		return nil, err
	}
	if err := img.walkLayout(layout, root, "/"); err != nil {
		return nil, err
	}
	return layout, nil
}

// walkLayout records dir's own extent and each of its entries into layout, recursing into
// subdirectories.
func (img *Image) walkLayout(layout *info.ISOLayout, dir *Directory, path string) error {
	layout.AddDirectoryExtent(path, int(dir.record.LocationOfExtent)*consts.ISO9660_SECTOR_SIZE, int(dir.record.DataLength))

	entries, err := dir.Entries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Record.IsSpecial() {
			continue
		}
		name := e.Record.GetBestName()
		absOffset := int(dir.record.LocationOfExtent)*consts.ISO9660_SECTOR_SIZE + e.Offset
		layout.AddDirectoryRecord(name, path, absOffset, int(e.Record.LocationOfExtent), int(e.Record.DataLength), e.Record.IsDirectory())

		if e.Record.IsDirectory() {
			sub, err := dir.Find(name)
			if err != nil {
				return err
			}
			if err := img.walkLayout(layout, sub, path+name+"/"); err != nil {
				return err
			}
		}
	}
	return nil
}

// PathTableEntry is one record of the path table matching the host's native endianness.
type PathTableEntry struct {
	Length       uint8
	ExtendedAttr uint8
	Location     uint32
	ParentIndex  uint16
	ParentLBA    uint32
	Name         string
}

// PathTable returns every entry of the path table matching the host's endianness (the L-table
// on a little-endian host, the M-table on a big-endian one), in on-disk order.
func (img *Image) PathTable() ([]PathTableEntry, error) {
	littleEndian := isLittleEndianHost()
	location := img.pvd.LocationOfTypeLPathTable
	if !littleEndian {
		location = img.pvd.LocationOfTypeMPathTable
	}

	pt, err := pathtable.ReadPathTable(img.reader, location, int(img.pvd.PathTableSize), "image", littleEndian)
	if err != nil {
		return nil, errs.New("Image.PathTable", errs.KindCorruptImage, err)
	}

	entries := make([]PathTableEntry, len(pt.Records))
	for i, r := range pt.Records {
		parentLBA := uint32(0)
		if idx := int(r.ParentDirectoryNumber) - 1; idx >= 0 && idx < len(pt.Records) {
			parentLBA = pt.Records[idx].LocationOfExtent
		}
		entries[i] = PathTableEntry{
			Length:       r.LengthOfDirectoryIdentifier,
			ExtendedAttr: r.ExtendedAttributeRecordLength,
			Location:     r.LocationOfExtent,
			ParentIndex:  r.ParentDirectoryNumber,
			ParentLBA:    parentLBA,
			Name:         r.DirectoryIdentifier,
		}
	}
	return entries, nil
}

func isLittleEndianHost() bool {
	var buf [2]byte
	binary.NativeEndian.PutUint16(buf[:], 1)
	return buf[0] == 1
}

// Directory is a handle to one directory within an opened Image.
type Directory struct {
	img    *Image
	record *directory.DirectoryRecord
}

// DirectoryEntry pairs a parsed record with its byte offset within the directory's extent.
type DirectoryEntry struct {
	Offset int
	Record *directory.DirectoryRecord
}

// Entries returns every record in the directory, including the synthetic "." and ".." entries,
// each paired with its byte offset within the directory's extent.
func (d *Directory) Entries() ([]DirectoryEntry, error) {
	numSectors := (d.record.DataLength + consts.ISO9660_SECTOR_SIZE - 1) / consts.ISO9660_SECTOR_SIZE
	var entries []DirectoryEntry

	for s := uint32(0); s < numSectors; s++ {
		base := int64(d.record.LocationOfExtent+s) * consts.ISO9660_SECTOR_SIZE
		buf := make([]byte, consts.ISO9660_SECTOR_SIZE)
		if _, err := d.img.reader.ReadAt(buf, base); err != nil {
			return nil, errs.New("Directory.Entries", errs.KindIOFailed, err)
		}

		offset := 0
		for offset < len(buf) {
			length := buf[offset]
			if length == 0 {
				break // padding to the end of this sector
			}
			if offset+int(length) > len(buf) {
				return nil, errs.New("Directory.Entries", errs.KindCorruptImage, nil)
			}

			rec := &directory.DirectoryRecord{}
			if err := rec.Unmarshal(buf[offset : offset+int(length)]); err != nil {
				return nil, errs.New("Directory.Entries", errs.KindCorruptImage, err)
			}
			entries = append(entries, DirectoryEntry{
				Offset: int(s)*consts.ISO9660_SECTOR_SIZE + offset,
				Record: rec,
			})
			offset += int(length)
		}
	}

	return entries, nil
}

// Find looks up name among the directory's immediate children (matched against
// DirectoryRecord.GetBestName, so the file's version suffix need not be included) and returns a
// handle to it. name must identify a subdirectory, not a file.
func (d *Directory) Find(name string) (*Directory, error) {
	entries, err := d.Entries()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Record.IsSpecial() {
			continue
		}
		if e.Record.IsDirectory() && e.Record.GetBestName() == name {
			return &Directory{img: d.img, record: e.Record}, nil
		}
	}
	return nil, errs.New("Directory.Find", errs.KindNotFound, nil)
}

// ReadFile returns the full contents of the file named name within this directory.
func (d *Directory) ReadFile(name string) ([]byte, error) {
	entries, err := d.Entries()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Record.IsSpecial() || e.Record.IsDirectory() {
			continue
		}
		if e.Record.GetBestName() != name {
			continue
		}
		fe := extent.FileExtent{
			FileIdentifier: name,
			LocationOfFile: e.Record.LocationOfExtent,
			SizeOfFile:     e.Record.DataLength,
			Reader:         d.img.reader,
		}
		data, err := fe.Marshal()
		if err != nil {
			return nil, errs.New("Directory.ReadFile", errs.KindIOFailed, err)
		}
		return data, nil
	}
	return nil, errs.New("Directory.ReadFile", errs.KindNotFound, nil)
}
