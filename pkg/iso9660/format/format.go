// Package format lays an in-memory tree of files and directories out onto a seekable sink as an
// ISO9660 image, with optional El Torito boot extensions and a protective MBR for hybrid
// BIOS/UEFI media.
//
// The sink is pre-sized by the caller. Format checks only that it can hold the system area and
// the descriptor set; writes beyond its end are passed to the sink as they are, so a sink that
// grows on write (such as an *os.File) is extended, and a write the sink refuses is reported as
// errs.IOFailed. Placement proceeds in a single
// forward pass with one targeted backpatch: sizes and locations that a later structure needs are
// not known until the structure they describe has itself been written, so every directory's
// self/parent entries are corrected once the whole tree's layout is known.
package format

import (
	"encoding/binary"
	"fmt"
	"io"
	gostrings "strings"
	"time"

	"github.com/discimage/iso9660kit/pkg/consts"
	"github.com/discimage/iso9660kit/pkg/iso9660/boot"
	"github.com/discimage/iso9660kit/pkg/iso9660/descriptor"
	"github.com/discimage/iso9660kit/pkg/iso9660/directory"
	"github.com/discimage/iso9660kit/pkg/iso9660/errs"
	"github.com/discimage/iso9660kit/pkg/iso9660/pathtable"
	isostrings "github.com/discimage/iso9660kit/pkg/iso9660/strings"
	"github.com/discimage/iso9660kit/pkg/iso9660/systemarea"
	"github.com/discimage/iso9660kit/pkg/iso9660/tree"
)

const op = "format.Format"

// placement records where on the sink a file or directory's extent begins and how many bytes it
// occupies.
type placement struct {
	lba  uint32
	size uint32
}

// Format lays options.Files out onto sink as a complete ISO9660 image. sink's current length is
// taken as the total size of the image and must be a whole number of sectors (otherwise Format
// returns an errs.IOFailed error); Format returns errs.SinkTooSmall if that length cannot hold
// the system area and the descriptor set alone. Later writes are not checked against the length.
func Format(sink io.ReadWriteSeeker, options Options, opts ...Option) error {
	cfg := newConfig(opts)
	log := cfg.logger

	if options.Files == nil {
		return errs.New(op, errs.KindCorruptImage, fmt.Errorf("options.Files is nil"))
	}
	volumeIdentifier, err := isostrings.NewDString(op, options.VolumeIdentifier, 32)
	if err != nil {
		return err
	}

	totalSectors, err := sinkSectors(sink)
	if err != nil {
		return errs.New(op, errs.KindIOFailed, err)
	}

	buildTime := time.Now().UTC()

	descriptorCount := uint32(2) // PVD + terminator
	if options.ElTorito != nil {
		descriptorCount++ // + boot record
	}
	nextLBA := uint32(consts.ISO9660_SYSTEM_AREA_SECTORS) + descriptorCount
	if uint64(nextLBA) > totalSectors {
		return errs.New(op, errs.KindSinkTooSmall, fmt.Errorf("sink holds %d sectors, need at least %d for the system area and descriptor set", totalSectors, nextLBA))
	}

	// Step 1: optional protective MBR.
	if options.ProtectiveMBR {
		log.Debug("writing protective mbr")
		mbr := systemarea.NewProtectiveMBR(uint32(totalSectors)).Marshal()
		if err := writeAt(sink, 0, mbr[:]); err != nil {
			return errs.New(op, errs.KindIOFailed, err)
		}
	}

	// Step 4: file-data pass, ascending depth.
	log.Debug("placing file data")
	files := make(map[*tree.Node]placement)
	if err := options.Files.WalkFilesByDepthAscending(func(n *tree.Node) error {
		lba := nextLBA
		sectors := sectorsFor(n.Size)
		if n.Size > 0 {
			content := make([]byte, n.Size)
			if n.Reader == nil {
				return errs.New(op, errs.KindIOFailed, fmt.Errorf("file %q has no content reader", n.Path()))
			}
			if _, err := n.Reader.ReadAt(content, 0); err != nil && err != io.EOF {
				return errs.New(op, errs.KindIOFailed, err)
			}
			if err := writeAt(sink, int64(lba)*consts.ISO9660_SECTOR_SIZE, padToSector(content)); err != nil {
				return errs.New(op, errs.KindIOFailed, err)
			}
		}
		files[n] = placement{lba: lba, size: uint32(n.Size)}
		nextLBA += sectors
		return nil
	}); err != nil {
		return err
	}

	// Step 5: directory-data pass, leaves first, followed by step 6's backpatch once every
	// directory's own placement is known.
	log.Debug("placing directory data")
	dirs := make(map[*tree.Node]placement)
	if err := options.Files.WalkDirectoriesPostOrder(func(n *tree.Node) error {
		entries, err := buildDirEntries(n)
		if err != nil {
			return err
		}
		size := computeDirectorySize(entries)
		lba := nextLBA
		dirs[n] = placement{lba: lba, size: size}
		nextLBA += sectorsFor(int64(size))
		return writeDirectoryExtent(sink, n, entries, dirs, files, buildTime)
	}); err != nil {
		return err
	}

	// Step 6: directory backpatch. Every directory but the root was written before its parent's
	// placement was known, so its ".." entry (and the root's own first pass, harmlessly) is wrong
	// until rewritten now that dirs holds every node's final placement.
	log.Debug("backpatching directory self/parent entries")
	for _, n := range options.Files.Directories() {
		if n.Parent() == nil {
			continue
		}
		entries, err := buildDirEntries(n)
		if err != nil {
			return err
		}
		if err := writeDirectoryExtent(sink, n, entries, dirs, files, buildTime); err != nil {
			return err
		}
	}

	root := options.Files.Root
	rootPlacement := dirs[root]

	// Step 7: path-table pass, root-first breadth-first ("ascending depth") order.
	log.Debug("building path tables")
	dirList := options.Files.Directories()
	indices := make(map[*tree.Node]uint16, len(dirList))
	for i, n := range dirList {
		indices[n] = uint16(i + 1)
	}

	lTable := pathtable.NewPathTable(true)
	mTable := pathtable.NewPathTable(false)
	for _, n := range dirList {
		identifier := "\x00"
		parentIdx := uint16(1)
		if n.Parent() != nil {
			id, err := buildDirectoryIdentifier(n.Name)
			if err != nil {
				return err
			}
			identifier = id
			parentIdx = indices[n.Parent()]
		}
		p := dirs[n]
		lTable.AddRecord(pathtable.NewPathTableRecord(identifier, p.lba, parentIdx, true))
		mTable.AddRecord(pathtable.NewPathTableRecord(identifier, p.lba, parentIdx, false))
	}

	lBytes, err := lTable.Marshal()
	if err != nil {
		return errs.New(op, errs.KindIOFailed, err)
	}
	mBytes, err := mTable.Marshal()
	if err != nil {
		return errs.New(op, errs.KindIOFailed, err)
	}
	if len(lBytes) != len(mBytes) {
		return errs.New(op, errs.KindCorruptImage, fmt.Errorf("type L path table is %d bytes, type M is %d", len(lBytes), len(mBytes)))
	}
	pathTableSize := uint32(len(lBytes))

	lLBA := nextLBA
	if err := writeAt(sink, int64(lLBA)*consts.ISO9660_SECTOR_SIZE, padToSector(lBytes)); err != nil {
		return errs.New(op, errs.KindIOFailed, err)
	}
	nextLBA += sectorsFor(int64(len(lBytes)))

	mLBA := nextLBA
	if err := writeAt(sink, int64(mLBA)*consts.ISO9660_SECTOR_SIZE, padToSector(mBytes)); err != nil {
		return errs.New(op, errs.KindIOFailed, err)
	}
	nextLBA += sectorsFor(int64(len(mBytes)))

	// Step 8: boot catalogue and, if requested, the Boot Info Table patch.
	var bootRecord *descriptor.BootRecordDescriptor
	if options.ElTorito != nil {
		log.Debug("placing el torito boot catalog", "bootImage", options.ElTorito.BootImagePath)
		bootRecord, err = placeElTorito(sink, options.Files, options.ElTorito, files, &nextLBA, consts.ISO9660_SYSTEM_AREA_SECTORS)
		if err != nil {
			return err
		}
	}

	// Step 9: descriptor fill-in.
	log.Debug("writing volume descriptors")
	pvd := &descriptor.PrimaryVolumeDescriptor{
		VolumeDescriptorHeader: descriptor.VolumeDescriptorHeader{
			VolumeDescriptorType:    descriptor.TYPE_PRIMARY_DESCRIPTOR,
			StandardIdentifier:      consts.ISO9660_STD_IDENTIFIER,
			VolumeDescriptorVersion: consts.ISO9660_VOLUME_DESC_VERSION,
		},
		PrimaryVolumeDescriptorBody: descriptor.PrimaryVolumeDescriptorBody{
			VolumeIdentifier:              string(volumeIdentifier),
			VolumeSpaceSize:               uint32(totalSectors),
			VolumeSetSize:                 1,
			VolumeSequenceNumber:          1,
			LogicalBlockSize:              consts.ISO9660_SECTOR_SIZE,
			PathTableSize:                 pathTableSize,
			LocationOfTypeLPathTable:      lLBA,
			LocationOfTypeMPathTable:      mLBA,
			RootDirectoryRecord: &directory.DirectoryRecord{
				LocationOfExtent:     rootPlacement.lba,
				DataLength:           rootPlacement.size,
				RecordingDateAndTime: buildTime,
				FileFlags:            directory.FileFlags{Directory: true},
				FileIdentifier:       "\x00",
			},
			VolumeCreationDateAndTime:     buildTime,
			VolumeModificationDateAndTime: buildTime,
			FileStructureVersion:          1,
		},
	}

	pvdBytes, err := pvd.Marshal()
	if err != nil {
		return errs.New(op, errs.KindIOFailed, err)
	}

	descLBA := consts.ISO9660_SYSTEM_AREA_SECTORS
	if err := writeAt(sink, int64(descLBA)*consts.ISO9660_SECTOR_SIZE, pvdBytes[:]); err != nil {
		return errs.New(op, errs.KindIOFailed, err)
	}
	descLBA++

	if bootRecord != nil {
		brBytes, err := bootRecord.Marshal()
		if err != nil {
			return errs.New(op, errs.KindIOFailed, err)
		}
		if err := writeAt(sink, int64(descLBA)*consts.ISO9660_SECTOR_SIZE, brBytes[:]); err != nil {
			return errs.New(op, errs.KindIOFailed, err)
		}
		descLBA++
	}

	term := descriptor.NewVolumeDescriptorSetTerminator()
	termBytes, err := term.Marshal()
	if err != nil {
		return errs.New(op, errs.KindIOFailed, err)
	}
	if err := writeAt(sink, int64(descLBA)*consts.ISO9660_SECTOR_SIZE, termBytes[:]); err != nil {
		return errs.New(op, errs.KindIOFailed, err)
	}

	log.Debug("format complete", "totalSectors", totalSectors)
	return nil
}

func placeElTorito(sink io.ReadWriteSeeker, files *tree.Tree, spec *ElToritoSpec, placed map[*tree.Node]placement, nextLBA *uint32, pvdLBA uint32) (*descriptor.BootRecordDescriptor, error) {
	node, ok := files.Find(spec.BootImagePath)
	if !ok || node.IsDir {
		return nil, errs.New(op, errs.KindBootImageNotFound, fmt.Errorf("%q not found in the tree", spec.BootImagePath))
	}
	fp, ok := placed[node]
	if !ok {
		return nil, errs.New(op, errs.KindBootImageNotFound, fmt.Errorf("%q has no recorded placement", spec.BootImagePath))
	}

	if spec.BootInfoTable {
		img := make([]byte, fp.size)
		if _, err := node.Reader.ReadAt(img, 0); err != nil && err != io.EOF {
			return nil, errs.New(op, errs.KindIOFailed, err)
		}
		if err := boot.PatchBootInfoTable(img, pvdLBA, fp.lba); err != nil {
			return nil, errs.New(op, errs.KindIOFailed, err)
		}
		if err := writeAt(sink, int64(fp.lba)*consts.ISO9660_SECTOR_SIZE, img); err != nil {
			return nil, errs.New(op, errs.KindIOFailed, err)
		}
	}

	entry := &boot.ElToritoEntry{
		Platform:      boot.BIOS,
		Emulation:     boot.NoEmulation,
		BootFile:      spec.BootImagePath,
		PartitionType: boot.Empty,
		BootInfoTable: spec.BootInfoTable,
		SectorCount:   spec.LoadSize,
	}
	entry.SetLocation(fp.lba)

	catalog := &boot.ElTorito{
		BootCatalog: "ISO9660KIT",
		Entries:     []*boot.ElToritoEntry{entry},
	}
	encoded, err := catalog.Marshal()
	if err != nil {
		return nil, errs.New(op, errs.KindIOFailed, err)
	}

	catalogLBA := *nextLBA
	if err := writeAt(sink, int64(catalogLBA)*consts.ISO9660_SECTOR_SIZE, encoded); err != nil {
		return nil, errs.New(op, errs.KindIOFailed, err)
	}
	*nextLBA++

	bootRecord := &descriptor.BootRecordDescriptor{
		VolumeDescriptorHeader: descriptor.VolumeDescriptorHeader{
			VolumeDescriptorType:    descriptor.TYPE_BOOT_RECORD,
			StandardIdentifier:      consts.ISO9660_STD_IDENTIFIER,
			VolumeDescriptorVersion: consts.ISO9660_VOLUME_DESC_VERSION,
		},
		BootRecordBody: descriptor.BootRecordBody{
			BootSystemIdentifier: consts.EL_TORITO_BOOT_SYSTEM_ID,
		},
	}
	binary.LittleEndian.PutUint32(bootRecord.BootRecordBody.BootSystemUse[0:4], catalogLBA)
	return bootRecord, nil
}

// dirEntry is one record (self, parent, or a named child) awaiting placement in a directory's
// extent.
type dirEntry struct {
	identifier string
	isDir      bool
	child      *tree.Node // nil for "." and ".."
}

// buildDirEntries returns n's on-disk record list in order: "." , "..", then one entry per child
// in the tree package's deterministic name order.
func buildDirEntries(n *tree.Node) ([]dirEntry, error) {
	entries := []dirEntry{
		{identifier: "\x00", isDir: true},
		{identifier: "\x01", isDir: true},
	}
	for _, c := range n.SortedChildren() {
		var id string
		var err error
		if c.IsDir {
			id, err = buildDirectoryIdentifier(c.Name)
		} else {
			id, err = buildFileIdentifier(c.Name)
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, dirEntry{identifier: id, isDir: c.IsDir, child: c})
	}
	return entries, nil
}

// recordLength returns the even-padded byte length a directory record with the given identifier
// will occupy, independent of the values its location/size/time fields carry.
func recordLength(identifier string) int {
	length := 33 + len(identifier)
	if length%2 != 0 {
		length++
	}
	return length
}

// computeDirectorySize returns the sector-aligned byte size entries will occupy once packed,
// honoring the rule that no directory record may span a sector boundary.
func computeDirectorySize(entries []dirEntry) uint32 {
	offset := 0
	for _, e := range entries {
		recLen := recordLength(e.identifier)
		if within := offset % consts.ISO9660_SECTOR_SIZE; within+recLen > consts.ISO9660_SECTOR_SIZE {
			offset += consts.ISO9660_SECTOR_SIZE - within
		}
		offset += recLen
	}
	if rem := offset % consts.ISO9660_SECTOR_SIZE; rem != 0 {
		offset += consts.ISO9660_SECTOR_SIZE - rem
	}
	return uint32(offset)
}

// writeDirectoryExtent encodes n's directory records, resolving each entry's location/size from
// dirs/files (falling back to zero for a parent not yet placed, corrected by the later backpatch
// pass), and writes the result at n's already-reserved extent.
func writeDirectoryExtent(sink io.ReadWriteSeeker, n *tree.Node, entries []dirEntry, dirs, files map[*tree.Node]placement, recTime time.Time) error {
	self := dirs[n]

	resolve := func(e dirEntry) (uint32, uint32) {
		switch {
		case e.identifier == "\x00":
			return self.lba, self.size
		case e.identifier == "\x01":
			if n.Parent() == nil {
				return self.lba, self.size
			}
			p := dirs[n.Parent()]
			return p.lba, p.size
		case e.child.IsDir:
			p := dirs[e.child]
			return p.lba, p.size
		default:
			f := files[e.child]
			return f.lba, f.size
		}
	}

	data, err := encodeDirectory(entries, resolve, recTime)
	if err != nil {
		return err
	}
	return writeAt(sink, int64(self.lba)*consts.ISO9660_SECTOR_SIZE, data)
}

// encodeDirectory packs entries into their sector-aligned on-disk byte stream, resolving each
// entry's location/size via resolve.
func encodeDirectory(entries []dirEntry, resolve func(dirEntry) (uint32, uint32), recTime time.Time) ([]byte, error) {
	var buf []byte
	offset := 0
	for _, e := range entries {
		recLen := recordLength(e.identifier)
		if within := offset % consts.ISO9660_SECTOR_SIZE; within+recLen > consts.ISO9660_SECTOR_SIZE {
			pad := consts.ISO9660_SECTOR_SIZE - within
			buf = append(buf, make([]byte, pad)...)
			offset += pad
		}
		loc, size := resolve(e)
		rec := &directory.DirectoryRecord{
			LocationOfExtent:     loc,
			DataLength:           size,
			RecordingDateAndTime: recTime,
			FileFlags:            directory.FileFlags{Directory: e.isDir},
			VolumeSequenceNumber: 1,
			FileIdentifier:       e.identifier,
		}
		encoded, err := rec.Marshal()
		if err != nil {
			return nil, errs.New(op, errs.KindIOFailed, err)
		}
		if len(encoded) != recLen {
			return nil, errs.New(op, errs.KindCorruptImage, fmt.Errorf("directory record for %q marshaled to %d bytes, expected %d", e.identifier, len(encoded), recLen))
		}
		buf = append(buf, encoded...)
		offset += recLen
	}
	if rem := offset % consts.ISO9660_SECTOR_SIZE; rem != 0 {
		buf = append(buf, make([]byte, consts.ISO9660_SECTOR_SIZE-rem)...)
	}
	return buf, nil
}

// buildDirectoryIdentifier validates name against the Level 1 directory-identifier grammar (bare
// d-characters, at most 8 of them).
func buildDirectoryIdentifier(name string) (string, error) {
	id, err := isostrings.NewDirectoryIdentifier(op, name)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// buildFileIdentifier validates name's base/extension against the Level 1 file-identifier grammar
// and appends the mandatory SEPARATOR_2 version suffix (always version 1; this library never
// writes multiple versions of a file).
func buildFileIdentifier(name string) (string, error) {
	base, ext := name, ""
	if idx := gostrings.LastIndex(name, "."); idx >= 0 {
		base, ext = name[:idx], name[idx+1:]
	}
	id, err := isostrings.NewFileIdentifier(op, base, ext, 1)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func sinkSectors(sink io.Seeker) (uint64, error) {
	end, err := sink.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if end%consts.ISO9660_SECTOR_SIZE != 0 {
		return 0, fmt.Errorf("sink length %d is not a multiple of the %d-byte sector size", end, consts.ISO9660_SECTOR_SIZE)
	}
	return uint64(end) / consts.ISO9660_SECTOR_SIZE, nil
}

func sectorsFor(size int64) uint32 {
	if size <= 0 {
		return 0
	}
	return uint32((size + consts.ISO9660_SECTOR_SIZE - 1) / consts.ISO9660_SECTOR_SIZE)
}

func padToSector(data []byte) []byte {
	rem := len(data) % consts.ISO9660_SECTOR_SIZE
	if rem == 0 {
		return data
	}
	return append(data, make([]byte, consts.ISO9660_SECTOR_SIZE-rem)...)
}

func writeAt(sink io.WriteSeeker, offset int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if _, err := sink.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	_, err := sink.Write(data)
	return err
}
