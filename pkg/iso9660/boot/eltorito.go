package boot

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/discimage/iso9660kit/pkg/consts"
	"github.com/discimage/iso9660kit/pkg/filesystem"
	"github.com/discimage/iso9660kit/pkg/logging"
)

const (
	// Logical sector 17, which holds the El-Torito Boot Record descriptor (the boot catalog itself
	// lives at the sector that descriptor points to)
	EL_TORITO_SECTOR = 0x11
	// Default catalog name for non-Rock Ridge filesystems
	EL_TORITO_DEFAULT_CATALOG = "BOOT.CAT"

	validationEntrySize = 32
	catalogEntrySize    = 32
	idStringSize        = 24

	headerIDValidation  = 0x01
	headerIDSectionMore = 0x90
	headerIDSectionLast = 0x91

	bootIndicatorBootable = 0x88
	bootIndicatorSkip     = 0x00

	keyByte1 = 0x55
	keyByte2 = 0xAA
)

// PartitionType represents the type of partition in the boot image.
type PartitionType byte

// List of MBR partition type codes
const (
	Empty         PartitionType = 0x00
	Fat12         PartitionType = 0x01
	XenixRoot     PartitionType = 0x02
	XenixUsr      PartitionType = 0x03
	Fat16         PartitionType = 0x04
	ExtendedCHS   PartitionType = 0x05
	Fat16b        PartitionType = 0x06
	NTFS          PartitionType = 0x07
	CommodoreFAT  PartitionType = 0x08
	Fat32CHS      PartitionType = 0x0b
	Fat32LBA      PartitionType = 0x0c
	Fat16bLBA     PartitionType = 0x0e
	ExtendedLBA   PartitionType = 0x0f
	Linux         PartitionType = 0x83
	LinuxExtended PartitionType = 0x85
	LinuxLVM      PartitionType = 0x8e
	Iso9660       PartitionType = 0x96
	MacOSXUFS     PartitionType = 0xa8
	MacOSXBoot    PartitionType = 0xab
	HFS           PartitionType = 0xaf
	Solaris8Boot  PartitionType = 0xbe
	EFISystem     PartitionType = 0xef
	VMWareFS      PartitionType = 0xfb
	VMWareSwap    PartitionType = 0xfc
)

func (p PartitionType) String() string {
	switch p {
	case Empty:
		return "Empty"
	case Fat12:
		return "FAT12"
	case XenixRoot:
		return "Xenix Root"
	case XenixUsr:
		return "Xenix User"
	case Fat16:
		return "FAT16"
	case ExtendedCHS:
		return "Extended (CHS)"
	case Fat16b:
		return "FAT16B"
	case NTFS:
		return "NTFS"
	case CommodoreFAT:
		return "Commodore FAT"
	case Fat32CHS:
		return "FAT32 (CHS)"
	case Fat32LBA:
		return "FAT32 (LBA)"
	case Fat16bLBA:
		return "FAT16B (LBA)"
	case ExtendedLBA:
		return "Extended (LBA)"
	case Linux:
		return "Linux"
	case LinuxExtended:
		return "Linux Extended"
	case LinuxLVM:
		return "Linux LVM"
	case Iso9660:
		return "ISO9660"
	case MacOSXUFS:
		return "MacOS X UFS"
	case MacOSXBoot:
		return "MacOS X Boot"
	case HFS:
		return "HFS"
	case Solaris8Boot:
		return "Solaris 8 Boot"
	case EFISystem:
		return "EFI System"
	case VMWareFS:
		return "VMWare FS"
	case VMWareSwap:
		return "VMWare Swap"
	default:
		return "Unknown"
	}
}

// Platform represents the target booting system for an El-Torito bootable ISO.
type Platform uint8

const (
	BIOS Platform = 0x0  // Classic PC-BIOS x86
	PPC  Platform = 0x1  // PowerPC
	Mac  Platform = 0x2  // Macintosh systems
	EFI  Platform = 0xef // Extensible Firmware Interface (EFI)
)

func (p Platform) String() string {
	switch p {
	case BIOS:
		return "BIOS"
	case PPC:
		return "PowerPC"
	case Mac:
		return "Macintosh"
	case EFI:
		return "EFI"
	default:
		return "Unknown"
	}
}

// Emulation represents the emulation mode used for booting.
type Emulation uint8

const (
	NoEmulation        Emulation = 0x0 // No emulation (default, used for EFI system partitions)
	Floppy12Emulation  Emulation = 0x1 // Emulate a 1.2 MB floppy
	Floppy144Emulation Emulation = 0x2 // Emulate a 1.44 MB floppy
	Floppy288Emulation Emulation = 0x3 // Emulate a 2.88 MB floppy
	HardDiskEmulation  Emulation = 0x4 // Emulate a hard disk
)

func (e Emulation) String() string {
	switch e {
	case NoEmulation:
		return "NoEmul"
	case Floppy12Emulation:
		return "1.2MFloppy"
	case Floppy144Emulation:
		return "1.44MFloppy"
	case Floppy288Emulation:
		return "2.88MFloppy"
	case HardDiskEmulation:
		return "HardDisk"
	default:
		return "Unknown"
	}
}

// ElTorito represents the El-Torito boot catalog for a disc: a default entry plus zero or more
// additional platform sections, each booting a separate image (e.g. BIOS default, EFI section, for
// hybrid boot media).
type ElTorito struct {
	BootCatalog     string           // Logical path of the boot catalog within the image
	HideBootCatalog bool             // Whether to hide the boot catalog in the filesystem listing
	Entries         []*ElToritoEntry // Entries[0] is the default entry; Entries[1:] form one section
	// Object Location (in bytes)
	ObjectLocation int64 `json:"object_location"`
	// Object Size (in bytes)
	ObjectSize uint32          `json:"object_size"`
	Logger     *logging.Logger // Logger for debug output
}

// Marshal encodes the boot catalog into a single 2048-byte sector: a Validation Entry, the
// Initial/Default Entry, and, if more entries are present, one Section Header covering the rest
// followed by one Section Entry per remaining entry.
func (et *ElTorito) Marshal() ([]byte, error) {
	if len(et.Entries) == 0 {
		return nil, fmt.Errorf("el torito boot catalog has no entries")
	}

	data := make([]byte, consts.ISO9660_SECTOR_SIZE)
	offset := 0

	validation := marshalValidationEntry(et.Entries[0].Platform, et.BootCatalog)
	copy(data[offset:offset+validationEntrySize], validation[:])
	offset += validationEntrySize

	initial := marshalCatalogEntry(et.Entries[0])
	copy(data[offset:offset+catalogEntrySize], initial[:])
	offset += catalogEntrySize

	if len(et.Entries) > 1 {
		if offset+catalogEntrySize > len(data) {
			return nil, fmt.Errorf("boot catalog exceeds sector size limit")
		}
		section := marshalSectionHeader(headerIDSectionLast, et.Entries[1].Platform, len(et.Entries)-1)
		copy(data[offset:offset+catalogEntrySize], section[:])
		offset += catalogEntrySize

		for _, entry := range et.Entries[1:] {
			if offset+catalogEntrySize > len(data) {
				return nil, fmt.Errorf("boot catalog exceeds sector size limit")
			}
			encoded := marshalCatalogEntry(entry)
			copy(data[offset:offset+catalogEntrySize], encoded[:])
			offset += catalogEntrySize
		}
	}

	return data, nil
}

func marshalValidationEntry(platform Platform, id string) [validationEntrySize]byte {
	var buf [validationEntrySize]byte
	buf[0] = headerIDValidation
	buf[1] = byte(platform)
	copy(buf[4:4+idStringSize], paddedID(id))
	buf[30] = keyByte1
	buf[31] = keyByte2

	checksum := validationChecksum(buf)
	binary.LittleEndian.PutUint16(buf[28:30], checksum)
	return buf
}

// validationChecksum returns the word that, summed modulo 0x10000 with every other 16-bit word in
// the entry, yields zero.
func validationChecksum(entry [validationEntrySize]byte) uint16 {
	var sum uint16
	for i := 0; i < validationEntrySize; i += 2 {
		if i == 28 {
			continue // checksum field itself reads as zero while computing
		}
		sum += binary.LittleEndian.Uint16(entry[i : i+2])
	}
	return -sum
}

func marshalSectionHeader(indicator byte, platform Platform, entries int) [catalogEntrySize]byte {
	var buf [catalogEntrySize]byte
	buf[0] = indicator
	buf[1] = byte(platform)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(entries))
	return buf
}

func marshalCatalogEntry(entry *ElToritoEntry) [catalogEntrySize]byte {
	var buf [catalogEntrySize]byte
	if entry.SectorCount > 0 && entry.location > 0 {
		buf[0] = bootIndicatorBootable
	} else {
		buf[0] = bootIndicatorSkip
	}
	buf[1] = byte(entry.Emulation)
	binary.LittleEndian.PutUint16(buf[2:4], entry.LoadSegment)
	buf[4] = byte(entry.PartitionType)
	binary.LittleEndian.PutUint16(buf[6:8], entry.SectorCount)
	binary.LittleEndian.PutUint32(buf[8:12], entry.location)
	return buf
}

func paddedID(id string) []byte {
	buf := make([]byte, idStringSize)
	copy(buf, id)
	return buf
}

// UnmarshalBinary decodes an El-Torito Boot Catalog from its on-disk 2048-byte sector.
func (et *ElTorito) UnmarshalBinary(data []byte) error {
	if et.Logger != nil {
		et.Logger.Debug("starting el torito boot catalog unmarshalling")
	}
	if len(data) < validationEntrySize {
		err := fmt.Errorf("boot catalog: data too short")
		if et.Logger != nil {
			et.Logger.Error(err, "boot catalog: data too short")
		}
		return err
	}

	platform, err := parseValidationEntry(data[:validationEntrySize])
	if err != nil {
		if et.Logger != nil {
			et.Logger.Error(err, "boot catalog: invalid validation entry")
		}
		return fmt.Errorf("boot catalog: invalid validation entry: %w", err)
	}

	initial := parseCatalogEntry(data[validationEntrySize : validationEntrySize+catalogEntrySize])
	initial.Platform = platform
	et.Entries = append(et.Entries, initial)

	sectionCount := 0
	sectionPlatform := platform
	for offset := validationEntrySize + catalogEntrySize; offset+catalogEntrySize <= len(data); offset += catalogEntrySize {
		entryData := data[offset : offset+catalogEntrySize]

		if entryData[0] == 0x00 && sectionCount == 0 {
			if et.Logger != nil {
				et.Logger.Debug("end of el torito boot catalog reached", "offset", offset)
			}
			break
		}

		if entryData[0] == headerIDSectionMore || entryData[0] == headerIDSectionLast {
			sectionCount = int(binary.LittleEndian.Uint16(entryData[2:4]))
			sectionPlatform = Platform(entryData[1])
			last := entryData[0] == headerIDSectionLast
			if et.Logger != nil {
				et.Logger.Debug("section header found", "offset", offset, "entries", sectionCount, "last", last)
			}
			continue
		}

		entry := parseCatalogEntry(entryData)
		entry.Platform = sectionPlatform
		et.Entries = append(et.Entries, entry)
		if sectionCount > 0 {
			sectionCount--
		}
	}

	if et.Logger != nil {
		et.Logger.Debug("total el torito entries discovered", "count", len(et.Entries))
	}
	return nil
}

// ElToritoEntry represents a single entry in an El-Torito boot catalog.
type ElToritoEntry struct {
	Platform      Platform      // Target platform (from the Validation Entry or owning Section Header)
	Emulation     Emulation     // Emulation mode
	BootFile      string        // Logical path of the boot image within the image
	HideBootFile  bool          // Whether to hide the boot file in the filesystem listing
	LoadSegment   uint16        // Load segment address (0 lets the BIOS pick the default)
	PartitionType PartitionType // Partition type of the boot file, when emulating a disk
	BootInfoTable bool          // Whether to patch a Boot Info Table into the boot image at placement time
	SectorCount   uint16        // Number of 512-byte sectors the firmware loads from BootFile at boot time
	location      uint32        // Location of the boot image, logical sector number
}

// Location returns the boot image's assigned logical sector number, valid once the image has been
// formatted.
func (e *ElToritoEntry) Location() uint32 { return e.location }

// SetLocation records where the formatter placed this entry's boot image. SectorCount is set
// independently, since firmware may load fewer sectors than the image occupies (the remainder
// read by the bootloader itself once running).
func (e *ElToritoEntry) SetLocation(lba uint32) {
	e.location = lba
}

// BuildBootImageEntries constructs a list of FileSystemEntry objects for all boot images.
func (et *ElTorito) BuildBootImageEntries() ([]*filesystem.FileSystemEntry, error) {
	var entries []*filesystem.FileSystemEntry

	if et.Logger != nil {
		et.Logger.Debug("building boot image entries for el torito catalog")
	}

	for i, entry := range et.Entries {
		if entry.SectorCount == 0 || entry.location == 0 {
			if et.Logger != nil {
				et.Logger.Trace("skipping non-bootable entry", "index", i)
			}
			continue
		}

		filename := fmt.Sprintf("%d-Boot-%s.img", i+1, entry.Emulation)
		fsEntry := filesystem.NewFileSystemEntry(
			filename,
			"/[BOOT]/"+filename,
			false,
			uint32(entry.SectorCount)*512,
			entry.location,
			nil, nil,
			0444,
			time.Time{}, time.Time{},
			nil, nil,
		)

		if et.Logger != nil {
			et.Logger.Trace("boot image entry created", "name", filename)
		}
		entries = append(entries, fsEntry)
	}

	if et.Logger != nil {
		et.Logger.Debug("total boot image entries built", "count", len(entries))
	}
	return entries, nil
}

// ExtractBootImages extracts all bootable images found in ra to outputDir.
func (et *ElTorito) ExtractBootImages(ra io.ReaderAt, outputDir string) error {
	if et.Logger != nil {
		et.Logger.Debug("extracting el torito boot images to directory", "outputDir", outputDir)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		if et.Logger != nil {
			et.Logger.Error(err, "failed to create boot image output directory", "outputDir", outputDir)
		}
		return fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	for i, entry := range et.Entries {
		if entry.SectorCount == 0 || entry.location == 0 {
			if et.Logger != nil {
				et.Logger.Trace("skipping non-bootable entry", "index", i)
			}
			continue
		}

		filename := fmt.Sprintf("%d-Boot-%s.img", i+1, entry.Emulation)
		outputPath := filepath.Join(outputDir, filename)

		if et.Logger != nil {
			et.Logger.Debug("extracting boot image", "outputPath", outputPath)
		}

		outFile, err := os.Create(outputPath)
		if err != nil {
			if et.Logger != nil {
				et.Logger.Error(err, "failed to create file", "outputPath", outputPath)
			}
			return fmt.Errorf("failed to create file %s: %w", outputPath, err)
		}

		startOffset := int64(entry.location) * int64(consts.ISO9660_SECTOR_SIZE)
		data := make([]byte, int64(entry.SectorCount)*512)
		if _, err := ra.ReadAt(data, startOffset); err != nil {
			outFile.Close()
			if et.Logger != nil {
				et.Logger.Error(err, "failed to read boot image", "offset", startOffset)
			}
			return fmt.Errorf("failed to read boot image at offset %d: %w", startOffset, err)
		}

		if _, err := outFile.Write(data); err != nil {
			outFile.Close()
			if et.Logger != nil {
				et.Logger.Error(err, "failed to write boot image", "outputPath", outputPath)
			}
			return fmt.Errorf("failed to write boot image to file %s: %w", outputPath, err)
		}
		outFile.Close()

		entry.BootFile = outputPath
		if et.Logger != nil {
			et.Logger.Debug("boot image successfully extracted", "outputPath", outputPath)
		}
	}

	if et.Logger != nil {
		et.Logger.Debug("all boot images extraction complete")
	}
	return nil
}

func IsElTorito(bootSystemIdentifier string) bool {
	trimmed := strings.TrimRight(bootSystemIdentifier, "\x00")
	return trimmed == consts.EL_TORITO_BOOT_SYSTEM_ID
}

func parseCatalogEntry(data []byte) *ElToritoEntry {
	return &ElToritoEntry{
		Emulation:     Emulation(data[1]),
		LoadSegment:   binary.LittleEndian.Uint16(data[2:4]),
		PartitionType: PartitionType(data[4]),
		SectorCount:   binary.LittleEndian.Uint16(data[6:8]),
		location:      binary.LittleEndian.Uint32(data[8:12]),
	}
}

func parseValidationEntry(data []byte) (Platform, error) {
	if len(data) < validationEntrySize {
		return 0, fmt.Errorf("validation entry: data too short")
	}
	if data[0] != headerIDValidation {
		return 0, fmt.Errorf("validation entry: invalid header ID %#x", data[0])
	}
	var sum uint16
	for i := 0; i < validationEntrySize; i += 2 {
		sum += binary.LittleEndian.Uint16(data[i : i+2])
	}
	if sum != 0 {
		return 0, fmt.Errorf("validation entry: checksum invalid")
	}
	if data[30] != keyByte1 || data[31] != keyByte2 {
		return 0, fmt.Errorf("validation entry: invalid key bytes %#x%#x", data[30], data[31])
	}
	return Platform(data[1]), nil
}

const (
	// BootInfoTableOffset is the fixed byte offset, within a boot image, that the Boot Info Table
	// extension is patched into.
	BootInfoTableOffset = 8
	// BootInfoTableSize is the size in bytes of the patched region.
	BootInfoTableSize = 56
)

// BootInfoTable is the optional 56-byte extension some bootloaders (isolinux among them) expect
// patched into their own boot image, so the loader can locate itself on the disc without embedding
// an LBA at build time.
type BootInfoTable struct {
	PVDLocation      uint32
	BootFileLocation uint32
	BootFileLength   uint32
	Checksum         uint32
}

// Marshal encodes the table into its 56-byte on-disk form; the trailing 40 bytes are reserved.
func (t *BootInfoTable) Marshal() [BootInfoTableSize]byte {
	var buf [BootInfoTableSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], t.PVDLocation)
	binary.LittleEndian.PutUint32(buf[4:8], t.BootFileLocation)
	binary.LittleEndian.PutUint32(buf[8:12], t.BootFileLength)
	binary.LittleEndian.PutUint32(buf[12:16], t.Checksum)
	return buf
}

// bootInfoTableChecksum sums the boot image as 32-bit little-endian words, starting immediately
// after the patched region, per the Boot Info Table convention.
func bootInfoTableChecksum(bootImage []byte) uint32 {
	var sum uint32
	for i := BootInfoTableOffset + BootInfoTableSize; i+4 <= len(bootImage); i += 4 {
		sum += binary.LittleEndian.Uint32(bootImage[i : i+4])
	}
	return sum
}

// PatchBootInfoTable writes a Boot Info Table into bootImage at its fixed offset, given the
// locations the formatter assigned to the Primary Volume Descriptor and to the boot image itself.
func PatchBootInfoTable(bootImage []byte, pvdLocation, bootFileLocation uint32) error {
	if len(bootImage) < BootInfoTableOffset+BootInfoTableSize {
		return fmt.Errorf("boot image too small to hold a boot info table: %d bytes", len(bootImage))
	}
	table := &BootInfoTable{
		PVDLocation:      pvdLocation,
		BootFileLocation: bootFileLocation,
		BootFileLength:   uint32(len(bootImage)),
		Checksum:         bootInfoTableChecksum(bootImage),
	}
	patch := table.Marshal()
	copy(bootImage[BootInfoTableOffset:BootInfoTableOffset+BootInfoTableSize], patch[:])
	return nil
}
