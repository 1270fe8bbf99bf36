// Package parser reads an existing ISO9660 image back out of an io.ReaderAt: the Volume
// Descriptor Set, the directory tree, and individual file contents.
package parser

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/discimage/iso9660kit/pkg/consts"
	"github.com/discimage/iso9660kit/pkg/filesystem"
	"github.com/discimage/iso9660kit/pkg/iso9660/boot"
	"github.com/discimage/iso9660kit/pkg/iso9660/descriptor"
	"github.com/discimage/iso9660kit/pkg/iso9660/directory"
	"github.com/discimage/iso9660kit/pkg/logging"
)

// NewParser constructs a Parser reading from r, logging each descriptor it parses with log (a
// discarding logger if nil is passed).
func NewParser(r io.ReaderAt, log *logging.Logger) *Parser {
	if log == nil {
		log = logging.DefaultLogger()
	}
	return &Parser{r: r, log: log}
}

type Parser struct {
	r   io.ReaderAt
	log *logging.Logger
}

// Reader returns the source this Parser reads from, for callers (e.g. the path-table reader)
// that need direct access alongside the higher-level accessors above.
func (p *Parser) Reader() io.ReaderAt {
	return p.r
}

// GetBootRecord reads and validates the ISO9660 boot record, if one is present in the
// Volume Descriptor Set. It returns an error if no Boot Record is found before the terminator.
func (p *Parser) GetBootRecord() (*descriptor.BootRecordDescriptor, error) {
	p.log.Debug("parsing boot record descriptor")
	const sectorSize = consts.ISO9660_SECTOR_SIZE
	sector := int64(consts.ISO9660_SYSTEM_AREA_SECTORS)
	var buf [sectorSize]byte

	for {
		offset := sector * int64(sectorSize)
		n, err := p.r.ReadAt(buf[:], offset)
		if err != nil {
			return nil, err
		}
		if n != len(buf) {
			return nil, errors.New("failed to read full sector")
		}

		header := descriptor.VolumeDescriptorHeader{}
		if err = header.Unmarshal([7]byte(buf[:7])); err != nil {
			return nil, err
		}

		if header.VolumeDescriptorType == descriptor.TYPE_TERMINATOR_DESCRIPTOR {
			return nil, errors.New("no boot record found in the volume descriptor set")
		}
		if string(buf[1:6]) != consts.ISO9660_STD_IDENTIFIER {
			return nil, errors.New("invalid ISO9660 signature")
		}

		if header.VolumeDescriptorType == descriptor.TYPE_BOOT_RECORD {
			bootRecord := &descriptor.BootRecordDescriptor{VolumeDescriptorHeader: header}
			if err = bootRecord.Unmarshal(buf); err != nil {
				return nil, err
			}
			p.log.Debug("boot record descriptor parsed", "sector", sector, "bootSystemIdentifier", bootRecord.BootSystemIdentifier)
			return bootRecord, nil
		}

		sector++
	}
}

// GetBootCatalog reads and decodes the El Torito boot catalogue pointed to by bootRecord: the
// validation entry, the default entry, and any further (section-header, section-entry) groups.
// bootRecord must come from a successful GetBootRecord call.
func (p *Parser) GetBootCatalog(bootRecord *descriptor.BootRecordDescriptor) (*boot.ElTorito, error) {
	catalogLBA := binary.LittleEndian.Uint32(bootRecord.BootRecordBody.BootSystemUse[0:4])
	p.log.Debug("parsing el torito boot catalog", "lba", catalogLBA)

	var buf [consts.ISO9660_SECTOR_SIZE]byte
	offset := int64(catalogLBA) * consts.ISO9660_SECTOR_SIZE
	if _, err := p.r.ReadAt(buf[:], offset); err != nil {
		return nil, fmt.Errorf("failed to read boot catalog sector %d: %w", catalogLBA, err)
	}

	catalog := &boot.ElTorito{ObjectLocation: offset, ObjectSize: consts.ISO9660_SECTOR_SIZE}
	if err := catalog.UnmarshalBinary(buf[:]); err != nil {
		return nil, fmt.Errorf("failed to unmarshal boot catalog: %w", err)
	}
	p.log.Debug("el torito boot catalog parsed", "entries", len(catalog.Entries))
	return catalog, nil
}

// GetPrimaryVolumeDescriptor reads and validates the ISO9660 PVD.
func (p *Parser) GetPrimaryVolumeDescriptor() (*descriptor.PrimaryVolumeDescriptor, error) {
	p.log.Debug("parsing primary volume descriptor")
	const sectorSize = consts.ISO9660_SECTOR_SIZE
	sector := int64(consts.ISO9660_SYSTEM_AREA_SECTORS)
	var buf [sectorSize]byte

	for {
		offset := sector * int64(sectorSize)
		n, err := p.r.ReadAt(buf[:], offset)
		if err != nil {
			return nil, err
		}
		if n != len(buf) {
			return nil, errors.New("failed to read full sector")
		}

		header := descriptor.VolumeDescriptorHeader{}
		if err = header.Unmarshal([7]byte(buf[:7])); err != nil {
			return nil, err
		}
		if string(buf[1:6]) != consts.ISO9660_STD_IDENTIFIER {
			return nil, errors.New("invalid ISO9660 signature")
		}
		if header.VolumeDescriptorType == descriptor.TYPE_TERMINATOR_DESCRIPTOR {
			return nil, errors.New("no primary volume descriptor found in the volume descriptor set")
		}

		if header.VolumeDescriptorType == descriptor.TYPE_PRIMARY_DESCRIPTOR {
			pvd := &descriptor.PrimaryVolumeDescriptor{VolumeDescriptorHeader: header}
			if err = pvd.Unmarshal(buf); err != nil {
				return nil, err
			}
			p.log.Debug("primary volume descriptor parsed", "sector", sector, "volumeIdentifier", pvd.VolumeIdentifier())
			return pvd, nil
		}

		sector++
	}
}

// BuildFileSystemEntries walks the directory tree rooted at rootDir and converts every record
// into a FileSystemEntry.
func (p *Parser) BuildFileSystemEntries(rootDir *directory.DirectoryRecord) ([]*filesystem.FileSystemEntry, error) {
	if rootDir == nil {
		return nil, errors.New("rootDir cannot be nil")
	}

	visited := make(map[uint32]bool)
	var entries []*filesystem.FileSystemEntry

	var walk func(dir *directory.DirectoryRecord, parentPath string) error
	walk = func(dir *directory.DirectoryRecord, parentPath string) error {
		if visited[dir.LocationOfExtent] {
			return nil
		}
		visited[dir.LocationOfExtent] = true

		dirRecords, err := p.ReadDirectoryRecords(dir.LocationOfExtent, dir.DataLength)
		if err != nil {
			return err
		}

		for _, record := range dirRecords {
			if record.IsSpecial() {
				continue
			}
			fullPath := parentPath + "/" + record.GetBestName()
			creation, modification := record.GetTimestamps()

			entry := filesystem.NewFileSystemEntry(
				record.GetBestName(),
				fullPath,
				record.IsDirectory(),
				record.DataLength,
				record.LocationOfExtent,
				nil, nil,
				record.GetPermissions(),
				creation, modification,
				record,
				p.r,
			)
			entries = append(entries, entry)

			if record.IsDirectory() {
				if err := walk(record, fullPath); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(rootDir, ""); err != nil {
		return nil, err
	}

	return entries, nil
}

// WalkDirectoryRecords recursively walks the directory tree from rootDir and returns every
// DirectoryRecord encountered, including the synthetic "." and ".." entries.
func (p *Parser) WalkDirectoryRecords(rootDir *directory.DirectoryRecord) ([]*directory.DirectoryRecord, error) {
	if rootDir == nil {
		return nil, errors.New("rootDir cannot be nil")
	}

	visited := make(map[uint32]bool)
	var records []*directory.DirectoryRecord

	var walk func(dir *directory.DirectoryRecord) error
	walk = func(dir *directory.DirectoryRecord) error {
		if visited[dir.LocationOfExtent] {
			return nil
		}
		visited[dir.LocationOfExtent] = true

		dirRecords, err := p.ReadDirectoryRecords(dir.LocationOfExtent, dir.DataLength)
		if err != nil {
			return err
		}

		for _, record := range dirRecords {
			records = append(records, record)
			if record.IsDirectory() && !record.IsSpecial() {
				if err := walk(record); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(rootDir); err != nil {
		return nil, err
	}

	return records, nil
}

// ReadDirectoryRecords reads every DirectoryRecord out of the directory extent starting at lba,
// spanning as many 2048-byte sectors as extentLength requires. A directory's records never cross
// a sector boundary, so each sector is scanned independently until a zero length byte (padding)
// ends it.
func (p *Parser) ReadDirectoryRecords(lba uint32, extentLength uint32) ([]*directory.DirectoryRecord, error) {
	if extentLength == 0 {
		return nil, nil
	}

	numSectors := (extentLength + consts.ISO9660_SECTOR_SIZE - 1) / consts.ISO9660_SECTOR_SIZE
	var records []*directory.DirectoryRecord

	for s := uint32(0); s < numSectors; s++ {
		offset := (int64(lba) + int64(s)) * consts.ISO9660_SECTOR_SIZE
		buf := make([]byte, consts.ISO9660_SECTOR_SIZE)
		if _, err := p.r.ReadAt(buf, offset); err != nil {
			return nil, fmt.Errorf("failed to read directory sector %d at LBA %d: %w", s, lba, err)
		}

		reader := bytes.NewReader(buf)
		for reader.Len() > 0 {
			var length byte
			if err := binary.Read(reader, binary.LittleEndian, &length); err != nil {
				return nil, fmt.Errorf("failed to read directory record length: %w", err)
			}
			if length == 0 {
				break // padding to the end of this sector
			}

			recordBuf := make([]byte, length)
			recordBuf[0] = length
			if _, err := io.ReadFull(reader, recordBuf[1:]); err != nil {
				return nil, fmt.Errorf("failed to read directory record: %w", err)
			}

			dr := &directory.DirectoryRecord{}
			if err := dr.Unmarshal(recordBuf); err != nil {
				return nil, fmt.Errorf("failed to parse directory record: %w", err)
			}
			records = append(records, dr)
		}
	}

	return records, nil
}
