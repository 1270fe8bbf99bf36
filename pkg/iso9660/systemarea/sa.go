// Package systemarea handles the 16 reserved sectors preceding the Volume Descriptor Set: LBA 0
// may optionally carry a protective Master Boot Record, for hybrid BIOS/UEFI boot media.
package systemarea

import (
	"encoding/binary"

	"github.com/discimage/iso9660kit/pkg/consts"
	"github.com/discimage/iso9660kit/pkg/iso9660/errs"
)

const (
	mbrSize              = 512
	mbrBootCodeSize      = 446
	mbrPartitionOffset   = 446
	mbrPartitionSize     = 16
	mbrReservedSize      = 48
	mbrSignatureOffset   = 510
	protectivePartition  = 0x17
	protectiveStartLBA   = 1
	mbrSignatureByte1    = 0x55
	mbrSignatureByte2    = 0xAA
	mbrBootIndicatorByte = 0x00
)

// SystemArea is the 16-sector region preceding the Volume Descriptor Set. Its use is unspecified
// by ISO 9660 proper; this library only ever writes a protective MBR into its first sector.
type SystemArea struct {
	Contents [consts.ISO9660_SECTOR_SIZE * consts.ISO9660_SYSTEM_AREA_SECTORS]byte
}

// ProtectiveMBR is the 512-byte structure written at LBA 0 of a hybrid image: zeroed boot code, a
// single partition entry spanning the whole image, and the 0x55AA boot signature.
type ProtectiveMBR struct {
	TotalSectors uint32
}

// NewProtectiveMBR builds a protective MBR describing an image of totalSectors logical sectors.
func NewProtectiveMBR(totalSectors uint32) *ProtectiveMBR {
	return &ProtectiveMBR{TotalSectors: totalSectors}
}

// Marshal encodes the protective MBR into its fixed 512-byte on-disk form.
func (m *ProtectiveMBR) Marshal() [mbrSize]byte {
	var buf [mbrSize]byte
	// 0x000-0x1B7: boot code, left zeroed; this image never boots via legacy CHS BIOS code.

	entry := buf[mbrPartitionOffset : mbrPartitionOffset+mbrPartitionSize]
	entry[0x00] = mbrBootIndicatorByte
	entry[0x04] = protectivePartition
	binary.LittleEndian.PutUint32(entry[0x08:0x0C], protectiveStartLBA)
	binary.LittleEndian.PutUint32(entry[0x0C:0x10], m.TotalSectors)

	buf[mbrSignatureOffset] = mbrSignatureByte1
	buf[mbrSignatureOffset+1] = mbrSignatureByte2
	return buf
}

// Unmarshal parses a 512-byte sector into the protective MBR's total-sector field. It does not
// validate CHS fields, since this library never writes them.
func (m *ProtectiveMBR) Unmarshal(data [mbrSize]byte) error {
	if data[mbrSignatureOffset] != mbrSignatureByte1 || data[mbrSignatureOffset+1] != mbrSignatureByte2 {
		return errs.New("ProtectiveMBR.Unmarshal", errs.KindCorruptImage, nil)
	}
	entry := data[mbrPartitionOffset : mbrPartitionOffset+mbrPartitionSize]
	m.TotalSectors = binary.LittleEndian.Uint32(entry[0x0C:0x10])
	return nil
}

// HasProtectiveMBR reports whether sector 0 of the system area carries a valid protective MBR.
func (sa *SystemArea) HasProtectiveMBR() bool {
	return sa.Contents[mbrSignatureOffset] == mbrSignatureByte1 && sa.Contents[mbrSignatureOffset+1] == mbrSignatureByte2
}

// WriteProtectiveMBR patches a protective MBR into the system area's first sector.
func (sa *SystemArea) WriteProtectiveMBR(totalSectors uint32) {
	mbr := NewProtectiveMBR(totalSectors)
	encoded := mbr.Marshal()
	copy(sa.Contents[0:mbrSize], encoded[:])
}
