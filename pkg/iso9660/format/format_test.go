package format

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/discimage/iso9660kit/pkg/consts"
	"github.com/discimage/iso9660kit/pkg/iso9660/descriptor"
	"github.com/discimage/iso9660kit/pkg/iso9660/directory"
	"github.com/discimage/iso9660kit/pkg/iso9660/pathtable"
	"github.com/discimage/iso9660kit/pkg/iso9660/tree"
)

// memSink is a minimal in-memory io.ReadWriteSeeker, pre-sized to a fixed number of sectors, for
// exercising Format without touching a real file.
type memSink struct {
	data []byte
	pos  int64
}

func newMemSink(sectors int) *memSink {
	return &memSink{data: make([]byte, sectors*consts.ISO9660_SECTOR_SIZE)}
}

func (m *memSink) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *memSink) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memSink) Write(p []byte) (int, error) {
	n := copy(m.data[m.pos:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	m.pos += int64(n)
	return n, nil
}

func (m *memSink) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = m.pos
	case io.SeekEnd:
		base = int64(len(m.data))
	}
	m.pos = base + offset
	return m.pos, nil
}

func (m *memSink) sector(lba uint32, n int) []byte {
	start := int64(lba) * consts.ISO9660_SECTOR_SIZE
	return m.data[start : start+int64(n)]
}

func readDescriptorHeader(t *testing.T, data []byte) descriptor.VolumeDescriptorHeader {
	t.Helper()
	var h descriptor.VolumeDescriptorHeader
	require.NoError(t, h.Unmarshal([7]byte(data[:7])))
	return h
}

func TestFormat_EmptyImage(t *testing.T) {
	sink := newMemSink(512) // 1 MiB
	tr := tree.New()

	err := Format(sink, Options{Files: tr})
	require.NoError(t, err)

	pvdHeader := readDescriptorHeader(t, sink.sector(16, consts.ISO9660_SECTOR_SIZE))
	require.Equal(t, descriptor.TYPE_PRIMARY_DESCRIPTOR, pvdHeader.VolumeDescriptorType)
	require.Equal(t, "CD001", pvdHeader.StandardIdentifier)

	termHeader := readDescriptorHeader(t, sink.sector(17, consts.ISO9660_SECTOR_SIZE))
	require.Equal(t, descriptor.TYPE_TERMINATOR_DESCRIPTOR, termHeader.VolumeDescriptorType)

	var pvd descriptor.PrimaryVolumeDescriptor
	require.NoError(t, pvd.Unmarshal([consts.ISO9660_SECTOR_SIZE]byte(sink.sector(16, consts.ISO9660_SECTOR_SIZE))))
	require.EqualValues(t, 18, pvd.RootDirectoryRecord.LocationOfExtent)
	require.EqualValues(t, 2048, pvd.RootDirectoryRecord.DataLength)
	require.EqualValues(t, 10, pvd.PathTableSize)
	require.EqualValues(t, 19, pvd.LocationOfTypeLPathTable)
	require.EqualValues(t, 20, pvd.LocationOfTypeMPathTable)

	rootSector := sink.sector(18, consts.ISO9660_SECTOR_SIZE)
	var self, parent directory.DirectoryRecord
	require.NoError(t, self.Unmarshal(rootSector))
	require.NoError(t, parent.Unmarshal(rootSector[self.LengthOfDirectoryRecord:]))
	require.Equal(t, "\x00", self.FileIdentifier)
	require.EqualValues(t, 18, self.LocationOfExtent)
	require.EqualValues(t, 2048, self.DataLength)
	require.Equal(t, "\x01", parent.FileIdentifier)
	require.EqualValues(t, 18, parent.LocationOfExtent)
	require.EqualValues(t, 2048, parent.DataLength)

	lTable, err := pathtable.ReadPathTable(sink, 19, 10, "L", true)
	require.NoError(t, err)
	require.Len(t, lTable.Records, 1)
	require.Equal(t, "\x00", lTable.Records[0].DirectoryIdentifier)
	require.EqualValues(t, 1, lTable.Records[0].ParentDirectoryNumber)
	require.EqualValues(t, 18, lTable.Records[0].LocationOfExtent)

	mTable, err := pathtable.ReadPathTable(sink, 20, 10, "M", false)
	require.NoError(t, err)
	require.Len(t, mTable.Records, 1)
	require.Equal(t, lTable.Records[0].DirectoryIdentifier, mTable.Records[0].DirectoryIdentifier)
	require.Equal(t, lTable.Records[0].LocationOfExtent, mTable.Records[0].LocationOfExtent)
}

func TestFormat_SingleFile(t *testing.T) {
	sink := newMemSink(1024) // 2 MiB
	tr := tree.New()
	content := bytes.Repeat([]byte{'H'}, 1024*1024)
	_, err := tr.AddFile("TEST.TXT", int64(len(content)), bytes.NewReader(content))
	require.NoError(t, err)

	require.NoError(t, Format(sink, Options{Files: tr}))

	node, ok := tr.Find("TEST.TXT")
	require.True(t, ok)

	var pvd descriptor.PrimaryVolumeDescriptor
	require.NoError(t, pvd.Unmarshal([consts.ISO9660_SECTOR_SIZE]byte(sink.sector(16, consts.ISO9660_SECTOR_SIZE))))
	rootEntries := readDirEntries(t, sink, pvd.RootDirectoryRecord.LocationOfExtent)
	var fileRecord *directory.DirectoryRecord
	for _, e := range rootEntries {
		if !e.IsSpecial() {
			fileRecord = e
		}
	}
	require.NotNil(t, fileRecord)
	require.Equal(t, "TEST.TXT;1", fileRecord.FileIdentifier)
	require.Equal(t, "TEST.TXT", fileRecord.GetBestName())
	require.EqualValues(t, len(content), fileRecord.DataLength)

	read := make([]byte, node.Size)
	_, err = sink.ReadAt(read, int64(fileRecord.LocationOfExtent)*consts.ISO9660_SECTOR_SIZE)
	require.NoError(t, err)
	require.Equal(t, content, read)
}

func TestFormat_NestedDirectory(t *testing.T) {
	sink := newMemSink(512)
	tr := tree.New()
	_, err := tr.AddFile("A.TXT", 2, bytes.NewReader([]byte("hi")))
	require.NoError(t, err)
	_, err = tr.AddFile("D/B.TXT", 3, bytes.NewReader([]byte("bye")))
	require.NoError(t, err)

	require.NoError(t, Format(sink, Options{Files: tr}))

	var pvd descriptor.PrimaryVolumeDescriptor
	require.NoError(t, pvd.Unmarshal([consts.ISO9660_SECTOR_SIZE]byte(sink.sector(16, consts.ISO9660_SECTOR_SIZE))))
	rootLBA := pvd.RootDirectoryRecord.LocationOfExtent

	rootEntries := readDirEntries(t, sink, rootLBA)
	names := make(map[string]*directory.DirectoryRecord)
	for _, e := range rootEntries {
		names[e.GetBestName()] = e
	}
	require.Contains(t, names, ".")
	require.Contains(t, names, "..")
	require.Contains(t, names, "A.TXT")
	require.Contains(t, names, "D")
	require.True(t, names["D"].IsDirectory())

	dLBA := names["D"].LocationOfExtent
	dEntries := readDirEntries(t, sink, dLBA)
	dNames := make(map[string]*directory.DirectoryRecord)
	for _, e := range dEntries {
		dNames[e.GetBestName()] = e
	}
	require.Equal(t, dLBA, dNames["."].LocationOfExtent)
	require.Equal(t, rootLBA, dNames[".."].LocationOfExtent)
	require.Contains(t, dNames, "B.TXT")

	lTable, err := pathtable.ReadPathTable(sink, uint32(pvd.LocationOfTypeLPathTable), int(pvd.PathTableSize), "L", true)
	require.NoError(t, err)
	require.Len(t, lTable.Records, 2)
	require.Equal(t, "\x00", lTable.Records[0].DirectoryIdentifier)
	require.EqualValues(t, 1, lTable.Records[0].ParentDirectoryNumber)
	require.Equal(t, "D", lTable.Records[1].DirectoryIdentifier)
	require.EqualValues(t, 1, lTable.Records[1].ParentDirectoryNumber)
	require.Equal(t, dLBA, lTable.Records[1].LocationOfExtent)
}

func readDirEntries(t *testing.T, sink *memSink, lba uint32) []*directory.DirectoryRecord {
	t.Helper()
	var entries []*directory.DirectoryRecord
	sector := sink.sector(lba, consts.ISO9660_SECTOR_SIZE)
	offset := 0
	for offset < len(sector) && sector[offset] != 0 {
		var rec directory.DirectoryRecord
		require.NoError(t, rec.Unmarshal(sector[offset:]))
		entries = append(entries, &rec)
		offset += int(rec.LengthOfDirectoryRecord)
	}
	return entries
}

func TestFormat_BootImageWithoutInfoTable(t *testing.T) {
	sink := newMemSink(1024)
	tr := tree.New()
	img := make([]byte, 512*1024)
	_, err := tr.AddFile("CDBOOT.IMG", int64(len(img)), bytes.NewReader(img))
	require.NoError(t, err)

	opts := Options{
		Files: tr,
		ElTorito: &ElToritoSpec{
			BootImagePath: "CDBOOT.IMG",
			LoadSize:      4,
		},
	}
	require.NoError(t, Format(sink, opts))

	bootHeader := readDescriptorHeader(t, sink.sector(17, consts.ISO9660_SECTOR_SIZE))
	require.Equal(t, descriptor.TYPE_BOOT_RECORD, bootHeader.VolumeDescriptorType)

	var bootRecord descriptor.BootRecordDescriptor
	require.NoError(t, bootRecord.Unmarshal([consts.ISO9660_SECTOR_SIZE]byte(sink.sector(17, consts.ISO9660_SECTOR_SIZE))))
	catalogLBA := binary.LittleEndian.Uint32(bootRecord.BootSystemUse[0:4])

	catalog := sink.sector(catalogLBA, consts.ISO9660_SECTOR_SIZE)
	validation := catalog[0:32]
	var sum uint16
	for i := 0; i < 32; i += 2 {
		sum += binary.LittleEndian.Uint16(validation[i : i+2])
	}
	require.EqualValues(t, 0, sum, "validation entry checksum must verify")

	defaultEntry := catalog[32:64]
	require.EqualValues(t, 0x88, defaultEntry[0], "boot indicator must mark the entry bootable")
	require.EqualValues(t, 4, binary.LittleEndian.Uint16(defaultEntry[6:8]))

	var pvd descriptor.PrimaryVolumeDescriptor
	require.NoError(t, pvd.Unmarshal([consts.ISO9660_SECTOR_SIZE]byte(sink.sector(16, consts.ISO9660_SECTOR_SIZE))))
	rootEntries := readDirEntries(t, sink, pvd.RootDirectoryRecord.LocationOfExtent)
	var fileRecord *directory.DirectoryRecord
	for _, e := range rootEntries {
		if e.GetBestName() == "CDBOOT.IMG" {
			fileRecord = e
		}
	}
	require.NotNil(t, fileRecord)

	loadRBA := binary.LittleEndian.Uint32(defaultEntry[8:12])
	require.Equal(t, fileRecord.LocationOfExtent, loadRBA)
}

func TestFormat_BootInfoTablePatched(t *testing.T) {
	sink := newMemSink(1024)
	tr := tree.New()
	img := make([]byte, 1024)
	for i := range img {
		img[i] = byte(i & 0xFF)
	}
	_, err := tr.AddFile("CDBOOT.IMG", int64(len(img)), bytes.NewReader(img))
	require.NoError(t, err)

	opts := Options{
		Files: tr,
		ElTorito: &ElToritoSpec{
			BootImagePath: "CDBOOT.IMG",
			LoadSize:      2,
			BootInfoTable: true,
		},
	}
	require.NoError(t, Format(sink, opts))

	var pvd descriptor.PrimaryVolumeDescriptor
	require.NoError(t, pvd.Unmarshal([consts.ISO9660_SECTOR_SIZE]byte(sink.sector(16, consts.ISO9660_SECTOR_SIZE))))

	rootEntries := readDirEntries(t, sink, pvd.RootDirectoryRecord.LocationOfExtent)
	var fileRecord *directory.DirectoryRecord
	for _, e := range rootEntries {
		if e.GetBestName() == "CDBOOT.IMG" {
			fileRecord = e
		}
	}
	require.NotNil(t, fileRecord)

	patched := make([]byte, len(img))
	_, err = sink.ReadAt(patched, int64(fileRecord.LocationOfExtent)*consts.ISO9660_SECTOR_SIZE)
	require.NoError(t, err)

	isoStart := binary.LittleEndian.Uint32(patched[0:4])
	bootFileLBA := binary.LittleEndian.Uint32(patched[4:8])
	require.EqualValues(t, 16, isoStart)
	require.Equal(t, fileRecord.LocationOfExtent, bootFileLBA)

	var wantChecksum uint32
	for i := 64; i+4 <= len(img); i += 4 {
		wantChecksum += binary.LittleEndian.Uint32(img[i : i+4])
	}
	gotChecksum := binary.LittleEndian.Uint32(patched[12:16])
	require.Equal(t, wantChecksum, gotChecksum)
}

func TestFormat_ProtectiveMBR(t *testing.T) {
	sink := newMemSink(512)
	tr := tree.New()

	require.NoError(t, Format(sink, Options{Files: tr, ProtectiveMBR: true}))

	require.EqualValues(t, 0x55, sink.data[510])
	require.EqualValues(t, 0xAA, sink.data[511])
	require.EqualValues(t, 0x17, sink.data[446+4])
	startLBA := binary.LittleEndian.Uint32(sink.data[446+8 : 446+12])
	require.EqualValues(t, 1, startLBA)
}

func TestFormat_RejectsNilTree(t *testing.T) {
	sink := newMemSink(512)
	err := Format(sink, Options{})
	require.Error(t, err)
}

func TestFormat_RejectsSinkTooSmall(t *testing.T) {
	sink := newMemSink(4)
	err := Format(sink, Options{Files: tree.New()})
	require.Error(t, err)
}
