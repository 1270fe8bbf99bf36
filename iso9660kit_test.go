package iso9660kit

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/discimage/iso9660kit/pkg/consts"
	"github.com/discimage/iso9660kit/pkg/iso9660/tree"
)

// memSink is a minimal in-memory io.ReadWriteSeeker, pre-sized to a fixed number of sectors.
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

func buildTestImage(t *testing.T) *memSink {
	t.Helper()

	files := tree.New()
	_, err := files.AddFile("A.TXT", 5, bytes.NewReader([]byte("hello")))
	require.NoError(t, err)
	_, err = files.AddDirectory("SUB")
	require.NoError(t, err)
	_, err = files.AddFile("SUB/B.TXT", 5, bytes.NewReader([]byte("world")))
	require.NoError(t, err)

	sink := newMemSink(512)
	err = Format(sink, Options{Files: files, VolumeIdentifier: "TESTVOL"})
	require.NoError(t, err)
	_, err = sink.Seek(0, io.SeekStart)
	require.NoError(t, err)
	return sink
}

func TestOpen_RootDirectoryEntries(t *testing.T) {
	sink := buildTestImage(t)

	img, err := Open(sink)
	require.NoError(t, err)
	require.False(t, img.HasElTorito())

	root, err := img.RootDirectory()
	require.NoError(t, err)

	entries, err := root.Entries()
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Record.GetBestName())
	}
	require.Contains(t, names, ".")
	require.Contains(t, names, "..")
	require.Contains(t, names, "A.TXT")
	require.Contains(t, names, "SUB")
}

func TestOpen_FindAndReadFile(t *testing.T) {
	sink := buildTestImage(t)

	img, err := Open(sink)
	require.NoError(t, err)

	root, err := img.RootDirectory()
	require.NoError(t, err)

	data, err := root.ReadFile("A.TXT")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	sub, err := root.Find("SUB")
	require.NoError(t, err)

	data, err = sub.ReadFile("B.TXT")
	require.NoError(t, err)
	require.Equal(t, []byte("world"), data)

	_, err = root.Find("NOPE")
	require.ErrorIs(t, err, NotFound)

	_, err = root.ReadFile("NOPE.TXT")
	require.ErrorIs(t, err, NotFound)
}

func TestOpen_BootCatalog(t *testing.T) {
	files := tree.New()
	bootImage := make([]byte, 4*512)
	_, err := files.AddFile("CDBOOT.IMG", int64(len(bootImage)), bytes.NewReader(bootImage))
	require.NoError(t, err)

	sink := newMemSink(512)
	err = Format(sink, Options{
		Files: files,
		ElTorito: &ElToritoSpec{
			BootImagePath: "CDBOOT.IMG",
			LoadSize:      4,
		},
	})
	require.NoError(t, err)
	_, err = sink.Seek(0, io.SeekStart)
	require.NoError(t, err)

	img, err := Open(sink)
	require.NoError(t, err)
	require.True(t, img.HasElTorito())

	catalog, err := img.BootCatalog()
	require.NoError(t, err)
	require.Len(t, catalog.Entries, 1)
	require.EqualValues(t, 4, catalog.Entries[0].SectorCount)
}

func TestOpen_BootCatalog_NotFoundWithoutElTorito(t *testing.T) {
	sink := buildTestImage(t)

	img, err := Open(sink)
	require.NoError(t, err)
	require.False(t, img.HasElTorito())

	_, err = img.BootCatalog()
	require.ErrorIs(t, err, NotFound)
}

func TestOpen_PathTable(t *testing.T) {
	sink := buildTestImage(t)

	img, err := Open(sink)
	require.NoError(t, err)

	entries, err := img.PathTable()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "\x00", entries[0].Name)
	require.Equal(t, uint16(1), entries[0].ParentIndex)
	require.Equal(t, "SUB", entries[1].Name)
	require.Equal(t, entries[0].Location, entries[1].ParentLBA)
}
