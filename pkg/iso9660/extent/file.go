package extent

import (
	"fmt"
	"github.com/discimage/iso9660kit/pkg/consts"
	"io"
)

// FileExtent locates one file's data within an image and reads it back out. It isn't itself an
// on-disk ISO9660 structure; it's a convenience wrapper pairing a directory record's location and
// size with the image reader needed to resolve them.
type FileExtent struct {
	FileIdentifier string `json:"file_identifier"`
	LocationOfFile uint32 `json:"location_of_file"`
	SizeOfFile     uint32 `json:"size_of_file"`
	Reader         io.ReaderAt
}

// Offset returns the extent's absolute byte offset within the image.
func (f FileExtent) Offset() int64 {
	return int64(f.LocationOfFile) * consts.ISO9660_SECTOR_SIZE
}

func (f FileExtent) Marshal() ([]byte, error) {
	// Allocate a buffer of the file's size
	buf := make([]byte, f.SizeOfFile)

	// Read from the Reader at the specified offset
	n, err := f.Reader.ReadAt(buf, f.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to read file extent %s: %w", f.FileIdentifier, err)
	}

	// Ensure we read the expected number of bytes
	if uint32(n) != f.SizeOfFile {
		return nil, fmt.Errorf("unexpected read size for %s: got %d, expected %d", f.FileIdentifier, n, f.SizeOfFile)
	}

	return buf, nil
}
