package pathtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathTableRecord_Unmarshal_ValidData(t *testing.T) {
	ptr := &PathTableRecord{}
	data := []byte{
		5, 0, // LengthOfDirectoryIdentifier, ExtendedAttributeRecordLength
		1, 0, 0, 0, // LocationOfExtent
		2, 0, // ParentDirectoryNumber
		'a', 'b', 'c', 'd', 'e', // DirectoryIdentifier
		0x00, // padding (odd-length identifier)
	}

	err := ptr.Unmarshal(data, true)
	assert.NoError(t, err)
	assert.Equal(t, uint8(5), ptr.LengthOfDirectoryIdentifier)
	assert.Equal(t, uint8(0), ptr.ExtendedAttributeRecordLength)
	assert.Equal(t, uint32(1), ptr.LocationOfExtent)
	assert.Equal(t, uint16(2), ptr.ParentDirectoryNumber)
	assert.Equal(t, "abcde", ptr.DirectoryIdentifier)
}

func TestPathTableRecord_Unmarshal_BigEndian(t *testing.T) {
	ptr := &PathTableRecord{}
	data := []byte{
		4, 0,
		0, 0, 0, 7, // LocationOfExtent, big-endian
		0, 3, // ParentDirectoryNumber, big-endian
		'S', 'U', 'B', '1',
	}

	err := ptr.Unmarshal(data, false)
	assert.NoError(t, err)
	assert.Equal(t, uint32(7), ptr.LocationOfExtent)
	assert.Equal(t, uint16(3), ptr.ParentDirectoryNumber)
	assert.Equal(t, "SUB1", ptr.DirectoryIdentifier)
}

func TestPathTableRecord_Unmarshal_TooShortForHeader(t *testing.T) {
	ptr := &PathTableRecord{}
	err := ptr.Unmarshal([]byte{1, 2, 3}, true)
	assert.Error(t, err)
}

func TestPathTableRecord_Unmarshal_DirectoryIdentifierOutOfRange(t *testing.T) {
	ptr := &PathTableRecord{}
	data := []byte{
		10, 0, // claims a 10-byte identifier
		1, 0, 0, 0,
		2, 0,
		'a', 'b', 'c', 'd', 'e', // only 5 bytes follow
	}

	err := ptr.Unmarshal(data, true)
	assert.Error(t, err)
}

func TestPathTableRecord_MarshalUnmarshal_RoundTrip(t *testing.T) {
	orig := NewPathTableRecord("SUBDIR", 42, 1, true)

	encoded, err := orig.Marshal()
	assert.NoError(t, err)

	decoded := &PathTableRecord{}
	err = decoded.Unmarshal(encoded, true)
	assert.NoError(t, err)
	assert.Equal(t, orig.DirectoryIdentifier, decoded.DirectoryIdentifier)
	assert.Equal(t, orig.LocationOfExtent, decoded.LocationOfExtent)
	assert.Equal(t, orig.ParentDirectoryNumber, decoded.ParentDirectoryNumber)
}
