// Package strings implements the fixed-width, charset-restricted string types ECMA-119 requires
// for volume identifiers, file identifiers, and directory identifiers: a-characters, d-characters,
// and the file-identifier grammar (d-characters plus the SEPARATOR_1/SEPARATOR_2 punctuation).
package strings

import (
	"strconv"

	"github.com/discimage/iso9660kit/pkg/consts"
	"github.com/discimage/iso9660kit/pkg/helpers"
	"github.com/discimage/iso9660kit/pkg/iso9660/errs"
	"github.com/discimage/iso9660kit/pkg/iso9660/validation"
)

// AString is an a-characters string, used for fields like the PVD's System Identifier.
type AString string

// NewAString validates s against the a-character set and checks it fits within maxLen bytes.
func NewAString(op, s string, maxLen int) (AString, error) {
	if err := validation.ValidateACharacters(s, false); err != nil {
		return "", errs.New(op, errs.KindInvalidCharacter, err)
	}
	if len(s) > maxLen {
		return "", errs.New(op, errs.KindIdentifierTooLong, nil)
	}
	return AString(s), nil
}

// Pad returns s padded with spaces to width bytes, as required by every fixed a-/d-character field.
func (s AString) Pad(width int) []byte {
	return helpers.PadString(string(s), width)
}

// DString is a d-characters string, used for fields like Volume Identifier and directory names.
type DString string

// NewDString validates s against the d-character set and checks it fits within maxLen bytes.
func NewDString(op, s string, maxLen int) (DString, error) {
	if err := validation.ValidateDCharacters(s, false); err != nil {
		return "", errs.New(op, errs.KindInvalidCharacter, err)
	}
	if len(s) > maxLen {
		return "", errs.New(op, errs.KindIdentifierTooLong, nil)
	}
	return DString(s), nil
}

func (s DString) Pad(width int) []byte {
	return helpers.PadString(string(s), width)
}

// FileIdentifier is the on-disk File Identifier of a Directory Record: d-characters, plus an
// optional SEPARATOR_1 ('.') extension and a mandatory SEPARATOR_2 (';') version suffix for files.
// Directories carry no separators or version.
type FileIdentifier string

// NewFileIdentifier builds a file's File Identifier as "NAME.EXT;VERSION", validating the
// name and extension against the d-character set and rejecting (IdentifierTooLong) a name over 8 or an extension over 3 characters per the
// ISO Level 1 interchange rules this library targets (ECMA-119 §7.5).
func NewFileIdentifier(op, name, ext string, version uint16) (FileIdentifier, error) {
	if err := validation.ValidateDCharacters(name, false); err != nil {
		return "", errs.New(op, errs.KindInvalidCharacter, err)
	}
	if len(name) > 8 {
		return "", errs.New(op, errs.KindIdentifierTooLong, nil)
	}
	if ext != "" {
		if err := validation.ValidateDCharacters(ext, false); err != nil {
			return "", errs.New(op, errs.KindInvalidCharacter, err)
		}
		if len(ext) > 3 {
			return "", errs.New(op, errs.KindIdentifierTooLong, nil)
		}
	}
	id := name
	if ext != "" {
		id += consts.ISO9660_SEPARATOR_1 + ext
	} else {
		id += consts.ISO9660_SEPARATOR_1
	}
	id += consts.ISO9660_SEPARATOR_2 + strconv.Itoa(int(version))
	return FileIdentifier(id), nil
}

// NewDirectoryIdentifier builds a directory's File Identifier: bare d-characters, no separators,
// rejected (IdentifierTooLong) if longer than 8 characters per the Level 1 interchange rules.
func NewDirectoryIdentifier(op, name string) (FileIdentifier, error) {
	if err := validation.ValidateDCharacters(name, false); err != nil {
		return "", errs.New(op, errs.KindInvalidCharacter, err)
	}
	if len(name) > 8 {
		return "", errs.New(op, errs.KindIdentifierTooLong, nil)
	}
	return FileIdentifier(name), nil
}

func (f FileIdentifier) String() string { return string(f) }
