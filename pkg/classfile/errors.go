package classfile

import "errors"

// Parse failures fall into one of these kinds; callers test with errors.Is.
var (
	// ErrTruncatedFile means the byte stream ended before the structure did.
	ErrTruncatedFile = errors.New("truncated class file")

	// ErrBadMagic means the file does not start with 0xCAFEBABE.
	ErrBadMagic = errors.New("bad magic number")

	// ErrUnsupportedVersion means the major version is outside 45..67.
	ErrUnsupportedVersion = errors.New("unsupported class file version")

	// ErrMalformedConstantPool covers bad tags, bad indices, reserved-slot
	// dereferences and invalid modified-UTF-8.
	ErrMalformedConstantPool = errors.New("malformed constant pool")

	// ErrMalformedAttribute covers attributes whose content contradicts
	// their declared length or internal counts.
	ErrMalformedAttribute = errors.New("malformed attribute")
)
