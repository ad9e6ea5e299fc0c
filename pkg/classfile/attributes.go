package classfile

import (
	"encoding/binary"
	"fmt"
)

// parseCodeAttribute parses the Code attribute eagerly, including its
// nested attributes (StackMapTable, LineNumberTable, LocalVariableTable).
func parseCodeAttribute(data []byte, pool []ConstantPoolEntry) (*CodeAttribute, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: Code attribute %d bytes", ErrMalformedAttribute, len(data))
	}

	maxStack := binary.BigEndian.Uint16(data[0:2])
	maxLocals := binary.BigEndian.Uint16(data[2:4])
	codeLength := binary.BigEndian.Uint32(data[4:8])

	if len(data) < 8+int(codeLength) {
		return nil, fmt.Errorf("%w: code_length %d exceeds attribute", ErrMalformedAttribute, codeLength)
	}

	code := make([]byte, codeLength)
	copy(code, data[8:8+codeLength])

	offset := 8 + int(codeLength)
	if offset+2 > len(data) {
		return nil, fmt.Errorf("%w: missing exception table", ErrMalformedAttribute)
	}
	exTableLen := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2
	handlers := make([]ExceptionHandler, exTableLen)
	for i := uint16(0); i < exTableLen; i++ {
		if offset+8 > len(data) {
			return nil, fmt.Errorf("%w: exception table truncated at entry %d", ErrMalformedAttribute, i)
		}
		handlers[i] = ExceptionHandler{
			StartPC:   binary.BigEndian.Uint16(data[offset : offset+2]),
			EndPC:     binary.BigEndian.Uint16(data[offset+2 : offset+4]),
			HandlerPC: binary.BigEndian.Uint16(data[offset+4 : offset+6]),
			CatchType: binary.BigEndian.Uint16(data[offset+6 : offset+8]),
		}
		offset += 8
	}

	ca := &CodeAttribute{
		MaxStack:          maxStack,
		MaxLocals:         maxLocals,
		Code:              code,
		ExceptionHandlers: handlers,
	}

	if offset+2 > len(data) {
		return nil, fmt.Errorf("%w: missing Code sub-attribute count", ErrMalformedAttribute)
	}
	attrCount := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2
	for i := uint16(0); i < attrCount; i++ {
		if offset+6 > len(data) {
			return nil, fmt.Errorf("%w: Code sub-attribute %d header", ErrMalformedAttribute, i)
		}
		nameIndex := binary.BigEndian.Uint16(data[offset : offset+2])
		length := binary.BigEndian.Uint32(data[offset+2 : offset+6])
		offset += 6
		if offset+int(length) > len(data) {
			return nil, fmt.Errorf("%w: Code sub-attribute %d body", ErrMalformedAttribute, i)
		}
		body := data[offset : offset+int(length)]
		offset += int(length)

		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			continue // unknown name: skip by length
		}
		ca.Attributes = append(ca.Attributes, AttributeInfo{Name: name, Data: body})

		switch name {
		case "StackMapTable":
			frames, err := parseStackMapTable(body)
			if err != nil {
				return nil, err
			}
			ca.StackMapTable = frames
			ca.HasStackMapTable = true
		case "LineNumberTable":
			ca.LineNumbers, err = parseLineNumberTable(body)
			if err != nil {
				return nil, err
			}
		case "LocalVariableTable":
			ca.LocalVariables, err = parseLocalVariableTable(body)
			if err != nil {
				return nil, err
			}
		}
	}

	return ca, nil
}

// stackMapReader walks a StackMapTable body with bounds checks.
type stackMapReader struct {
	data []byte
	pos  int
}

func (r *stackMapReader) u8() (uint8, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("%w: StackMapTable truncated", ErrMalformedAttribute)
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *stackMapReader) u16() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, fmt.Errorf("%w: StackMapTable truncated", ErrMalformedAttribute)
	}
	v := binary.BigEndian.Uint16(r.data[r.pos : r.pos+2])
	r.pos += 2
	return v, nil
}

func (r *stackMapReader) verificationType() (VerificationTypeInfo, error) {
	tag, err := r.u8()
	if err != nil {
		return VerificationTypeInfo{}, err
	}
	switch tag {
	case VTTop, VTInteger, VTFloat, VTDouble, VTLong, VTNull, VTUninitializedThis:
		return VerificationTypeInfo{Tag: tag}, nil
	case VTObject:
		idx, err := r.u16()
		if err != nil {
			return VerificationTypeInfo{}, err
		}
		return VerificationTypeInfo{Tag: tag, CPIndex: idx}, nil
	case VTUninitialized:
		off, err := r.u16()
		if err != nil {
			return VerificationTypeInfo{}, err
		}
		return VerificationTypeInfo{Tag: tag, Offset: off}, nil
	default:
		return VerificationTypeInfo{}, fmt.Errorf("%w: verification type tag %d", ErrMalformedAttribute, tag)
	}
}

// parseStackMapTable decodes the frame list. The single type-tag byte
// selects the frame form; see JVMS 4.7.4.
func parseStackMapTable(data []byte) ([]StackMapFrame, error) {
	r := &stackMapReader{data: data}
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	frames := make([]StackMapFrame, 0, n)
	for i := uint16(0); i < n; i++ {
		tag, err := r.u8()
		if err != nil {
			return nil, err
		}
		var f StackMapFrame
		switch {
		case tag <= 63:
			f = StackMapFrame{Kind: FrameSame, OffsetDelta: uint16(tag)}

		case tag <= 127:
			vt, err := r.verificationType()
			if err != nil {
				return nil, err
			}
			f = StackMapFrame{
				Kind:        FrameSameLocals1StackItem,
				OffsetDelta: uint16(tag - 64),
				Stack:       []VerificationTypeInfo{vt},
			}

		case tag < 247:
			return nil, fmt.Errorf("%w: reserved frame tag %d", ErrMalformedAttribute, tag)

		case tag == 247:
			delta, err := r.u16()
			if err != nil {
				return nil, err
			}
			vt, err := r.verificationType()
			if err != nil {
				return nil, err
			}
			f = StackMapFrame{
				Kind:        FrameSameLocals1StackItemExtended,
				OffsetDelta: delta,
				Stack:       []VerificationTypeInfo{vt},
			}

		case tag <= 250:
			delta, err := r.u16()
			if err != nil {
				return nil, err
			}
			f = StackMapFrame{Kind: FrameChop, OffsetDelta: delta, ChopCount: uint16(251 - tag)}

		case tag == 251:
			delta, err := r.u16()
			if err != nil {
				return nil, err
			}
			f = StackMapFrame{Kind: FrameSameExtended, OffsetDelta: delta}

		case tag <= 254:
			delta, err := r.u16()
			if err != nil {
				return nil, err
			}
			count := int(tag - 251)
			locals := make([]VerificationTypeInfo, count)
			for j := 0; j < count; j++ {
				if locals[j], err = r.verificationType(); err != nil {
					return nil, err
				}
			}
			f = StackMapFrame{Kind: FrameAppend, OffsetDelta: delta, Locals: locals}

		default: // 255
			delta, err := r.u16()
			if err != nil {
				return nil, err
			}
			nLocals, err := r.u16()
			if err != nil {
				return nil, err
			}
			locals := make([]VerificationTypeInfo, nLocals)
			for j := range locals {
				if locals[j], err = r.verificationType(); err != nil {
					return nil, err
				}
			}
			nStack, err := r.u16()
			if err != nil {
				return nil, err
			}
			stack := make([]VerificationTypeInfo, nStack)
			for j := range stack {
				if stack[j], err = r.verificationType(); err != nil {
					return nil, err
				}
			}
			f = StackMapFrame{Kind: FrameFull, OffsetDelta: delta, Locals: locals, Stack: stack}
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func parseLineNumberTable(data []byte) ([]LineNumberEntry, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: LineNumberTable too short", ErrMalformedAttribute)
	}
	n := binary.BigEndian.Uint16(data[0:2])
	if len(data) < 2+4*int(n) {
		return nil, fmt.Errorf("%w: LineNumberTable length mismatch", ErrMalformedAttribute)
	}
	out := make([]LineNumberEntry, n)
	for i := 0; i < int(n); i++ {
		base := 2 + 4*i
		out[i] = LineNumberEntry{
			StartPC: binary.BigEndian.Uint16(data[base : base+2]),
			Line:    binary.BigEndian.Uint16(data[base+2 : base+4]),
		}
	}
	return out, nil
}

func parseLocalVariableTable(data []byte) ([]LocalVariableEntry, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: LocalVariableTable too short", ErrMalformedAttribute)
	}
	n := binary.BigEndian.Uint16(data[0:2])
	if len(data) < 2+10*int(n) {
		return nil, fmt.Errorf("%w: LocalVariableTable length mismatch", ErrMalformedAttribute)
	}
	out := make([]LocalVariableEntry, n)
	for i := 0; i < int(n); i++ {
		base := 2 + 10*i
		out[i] = LocalVariableEntry{
			StartPC:   binary.BigEndian.Uint16(data[base : base+2]),
			Length:    binary.BigEndian.Uint16(data[base+2 : base+4]),
			NameIndex: binary.BigEndian.Uint16(data[base+4 : base+6]),
			DescIndex: binary.BigEndian.Uint16(data[base+6 : base+8]),
			Slot:      binary.BigEndian.Uint16(data[base+8 : base+10]),
		}
	}
	return out, nil
}
