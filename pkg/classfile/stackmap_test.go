package classfile

import (
	"errors"
	"testing"
)

func TestStackMapTagDecoding(t *testing.T) {
	// frame list: SameFrame(12), SameLocals1(tag 70 -> delta 6, int),
	// Chop(249 -> k=2, delta 3), SameExtended(251, delta 300),
	// Append(253 -> 2 locals, delta 7), Full(255).
	body := []byte{
		0, 6, // number_of_entries
		12,           // SameFrame, delta 12
		70, VTInteger, // SameLocals1StackItem, delta 6
		249, 0, 3, // Chop k=2
		251, 1, 44, // SameFrameExtended delta 300
		253, 0, 7, VTLong, VTFloat, // Append, 2 locals
		255, 0, 9, // Full, delta 9
		0, 1, VTNull, // 1 local
		0, 2, VTInteger, VTTop, // 2 stack items
	}
	frames, err := parseStackMapTable(body)
	if err != nil {
		t.Fatalf("parseStackMapTable: %v", err)
	}
	if len(frames) != 6 {
		t.Fatalf("frames: got %d, want 6", len(frames))
	}

	want := []struct {
		kind  FrameKind
		delta uint16
	}{
		{FrameSame, 12},
		{FrameSameLocals1StackItem, 6},
		{FrameChop, 3},
		{FrameSameExtended, 300},
		{FrameAppend, 7},
		{FrameFull, 9},
	}
	for i, w := range want {
		if frames[i].Kind != w.kind || frames[i].OffsetDelta != w.delta {
			t.Errorf("frame %d: got kind=%d delta=%d, want kind=%d delta=%d",
				i, frames[i].Kind, frames[i].OffsetDelta, w.kind, w.delta)
		}
	}
	if frames[2].ChopCount != 2 {
		t.Errorf("chop count: got %d, want 2", frames[2].ChopCount)
	}
	if len(frames[4].Locals) != 2 || frames[4].Locals[0].Tag != VTLong {
		t.Errorf("append locals: %+v", frames[4].Locals)
	}
	if len(frames[5].Locals) != 1 || len(frames[5].Stack) != 2 {
		t.Errorf("full frame: locals=%d stack=%d", len(frames[5].Locals), len(frames[5].Stack))
	}
}

func TestStackMapObjectAndUninitialized(t *testing.T) {
	body := []byte{
		0, 2,
		64 + 0, VTObject, 0, 9, // SameLocals1, object at cp 9
		66, VTUninitialized, 0, 17, // SameLocals1, uninitialized(17)
	}
	frames, err := parseStackMapTable(body)
	if err != nil {
		t.Fatalf("parseStackMapTable: %v", err)
	}
	if frames[0].Stack[0].Tag != VTObject || frames[0].Stack[0].CPIndex != 9 {
		t.Errorf("object type: %+v", frames[0].Stack[0])
	}
	if frames[1].Stack[0].Tag != VTUninitialized || frames[1].Stack[0].Offset != 17 {
		t.Errorf("uninitialized type: %+v", frames[1].Stack[0])
	}
}

func TestStackMapReservedTag(t *testing.T) {
	body := []byte{0, 1, 200} // tags 128..246 are reserved
	if _, err := parseStackMapTable(body); !errors.Is(err, ErrMalformedAttribute) {
		t.Errorf("reserved tag: got %v, want ErrMalformedAttribute", err)
	}
}

func TestStackMapTruncated(t *testing.T) {
	body := []byte{0, 1, 255, 0, 9, 0, 5, VTNull} // Full frame claiming 5 locals
	if _, err := parseStackMapTable(body); !errors.Is(err, ErrMalformedAttribute) {
		t.Errorf("truncated: got %v, want ErrMalformedAttribute", err)
	}
}

func TestMUTF8RoundTrip(t *testing.T) {
	cases := []string{
		"hello",
		"héllo wörld",
		"\x00embedded nul",
		"\U0001F600 supplementary", // needs the 6-byte surrogate form
		"日本語",
	}
	for _, s := range cases {
		enc := EncodeMUTF8(s)
		dec, err := DecodeMUTF8(enc)
		if err != nil {
			t.Errorf("DecodeMUTF8(%q): %v", s, err)
			continue
		}
		if dec != s {
			t.Errorf("round trip %q: got %q", s, dec)
		}
	}
}

func TestMUTF8RejectsBadInput(t *testing.T) {
	bad := [][]byte{
		{0x00},             // raw NUL is not allowed
		{0xC0},             // truncated 2-byte
		{0xE0, 0x80},       // truncated 3-byte
		{0xF0, 0x90, 0x80, 0x80}, // 4-byte form never appears in MUTF-8
		{0xED, 0xB0, 0x80}, // unpaired low surrogate
	}
	for _, b := range bad {
		if _, err := DecodeMUTF8(b); err == nil {
			t.Errorf("DecodeMUTF8(% X) succeeded, want error", b)
		}
	}
}
