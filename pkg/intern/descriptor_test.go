package intern

import "testing"

func TestFieldDescriptorRoundTrip(t *testing.T) {
	descs := []string{
		"I", "J", "D", "F", "Z", "B", "C", "S",
		"Ljava/lang/String;",
		"[I",
		"[[Ljava/util/Map;",
		"[[[D",
	}
	for _, d := range descs {
		parsed, err := ParseFieldDescriptor(d)
		if err != nil {
			t.Errorf("ParseFieldDescriptor(%q): %v", d, err)
			continue
		}
		if got := parsed.JVMRepresentation(); got != d {
			t.Errorf("round trip %q: got %q", d, got)
		}
	}
}

func TestArrayNormalization(t *testing.T) {
	parsed, err := ParseFieldDescriptor("[[[Ljava/lang/Object;")
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Kind != KindArray {
		t.Fatalf("Kind: got %d, want KindArray", parsed.Kind)
	}
	if parsed.Depth != 3 {
		t.Errorf("Depth: got %d, want 3", parsed.Depth)
	}
	if parsed.Elem != KindClass {
		t.Errorf("Elem: got %d, want KindClass", parsed.Elem)
	}
	// Structural equality via ==
	other := ArrayOf(ArrayOf(ArrayOf(ClassTypeNamed("java/lang/Object"))))
	if parsed != other {
		t.Errorf("normalized arrays compare unequal: %+v vs %+v", parsed, other)
	}
	// Peeling one dimension
	elem := parsed.ElemType()
	if elem.Depth != 2 || elem.Kind != KindArray {
		t.Errorf("ElemType: got %+v", elem)
	}
}

func TestMethodDescriptorRoundTrip(t *testing.T) {
	descs := []string{
		"()V",
		"(I)I",
		"(Ljava/lang/String;)V",
		"([Ljava/lang/String;)V",
		"(IJLjava/lang/Object;[[Z)Ljava/lang/String;",
		"(DD)D",
	}
	for _, d := range descs {
		parsed, err := ParseMethodDescriptor(d)
		if err != nil {
			t.Errorf("ParseMethodDescriptor(%q): %v", d, err)
			continue
		}
		if got := parsed.JVMRepresentation(); got != d {
			t.Errorf("round trip %q: got %q", d, got)
		}
	}
}

func TestMethodDescriptorSlotCount(t *testing.T) {
	d, err := ParseMethodDescriptor("(IJD[JLjava/lang/String;)V")
	if err != nil {
		t.Fatal(err)
	}
	// I=1 J=2 D=2 [J=1 String=1
	if got := d.SlotCount(); got != 7 {
		t.Errorf("SlotCount: got %d, want 7", got)
	}
}

func TestMalformedDescriptors(t *testing.T) {
	bad := []string{"", "L", "Lfoo", "X", "(", "(I", "(I)", "()VX", "[V"}
	for _, d := range bad {
		if _, err := ParseFieldDescriptor(d); err == nil {
			if _, err2 := ParseMethodDescriptor(d); err2 == nil {
				t.Errorf("descriptor %q parsed without error", d)
			}
		}
	}
}
