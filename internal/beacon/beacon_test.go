package beacon

import "testing"

func TestEncodeDecode(t *testing.T) {
	b := Encode("kitchen", 8080)
	if len(b) != payloadLen {
		t.Fatalf("len = %d, want %d", len(b), payloadLen)
	}
	if b[0] != 0x01 || b[1] != 0xD1 {
		t.Fatalf("magic = % X", b[:2])
	}

	hash, port, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if hash != DeviceHash("kitchen") {
		t.Errorf("hash = %#x, want %#x", hash, DeviceHash("kitchen"))
	}
	if port != 8080 {
		t.Errorf("port = %d, want 8080", port)
	}
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"short", []byte{0x01, 0xD1, 0x00}},
		{"bad magic", []byte{0x01, 0xD0, 0, 0, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Decode(tt.in); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDeviceHash_Distinct(t *testing.T) {
	if DeviceHash("a") == DeviceHash("b") {
		t.Fatal("hash collision on trivial ids")
	}
	if DeviceHash("") != 0x811c9dc5 {
		t.Fatalf("empty hash = %#x, want FNV offset basis", DeviceHash(""))
	}
}
