package chunk

import "testing"

func TestChecksumAndValidate(t *testing.T) {
	m := NewManager()
	data := []byte("some chunk payload")
	sum := m.Checksum(data)

	if !m.Validate(data, sum) {
		t.Error("Validate(data, checksum(data)) = false, want true")
	}
	if m.Validate(data, "not-the-checksum") {
		t.Error("Validate(data, wrong checksum) = true, want false")
	}
}

func TestCreateChunk(t *testing.T) {
	m := NewManager()
	src := []byte("0123456789")

	c := m.CreateChunk(src, 2, 4)
	if string(c) != "2345" {
		t.Errorf("CreateChunk() = %q, want %q", c, "2345")
	}

	tail := m.CreateChunk(src, 8, 10)
	if string(tail) != "89" {
		t.Errorf("CreateChunk() truncated tail = %q, want %q", tail, "89")
	}

	beyond := m.CreateChunk(src, 20, 4)
	if beyond != nil {
		t.Errorf("CreateChunk() past end = %v, want nil", beyond)
	}
}

func TestTotalChunks(t *testing.T) {
	tests := []struct {
		fileSize, chunkSize int64
		want                int
	}{
		{0, 1024, 1},
		{1024, 1024, 1},
		{1025, 1024, 2},
		{10000, 1024, 10},
	}
	for _, tt := range tests {
		got := totalChunks(tt.fileSize, tt.chunkSize)
		if got != tt.want {
			t.Errorf("totalChunks(%d, %d) = %d, want %d", tt.fileSize, tt.chunkSize, got, tt.want)
		}
	}
}
