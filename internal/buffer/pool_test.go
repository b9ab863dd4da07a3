package buffer

import "testing"

func TestGetPooled_SizeBuckets(t *testing.T) {
	tests := []struct {
		name        string
		requestSize uint64
		expectCap   int
	}{
		{"64KB bucket - exact", 64 * 1024, 64 * 1024},
		{"64KB bucket - smaller", 40 * 1024, 64 * 1024},
		{"256KB bucket - exact", 256 * 1024, 256 * 1024},
		{"256KB bucket - smaller", 200 * 1024, 256 * 1024},
		{"1MB bucket - exact", 1024 * 1024, 1024 * 1024},
		{"1MB bucket - smaller", 800 * 1024, 1024 * 1024},
		{"4MB bucket - exact", 4 * 1024 * 1024, 4 * 1024 * 1024},
		{"oversized falls through", 8 * 1024 * 1024, 8 * 1024 * 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := GetPooled(tt.requestSize)
			if len(buf) != int(tt.requestSize) {
				t.Errorf("GetPooled(%d) returned len=%d, want %d", tt.requestSize, len(buf), tt.requestSize)
			}
			if cap(buf) != tt.expectCap {
				t.Errorf("GetPooled(%d) returned cap=%d, want %d", tt.requestSize, cap(buf), tt.expectCap)
			}
			PutPooled(buf)
		})
	}
}

func TestPutPooled_NonStandardCap(t *testing.T) {
	buf := make([]byte, 100*1024) // not a standard bucket
	PutPooled(buf)                // must not panic
}
