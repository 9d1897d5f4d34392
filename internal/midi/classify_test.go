package midi

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		b    []byte
		want Class
	}{
		{"note-on", []byte{0x90, 0x40, 0x7F}, RealTime},
		{"note-off", []byte{0x80, 0x40, 0x00}, RealTime},
		{"pitch-bend-high-channel", []byte{0xEF, 0x01, 0x01}, RealTime},
		{"sysex-start", []byte{0xF0, 0x43, 0x10, 0xF7}, NonRealTime},
		{"sysex-end-alone", []byte{0xF7}, NonRealTime},
		{"system-common-song-select", []byte{0xF3, 0x05}, RealTime},
		{"system-common-tune-request", []byte{0xF6}, RealTime},
		{"timing-clock", []byte{0xF8}, RealTime},
		{"active-sensing", []byte{0xFE}, RealTime},
		{"system-reset", []byte{0xFF}, RealTime},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.b); got != tc.want {
				t.Fatalf("Classify(%v) = %v, want %v", tc.b, got, tc.want)
			}
		})
	}
}

func TestClassifyIsTotal(t *testing.T) {
	// Every possible leading status byte must classify to exactly one class.
	for b := 0; b <= 0xFF; b++ {
		got := Classify([]byte{byte(b)})
		if got != RealTime && got != NonRealTime {
			t.Fatalf("byte 0x%02X classified to invalid class %v", b, got)
		}
	}
}
