package protocol

import "testing"

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Wire
	}{
		{"jt808 marker", []byte{0x7E, 0x00, 0x02}, WireJT808},
		{"gt06 start bytes", []byte{0x78, 0x78, 0x0A}, WireGT06},
		{"text star", []byte("*HQ,123,V1#"), WireHQ},
		{"single 0x78", []byte{0x78}, WireUnknown},
		{"empty", nil, WireUnknown},
		{"garbage", []byte{0x00, 0x01, 0x02}, WireUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sniff(tt.data); got != tt.want {
				t.Errorf("Sniff() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWireString(t *testing.T) {
	if WireHQ.String() != "hq" || WireJT808.String() != "jt808" || WireGT06.String() != "gt06" || WireUnknown.String() != "unknown" {
		t.Error("Wire.String() mismatch")
	}
}
