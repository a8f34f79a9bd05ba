package protocol

// Wire identifies which decoder a frame belongs to, derived from its first
// one or two bytes. New protocols add a tag here and a decoder case in the
// ingest dispatch, not another branch in a conditional chain.
type Wire int

const (
	WireUnknown Wire = iota
	WireHQ
	WireJT808
	WireGT06
)

func (w Wire) String() string {
	switch w {
	case WireHQ:
		return "hq"
	case WireJT808:
		return "jt808"
	case WireGT06:
		return "gt06"
	}
	return "unknown"
}

// Sniff maps a byte prefix to a wire-format tag. There is no negotiation on
// the shared endpoints, so the leading marker is all we ever get.
func Sniff(data []byte) Wire {
	switch {
	case len(data) >= 1 && data[0] == 0x7E:
		return WireJT808
	case len(data) >= 2 && data[0] == 0x78 && data[1] == 0x78:
		return WireGT06
	case len(data) >= 1 && data[0] == '*':
		return WireHQ
	}
	return WireUnknown
}
