package jt808

import "encoding/binary"

// Marker opens and closes every frame; its appearance inside a payload is
// escaped as 0x7D 0x02 (and a literal 0x7D as 0x7D 0x01).
const Marker = 0x7E

const escapeByte = 0x7D

// Unescape reverses the byte-stuffing over a frame interior.
func Unescape(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == escapeByte && i+1 < len(data) {
			switch data[i+1] {
			case 0x01:
				out = append(out, escapeByte)
				i++
				continue
			case 0x02:
				out = append(out, Marker)
				i++
				continue
			}
		}
		out = append(out, data[i])
	}
	return out
}

// Escape applies byte-stuffing for transmission. 0x7D must be substituted
// before 0x7E so the escape byte itself is never double-processed.
func Escape(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		switch b {
		case escapeByte:
			out = append(out, escapeByte, 0x01)
		case Marker:
			out = append(out, escapeByte, 0x02)
		default:
			out = append(out, b)
		}
	}
	return out
}

// Checksum is the XOR of all bytes.
func Checksum(data []byte) byte {
	var cs byte
	for _, b := range data {
		cs ^= b
	}
	return cs
}

// bcdString renders packed-decimal bytes as their digit string.
func bcdString(b []byte) string {
	const hexDigits = "0123456789ABCDEF"
	out := make([]byte, 0, len(b)*2)
	for _, v := range b {
		out = append(out, hexDigits[v>>4], hexDigits[v&0x0F])
	}
	return string(out)
}

// buildFrame assembles a complete wire frame: header (message id, body
// properties, terminal id as received, server serial), body, XOR checksum,
// escaping, markers. Decoding and reply generation share this path so a
// generated frame always round-trips through Decode.
func buildFrame(msgID uint16, terminalID []byte, serverSerial uint16, body []byte) []byte {
	content := make([]byte, 0, 4+len(terminalID)+2+len(body)+1)
	content = binary.BigEndian.AppendUint16(content, msgID)
	content = binary.BigEndian.AppendUint16(content, uint16(len(body)))
	content = append(content, terminalID...)
	content = binary.BigEndian.AppendUint16(content, serverSerial)
	content = append(content, body...)
	content = append(content, Checksum(content))

	frame := make([]byte, 0, len(content)+4)
	frame = append(frame, Marker)
	frame = append(frame, Escape(content)...)
	frame = append(frame, Marker)
	return frame
}
