package voice

import "errors"

// Wire framing: a 4-byte header followed by one Opus packet.
//
//	byte 0-1  sequence number, little-endian
//	byte 2    1 if the sender enabled in-band FEC for this frame, else 0
//	byte 3    reserved, must be written as zero; receivers ignore it
const (
	HeaderSize    = 4
	MaxPacketSize = HeaderSize + MaxOpusPacket
)

// ReorderWindow is the number of out-of-order frames tolerated before a
// packet is treated as late.
const ReorderWindow = 16

var ErrShortPacket = errors.New("voice: packet shorter than header")

// MakeHeader builds the 4-byte packet header.
func MakeHeader(seq uint16, hasFEC bool) [HeaderSize]byte {
	var h [HeaderSize]byte
	h[0] = byte(seq)
	h[1] = byte(seq >> 8)
	if hasFEC {
		h[2] = 1
	}
	return h
}

// ParsePacket splits a wire packet into its header fields and Opus payload.
// The payload aliases the input slice.
func ParsePacket(data []byte) (seq uint16, hasFEC bool, payload []byte, err error) {
	if len(data) < HeaderSize {
		return 0, false, nil, ErrShortPacket
	}
	seq = uint16(data[0]) | uint16(data[1])<<8
	hasFEC = data[2] != 0
	return seq, hasFEC, data[HeaderSize:], nil
}

// seqLessThan reports whether a precedes b in wrapping uint16 order.
func seqLessThan(a, b uint16) bool {
	return (b-a) > 0 && (b-a) < 0x8000
}
