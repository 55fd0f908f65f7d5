package voice

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// TopicSize is the length of a mesh pub/sub topic identifier.
const TopicSize = 32

// DeriveTopic builds the 32-byte topic id isolating one voice channel within
// one document. Layout, in order:
//
//	[0:8]   h1 little-endian, h1 = xxhash64(docID ∥ channelID)
//	[8:16]  h1 big-endian
//	[16:24] first 8 bytes of the document id (zero-padded if shorter)
//	[24:32] h2 little-endian, h2 = xxhash64(channelID)
//
// The redundant mixing is a domain-separation construct; the byte layout is
// wire-visible and must not change. xxhash is not collision-resistant against
// adversaries — acceptable for addressing, not for authentication.
func DeriveTopic(docID []byte, channelID string) [TopicSize]byte {
	var topic [TopicSize]byte

	d := xxhash.New()
	_, _ = d.Write(docID)
	_, _ = d.Write([]byte(channelID))
	h1 := d.Sum64()

	binary.LittleEndian.PutUint64(topic[0:8], h1)
	binary.BigEndian.PutUint64(topic[8:16], h1)
	copy(topic[16:24], docID)
	binary.LittleEndian.PutUint64(topic[24:32], xxhash.Sum64String(channelID))

	return topic
}

// DocumentTopic returns the legacy whole-document topic: the first 32 bytes
// of the document id, zero-padded. Every voice channel on the document
// shares this topic.
func DocumentTopic(docID []byte) [TopicSize]byte {
	var topic [TopicSize]byte
	copy(topic[:], docID)
	return topic
}
