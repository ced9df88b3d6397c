package cache

import (
	"encoding/binary"
	"math"
)

// Embedding blobs are fixed-width float32 arrays, 4 bytes per value,
// little-endian. The blob length is always dimension * 4.

func packEmbedding(embedding []float32) []byte {
	blob := make([]byte, 4*len(embedding))
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(blob[4*i:], math.Float32bits(v))
	}
	return blob
}

func unpackEmbedding(blob []byte) []float32 {
	embedding := make([]float32, len(blob)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return embedding
}
