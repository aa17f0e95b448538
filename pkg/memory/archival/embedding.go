package archival

import (
	"encoding/binary"
	"math"
)

// packEmbedding serializes a float32 vector as little-endian bytes, the
// layout documented on ArchivalMemory.embedding and LearnedPattern.embedding.
func packEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// unpackEmbedding reverses packEmbedding.
func unpackEmbedding(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
