package archive

import (
	"crypto/sha256"
	"encoding/hex"
)

const treeHashChunk = 1 << 20

// TreeHash computes the SHA-256 tree hash the archive service expects as the
// checksum of an upload: hashes of 1 MiB chunks combined pairwise until one remains.
func TreeHash(data []byte) string {
	if len(data) == 0 {
		sum := sha256.Sum256(nil)
		return hex.EncodeToString(sum[:])
	}
	level := make([][]byte, 0, (len(data)+treeHashChunk-1)/treeHashChunk)
	for off := 0; off < len(data); off += treeHashChunk {
		end := off + treeHashChunk
		if end > len(data) {
			end = len(data)
		}
		sum := sha256.Sum256(data[off:end])
		level = append(level, sum[:])
	}
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			h := sha256.New()
			h.Write(level[i])
			h.Write(level[i+1])
			next = append(next, h.Sum(nil))
		}
		level = next
	}
	return hex.EncodeToString(level[0])
}
