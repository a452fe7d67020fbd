// Package fingerprint derives the content-addressable cache key of a segment
// generation: identical directive, input bytes and backend version always map
// to the same key.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"

	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
)

// Compute returns the hex SHA-256 fingerprint of a generation request.
// input may be nil when the directive references no input content.
func Compute(d model.Directive, input []byte, backendVersion string) (string, error) {
	canonical, err := Canonical(d)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	writePart(h, "directive", canonical)
	if len(input) > 0 {
		writePart(h, "input", input)
	}
	writePart(h, "backend", []byte(backendVersion))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Canonical serializes a directive with a stable field and key order.
// encoding/json sorts map keys at every nesting level.
func Canonical(d model.Directive) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize directive: %w", err)
	}
	return data, nil
}

// writePart length-prefixes each part so adjacent parts cannot run together.
func writePart(h hash.Hash, label string, data []byte) {
	var n [8]byte
	h.Write([]byte(label))
	binary.BigEndian.PutUint64(n[:], uint64(len(data)))
	h.Write(n[:])
	h.Write(data)
}
