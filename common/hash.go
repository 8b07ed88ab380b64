package common

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// ComputeHash computes the BLAKE2b-256 hash of the given data
func ComputeHash(data []byte) []byte {
	hash := blake2b.Sum256(data)
	return hash[:]
}

func Blake2Hash(data []byte) Hash {
	return BytesToHash(ComputeHash(data))
}

// Blake2_128 is the 16-byte BLAKE2b digest used by Blake2_128Concat map hashers.
func Blake2_128(data []byte) []byte {
	h, _ := blake2b.New(16, nil)
	h.Write(data)
	return h.Sum(nil)
}

func Blake2_128Concat(data []byte) []byte {
	return append(Blake2_128(data), data...)
}

// Twox64 is xxhash64 with seed 0, little endian.
func Twox64(data []byte) []byte {
	return twox(data, 1)
}

// Twox128 concatenates xxhash64 with seeds 0 and 1; storage prefixes are built from it.
func Twox128(data []byte) []byte {
	return twox(data, 2)
}

func Twox256(data []byte) []byte {
	return twox(data, 4)
}

func Twox64Concat(data []byte) []byte {
	return append(Twox64(data), data...)
}

func twox(data []byte, rounds int) []byte {
	out := make([]byte, 0, 8*rounds)
	for seed := 0; seed < rounds; seed++ {
		d := xxhash.NewWithSeed(uint64(seed))
		d.Write(data)
		out = binary.LittleEndian.AppendUint64(out, d.Sum64())
	}
	return out
}

func Keccak256(data []byte) Hash {
	hash := sha3.NewLegacyKeccak256()
	hash.Write(data)
	h := hash.Sum(nil)
	return BytesToHash(h)
}

// HashString returns the SHA-256 digest of text as an H256.
func HashString(text string) Hash {
	return Hash(sha256.Sum256([]byte(text)))
}

// HashReader streams r through SHA-256.
func HashReader(r io.Reader) (Hash, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return Hash{}, fmt.Errorf("hashing failed: %w", err)
	}
	return BytesToHash(h.Sum(nil)), nil
}

// HashFile hashes a model file with SHA-256; the result is the model hash submitted on chain.
func HashFile(path string) (Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return Hash{}, fmt.Errorf("file hashing failed: %w", err)
	}
	defer f.Close()
	return HashReader(f)
}
