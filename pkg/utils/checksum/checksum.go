package checksum

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// Bytes returns a hex encoded xxhash of data.
func Bytes(data []byte) string {
	digest := xxhash.New()
	_, _ = digest.Write(data)
	return hex.EncodeToString(digest.Sum(nil))
}

// File streams a file into xxhash. The result is equal to Bytes of the file content.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	digest := xxhash.New()
	if _, err := io.Copy(digest, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}
