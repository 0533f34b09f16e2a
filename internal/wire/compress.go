package wire

import (
	"bytes"
	"compress/zlib"
	"crypto/rand"
	"io"
)

// ZlibCompress compresses b per spec.md §4.2/§6 ("assembled payload is
// zlib-compressed bytes"). Stdlib compress/zlib is used directly: it is the
// exact container format the wire mandates, and no third-party zlib
// container codec appears anywhere in the example corpus (see DESIGN.md).
func ZlibCompress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ZlibDecompress reverses ZlibCompress.
func ZlibDecompress(b []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// MakeChaff returns 0-16 random octets to randomise ciphertext length, per
// spec.md §3/§4.5.1.
func MakeChaff() ([]byte, error) {
	var n [1]byte
	if _, err := rand.Read(n[:]); err != nil {
		return nil, err
	}
	length := int(n[0]) % 17
	chaff := make([]byte, length)
	if length > 0 {
		if _, err := rand.Read(chaff); err != nil {
			return nil, err
		}
	}
	return chaff, nil
}
