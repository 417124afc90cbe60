package storage

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// UTF8 is the canonical name reported for UTF-8 content.
const UTF8 = "UTF-8"

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// lookupEncoding resolves an encoding label to a codec and its canonical
// name. An empty label means UTF-8.
func lookupEncoding(label string) (encoding.Encoding, string, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "utf-8", "utf8":
		return unicode.UTF8, UTF8, nil
	case "utf-16le", "utf16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), "UTF-16LE", nil
	case "utf-16be", "utf16be", "utf-16":
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM), "UTF-16BE", nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, "", fmt.Errorf("storage: unknown encoding %q: %w", label, err)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		name = label
	}
	return enc, name, nil
}

// CheckEncoding reports whether label names a supported encoding.
func CheckEncoding(label string) error {
	_, _, err := lookupEncoding(label)
	return err
}

// decode sniffs the byte-order mark, then UTF-8 validity, and finally
// falls back to the configured single-byte encoding.
func decode(data []byte, fallback string) (string, string, error) {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return string(data[len(bomUTF8):]), UTF8, nil
	case bytes.HasPrefix(data, bomUTF16LE):
		out, err := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder().Bytes(data)
		if err != nil {
			return "", "", fmt.Errorf("storage: decode UTF-16LE: %w", err)
		}
		return string(out), "UTF-16LE", nil
	case bytes.HasPrefix(data, bomUTF16BE):
		out, err := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().Bytes(data)
		if err != nil {
			return "", "", fmt.Errorf("storage: decode UTF-16BE: %w", err)
		}
		return string(out), "UTF-16BE", nil
	case utf8.Valid(data):
		return string(data), UTF8, nil
	}

	enc, name, err := lookupEncoding(fallback)
	if err != nil {
		return "", "", err
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", "", fmt.Errorf("storage: decode %s: %w", name, err)
	}
	return string(out), name, nil
}

// encode converts content to the named encoding. Runes the target cannot
// represent are replaced rather than failing the save.
func encode(content, label string) ([]byte, string, error) {
	enc, name, err := lookupEncoding(label)
	if err != nil {
		return nil, "", err
	}
	if name == UTF8 {
		return []byte(content), name, nil
	}
	out, err := encoding.ReplaceUnsupported(enc.NewEncoder()).Bytes([]byte(content))
	if err != nil {
		return nil, "", fmt.Errorf("storage: encode %s: %w", name, err)
	}
	return out, name, nil
}
