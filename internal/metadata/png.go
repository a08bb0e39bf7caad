package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

var errNotPNG = errors.New("not a PNG file")

// descriptionKey is written as iTXt (UTF-8 capable); all other keys as tEXt.
const descriptionKey = "Description"

type pngChunk struct {
	typ  string
	data []byte
}

func readPNGChunks(data []byte) ([]pngChunk, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, errNotPNG
	}
	rest := data[len(pngSignature):]

	var chunks []pngChunk
	for len(rest) > 0 {
		if len(rest) < 12 {
			return nil, errors.New("truncated PNG chunk")
		}
		length := binary.BigEndian.Uint32(rest[:4])
		if uint64(len(rest)) < 12+uint64(length) {
			return nil, errors.New("truncated PNG chunk data")
		}
		typ := string(rest[4:8])
		chunkData := rest[8 : 8+length]
		want := binary.BigEndian.Uint32(rest[8+length : 12+length])
		crc := crc32.NewIEEE()
		crc.Write(rest[4:8])
		crc.Write(chunkData)
		if crc.Sum32() != want {
			return nil, fmt.Errorf("bad CRC in %s chunk", typ)
		}
		chunks = append(chunks, pngChunk{typ: typ, data: chunkData})
		rest = rest[12+length:]
		if typ == "IEND" {
			break
		}
	}
	return chunks, nil
}

func writePNGChunk(buf *bytes.Buffer, c pngChunk) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(c.data)))
	buf.Write(length[:])
	buf.WriteString(c.typ)
	buf.Write(c.data)

	crc := crc32.NewIEEE()
	crc.Write([]byte(c.typ))
	crc.Write(c.data)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	buf.Write(sum[:])
}

// pngTextValues returns the keyword/text pairs of all uncompressed tEXt and
// iTXt chunks in the file.
func pngTextValues(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	chunks, err := readPNGChunks(data)
	if err != nil {
		return nil, err
	}

	texts := make(map[string]string)
	for _, c := range chunks {
		switch c.typ {
		case "tEXt":
			if k, v, ok := bytes.Cut(c.data, []byte{0}); ok {
				texts[string(k)] = string(v)
			}
		case "iTXt":
			k, rest, ok := bytes.Cut(c.data, []byte{0})
			if !ok || len(rest) < 2 {
				continue
			}
			compressed := rest[0] == 1
			rest = rest[2:] // compression flag + method
			if _, rest, ok = bytes.Cut(rest, []byte{0}); !ok {
				continue // language tag
			}
			if _, rest, ok = bytes.Cut(rest, []byte{0}); !ok {
				continue // translated keyword
			}
			if compressed {
				continue
			}
			texts[string(k)] = string(rest)
		}
	}
	return texts, nil
}

// setPNGText rewrites the file with the given keyword/text pairs, replacing
// any existing text chunks. The Description key becomes an iTXt chunk, all
// others tEXt, inserted just before IEND.
func setPNGText(path string, fields map[string]string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	chunks, err := readPNGChunks(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	var buf bytes.Buffer
	buf.Write(pngSignature)
	wroteText := false
	for _, c := range chunks {
		switch c.typ {
		case "tEXt", "iTXt", "zTXt":
			continue
		case "IEND":
			for _, k := range sortedKeys(fields) {
				writePNGChunk(&buf, textChunk(k, fields[k]))
			}
			wroteText = true
		}
		writePNGChunk(&buf, c)
	}
	if !wroteText {
		return fmt.Errorf("parse %s: missing IEND chunk", path)
	}

	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func textChunk(keyword, value string) pngChunk {
	if keyword == descriptionKey {
		var data bytes.Buffer
		data.WriteString(keyword)
		data.WriteByte(0)
		data.WriteByte(0) // compression flag
		data.WriteByte(0) // compression method
		data.WriteByte(0) // empty language tag
		data.WriteString(keyword)
		data.WriteByte(0)
		data.WriteString(value)
		return pngChunk{typ: "iTXt", data: data.Bytes()}
	}
	var data bytes.Buffer
	data.WriteString(keyword)
	data.WriteByte(0)
	data.WriteString(value)
	return pngChunk{typ: "tEXt", data: data.Bytes()}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Description first, the rest alphabetical, for stable output.
	var rest []string
	for _, k := range keys {
		if k != descriptionKey {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	if _, ok := m[descriptionKey]; ok {
		return append([]string{descriptionKey}, rest...)
	}
	return rest
}

// isPNG reports whether the path has a .png extension.
func isPNG(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".png")
}
