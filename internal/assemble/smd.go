package assemble

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/backmassage/s2g/internal/naming"
)

// goldSrcVertexFields is parent bone, position, normal and UV.
const goldSrcVertexFields = 9

// MaterialMapper maps a Source material name to the texture file name the
// GoldSrc SMD should reference.
type MaterialMapper func(material string) string

// DefaultMaterial strips directories and extension and appends ".bmp".
func DefaultMaterial(material string) string {
	return naming.TextureName(material) + ".bmp"
}

// RewriteSMD copies a Source SMD to w in GoldSrc form. Triangle materials
// go through mapMat, vertex weight links collapse to the single heaviest
// bone, and vertexanimation blocks are dropped. It returns the distinct
// texture names (without extension) in order of first use.
func RewriteSMD(r io.Reader, w io.Writer, mapMat MaterialMapper) ([]string, error) {
	if mapMat == nil {
		mapMat = DefaultMaterial
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	bw := bufio.NewWriter(w)

	var (
		textures []string
		seen     = make(map[string]bool)
		section  string
		triLine  int
		lineNo   int
	)

	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		trimmed := strings.TrimSpace(line)

		if section == "" {
			if trimmed == "" {
				fmt.Fprintln(bw)
				continue
			}
			section = strings.ToLower(strings.Fields(trimmed)[0])
			if section == "version" {
				section = ""
			} else {
				triLine = 0
			}
			if section != "vertexanimation" {
				fmt.Fprintln(bw, line)
			}
			continue
		}

		if trimmed == "end" {
			if section != "vertexanimation" {
				fmt.Fprintln(bw, "end")
			}
			section = ""
			continue
		}

		switch section {
		case "vertexanimation":
		case "triangles":
			if trimmed == "" {
				break
			}
			if triLine%4 == 0 {
				tex := naming.TextureName(trimmed)
				if !seen[strings.ToLower(tex)] {
					seen[strings.ToLower(tex)] = true
					textures = append(textures, tex)
				}
				fmt.Fprintln(bw, mapMat(trimmed))
			} else {
				v, err := goldSrcVertex(trimmed)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
				fmt.Fprintln(bw, v)
			}
			triLine++
		default:
			fmt.Fprintln(bw, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if section != "" {
		return nil, fmt.Errorf("unterminated %q section", section)
	}
	return textures, bw.Flush()
}

// goldSrcVertex truncates a Source vertex line to the GoldSrc layout. The
// parent bone becomes the link with the highest weight when links exist.
func goldSrcVertex(line string) (string, error) {
	f := strings.Fields(line)
	if len(f) < goldSrcVertexFields {
		return "", fmt.Errorf("vertex has %d fields, need %d", len(f), goldSrcVertexFields)
	}
	parent := f[0]
	if len(f) > goldSrcVertexFields {
		links, err := strconv.Atoi(f[goldSrcVertexFields])
		if err != nil {
			return "", fmt.Errorf("bad link count %q", f[goldSrcVertexFields])
		}
		best := -1.0
		for i := 0; i < links; i++ {
			bi := goldSrcVertexFields + 1 + 2*i
			if bi+1 >= len(f) {
				return "", fmt.Errorf("vertex declares %d links, has fewer", links)
			}
			wt, err := strconv.ParseFloat(f[bi+1], 64)
			if err != nil {
				return "", fmt.Errorf("bad link weight %q", f[bi+1])
			}
			if wt > best {
				best, parent = wt, f[bi]
			}
		}
	}
	return parent + " " + strings.Join(f[1:goldSrcVertexFields], " "), nil
}
