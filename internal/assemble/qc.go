// Package assemble turns a decompiled Source model (QC plus SMD meshes) into
// a GoldSrc QC and SMD set that the GoldSrc studiomdl accepts.
package assemble

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

type token struct {
	text   string
	quoted bool
	line   int
}

func (t token) isOpen() bool  { return !t.quoted && t.text == "{" }
func (t token) isClose() bool { return !t.quoted && t.text == "}" }

// tokenize splits QC text into quoted strings, bare words and braces,
// dropping // and /* */ comments.
func tokenize(src string) []token {
	var toks []token
	line := 1
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '\n':
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case strings.HasPrefix(src[i:], "//"):
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				end = len(src) - i - 2
			}
			line += strings.Count(src[i:i+2+end], "\n")
			i += end + 4
		case c == '{' || c == '}':
			toks = append(toks, token{text: string(c), line: line})
			i++
		case c == '"':
			end := strings.IndexByte(src[i+1:], '"')
			if end < 0 {
				end = len(src) - i - 1
			}
			text := src[i+1 : i+1+end]
			toks = append(toks, token{text: text, quoted: true, line: line})
			line += strings.Count(text, "\n")
			i += end + 2
		default:
			j := i
			for j < len(src) && !strings.ContainsRune(" \t\r\n{}\"", rune(src[j])) {
				j++
			}
			toks = append(toks, token{text: src[i:j], line: line})
			i = j
		}
	}
	return toks
}

// Directive is one $command with its inline arguments and the flattened
// contents of any brace blocks that follow it.
type Directive struct {
	Name  string
	Args  []string
	Block []string
	Line  int
}

// ParseDirectives groups QC tokens into directives. Tokens before the first
// directive are ignored.
func ParseDirectives(src string) []Directive {
	toks := tokenize(src)
	var out []Directive
	var cur *Directive
	depth := 0
	for _, t := range toks {
		switch {
		case t.isOpen():
			if depth > 0 && cur != nil {
				cur.Block = append(cur.Block, "{")
			}
			depth++
		case t.isClose():
			if depth > 0 {
				depth--
			}
			if depth > 0 && cur != nil {
				cur.Block = append(cur.Block, "}")
			}
		case depth == 0 && !t.quoted && strings.HasPrefix(t.text, "$"):
			out = append(out, Directive{Name: strings.ToLower(t.text), Line: t.line})
			cur = &out[len(out)-1]
		case cur == nil:
		case depth > 0:
			cur.Block = append(cur.Block, t.text)
		default:
			cur.Args = append(cur.Args, t.text)
		}
	}
	return out
}

// Body is one studio mesh of the model.
type Body struct {
	Name string
	File string
}

// BodyGroup is a switchable set of meshes; an empty File means "blank".
type BodyGroup struct {
	Name  string
	Files []string
}

// Sequence is one animation sequence.
type Sequence struct {
	Name string
	File string
	FPS  float64
	Loop bool
}

// SourceQC is the subset of a Source QC that survives conversion.
type SourceQC struct {
	Path        string
	ModelName   string
	Scale       float64
	CDMaterials []string
	Bodies      []Body
	BodyGroups  []BodyGroup
	Sequences   []Sequence
}

// Dir is the directory mesh paths are relative to.
func (q *SourceQC) Dir() string { return filepath.Dir(q.Path) }

// Meshes returns every distinct SMD the QC references, in declaration
// order.
func (q *SourceQC) Meshes() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(f string) {
		if f != "" && !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, b := range q.Bodies {
		add(b.File)
	}
	for _, g := range q.BodyGroups {
		for _, f := range g.Files {
			add(f)
		}
	}
	for _, s := range q.Sequences {
		add(s.File)
	}
	return out
}

// ReferenceMeshes returns the body and bodygroup SMDs, the ones that carry
// materials.
func (q *SourceQC) ReferenceMeshes() []string {
	var out []string
	seen := make(map[string]bool)
	for _, b := range q.Bodies {
		if !seen[b.File] {
			seen[b.File] = true
			out = append(out, b.File)
		}
	}
	for _, g := range q.BodyGroups {
		for _, f := range g.Files {
			if f != "" && !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

// LoadQC reads and parses a Source QC file.
func LoadQC(path string) (*SourceQC, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	q, err := ParseQC(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	q.Path = path
	return q, nil
}

type animation struct {
	file string
	fps  float64
	loop bool
}

// ParseQC interprets the directives relevant to GoldSrc output.
func ParseQC(src string) (*SourceQC, error) {
	q := &SourceQC{Scale: 1}
	anims := make(map[string]animation)
	var seqs []Directive

	for _, d := range ParseDirectives(src) {
		switch d.Name {
		case "$modelname":
			if len(d.Args) > 0 {
				q.ModelName = d.Args[0]
			}
		case "$scale":
			if len(d.Args) > 0 {
				s, err := strconv.ParseFloat(d.Args[0], 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: bad $scale %q", d.Line, d.Args[0])
				}
				q.Scale = s
			}
		case "$cdmaterials":
			for _, a := range d.Args {
				q.CDMaterials = append(q.CDMaterials, cleanRel(a))
			}
		case "$body", "$model":
			if len(d.Args) < 2 {
				return nil, fmt.Errorf("line %d: %s needs a name and a file", d.Line, d.Name)
			}
			q.Bodies = append(q.Bodies, Body{Name: d.Args[0], File: meshFile(d.Args[1])})
		case "$bodygroup":
			q.BodyGroups = append(q.BodyGroups, parseBodyGroup(d))
		case "$animation":
			if len(d.Args) >= 2 {
				fps, loop := seqOptions(append(slices.Clone(d.Args[2:]), d.Block...))
				anims[strings.ToLower(d.Args[0])] = animation{meshFile(d.Args[1]), fps, loop}
			}
		case "$sequence":
			seqs = append(seqs, d)
		}
	}

	// Sequences may name an $animation declared later in the file.
	for _, d := range seqs {
		s, err := parseSequence(d, anims)
		if err != nil {
			return nil, err
		}
		q.Sequences = append(q.Sequences, s)
	}
	return q, nil
}

func parseBodyGroup(d Directive) BodyGroup {
	g := BodyGroup{}
	if len(d.Args) > 0 {
		g.Name = d.Args[0]
	}
	for i := 0; i < len(d.Block); i++ {
		switch strings.ToLower(d.Block[i]) {
		case "studio":
			if i+1 < len(d.Block) {
				g.Files = append(g.Files, meshFile(d.Block[i+1]))
				i++
			}
		case "blank":
			g.Files = append(g.Files, "")
		}
	}
	return g
}

var sequenceKeywords = map[string]bool{
	"fps": true, "loop": true, "activity": true, "fadein": true, "fadeout": true,
	"snap": true, "delta": true, "autoplay": true, "hidden": true, "realtime": true,
	"node": true, "transition": true, "rtransition": true, "event": true,
	"blend": true, "blendwidth": true, "blendlayer": true, "ikrule": true,
	"addlayer": true, "weightlist": true, "worldspace": true, "rotate": true,
	"{": true, "}": true,
}

func parseSequence(d Directive, anims map[string]animation) (Sequence, error) {
	if len(d.Args) == 0 {
		return Sequence{}, fmt.Errorf("line %d: $sequence without a name", d.Line)
	}
	s := Sequence{Name: d.Args[0]}
	rest := append(append([]string{}, d.Args[1:]...), d.Block...)

	ref := ""
	for i := 0; i < len(rest); i++ {
		t := strings.ToLower(rest[i])
		if t == "activity" {
			i++
			continue
		}
		if sequenceKeywords[t] || isNumber(t) {
			continue
		}
		ref = rest[i]
		break
	}
	if ref == "" {
		return s, fmt.Errorf("line %d: $sequence %q has no animation", d.Line, s.Name)
	}

	s.FPS, s.Loop = seqOptions(rest)
	if a, ok := anims[strings.ToLower(ref)]; ok {
		s.File = a.file
		if s.FPS == 0 {
			s.FPS = a.fps
		}
		s.Loop = s.Loop || a.loop
	} else {
		s.File = meshFile(ref)
	}
	return s, nil
}

func seqOptions(toks []string) (fps float64, loop bool) {
	for i, t := range toks {
		switch strings.ToLower(t) {
		case "fps":
			if i+1 < len(toks) {
				if v, err := strconv.ParseFloat(toks[i+1], 64); err == nil {
					fps = v
				}
			}
		case "loop":
			loop = true
		}
	}
	return fps, loop
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func cleanRel(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.Trim(p, "/")
}

// meshFile normalizes a QC mesh reference to a forward-slash relative path
// with the .smd extension.
func meshFile(p string) string {
	p = cleanRel(p)
	if !strings.EqualFold(filepath.Ext(p), ".smd") {
		p += ".smd"
	}
	return p
}
