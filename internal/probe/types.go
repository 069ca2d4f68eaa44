package probe

import "fmt"

// Engine is the engine generation a model header belongs to.
type Engine int

const (
	EngineUnknown Engine = iota
	EngineGoldSrc
	EngineSource
)

func (e Engine) String() string {
	switch e {
	case EngineGoldSrc:
		return "goldsrc"
	case EngineSource:
		return "source"
	default:
		return "unknown"
	}
}

const (
	identModel         = "IDST"
	identSequenceGroup = "IDSQ"

	goldSrcVersion   = 10
	minSourceVersion = 44
	maxSourceVersion = 59
)

// ModelInfo is what a header reveals about a model file.
type ModelInfo struct {
	Path    string
	Ident   string
	Version int32
	Engine  Engine
	// Name is the internal $modelname; empty when the header was cut short.
	Name   string
	Length int32 // declared file length
	Size   int64 // actual file size, when probed from disk
}

// IsSequenceGroup reports whether the file is an external sequence group.
func (m *ModelInfo) IsSequenceGroup() bool { return m.Ident == identSequenceGroup }

// RequireSource returns nil for a Source model and ErrNotSource otherwise.
func (m *ModelInfo) RequireSource() error {
	switch {
	case m.IsSequenceGroup():
		return fmt.Errorf("%w: sequence group file", ErrNotSource)
	case m.Engine != EngineSource:
		return fmt.Errorf("%w: %s model version %d", ErrNotSource, m.Engine, m.Version)
	}
	return nil
}

func (m *ModelInfo) String() string {
	if m.Name == "" {
		return fmt.Sprintf("%s v%d", m.Engine, m.Version)
	}
	return fmt.Sprintf("%s v%d %q", m.Engine, m.Version, m.Name)
}

func engineOf(version int32) Engine {
	switch {
	case version == goldSrcVersion:
		return EngineGoldSrc
	case version >= minSourceVersion && version <= maxSourceVersion:
		return EngineSource
	default:
		return EngineUnknown
	}
}
