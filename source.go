package tahti

type (
	// SourceKind tells what actually produces the sound of a source.
	SourceKind string

	// SourceID identifies a registered source. Two sources with the same ID
	// are the same source, so registering twice is an update.
	SourceID string

	// Source is a sound producing endpoint tracks can be bound to: a channel
	// of the internal synthesizer with an explicitly chosen program, a sound
	// bank file played through the internal synthesizer, or an external MIDI
	// output port. Program and Channel are only meaningful for internal
	// sources; banks and ports get per track defaults when first bound.
	Source struct {
		Kind    SourceKind
		Name    string
		Program int    `yaml:",omitempty"`
		Channel int    `yaml:",omitempty"`
		Path    string `yaml:",omitempty"`
		Port    string `yaml:",omitempty"`
	}
)

const (
	SourceInternal SourceKind = "internal"
	SourceBank     SourceKind = "bank"
	SourcePort     SourceKind = "port"
)

// DefaultTrackPrograms is the table of MIDI programs assigned to tracks when
// a bank source is bound to them the first time: piano, strings, trumpet,
// sax, steel drums, bass, guitar, choir, then pianos for the rest.
var DefaultTrackPrograms = [16]int{0, 48, 56, 64, 114, 32, 24, 52, 0, 0, 0, 0, 0, 0, 0, 0}

// ID returns the identity under which the source is registered, derived from
// the field that distinguishes it within its kind. A bank source with an
// empty path is the embedded default bank, identified by name.
func (s Source) ID() SourceID {
	switch s.Kind {
	case SourceBank:
		if s.Path != "" {
			return SourceID("bank:" + s.Path)
		}
		return SourceID("bank:" + s.Name)
	case SourcePort:
		return SourceID("port:" + s.Port)
	default:
		return SourceID("internal:" + s.Name)
	}
}
