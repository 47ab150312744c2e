package domain

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// VideoSource tells a remote what the outgoing video track shows.
type VideoSource string

const (
	SourceNone   VideoSource = ""
	SourceCamera VideoSource = "camera"
	SourceScreen VideoSource = "screen"
)

// MediaState is the advertised local media of a participant.
type MediaState struct {
	Audio  bool        `json:"audio"`
	Video  bool        `json:"video"`
	Source VideoSource `json:"source,omitempty"`
}

func (m MediaState) Screen() bool { return m.Video && m.Source == SourceScreen }
