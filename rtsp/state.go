package rtsp

import "github.com/bluenviron/gortsplib/v4/pkg/base"

// Method is one of the four requests the protocol supports.
type Method int

const (
	// Setup opens a session for a named source.
	Setup Method = iota
	// Play starts or resumes transmission.
	Play
	// Pause stops transmission but keeps the session.
	Pause
	// Teardown ends the session.
	Teardown
)

var methodNames = map[Method]base.Method{
	Setup:    base.Setup,
	Play:     base.Play,
	Pause:    base.Pause,
	Teardown: base.Teardown,
}

// Methods lists every supported method in protocol order.
var Methods = []Method{Setup, Play, Pause, Teardown}

// Base returns the gortsplib method name.
func (m Method) Base() base.Method {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return base.Method("UNKNOWN")
}

func (m Method) String() string {
	return string(m.Base())
}

// ParseMethod maps a request-line token to a Method.
func ParseMethod(token string) (Method, error) {
	for m, name := range methodNames {
		if string(name) == token {
			return m, nil
		}
	}
	return 0, ErrUnknownMethod
}

// State is the session state on either side of the connection.
type State int

const (
	// Init means no session exists.
	Init State = iota
	// Ready means a session exists and is not transmitting.
	Ready
	// Playing means frames are being transmitted.
	Playing
)

func (s State) String() string {
	switch s {
	case Init:
		return "INIT"
	case Ready:
		return "READY"
	case Playing:
		return "PLAYING"
	default:
		return "UNKNOWN"
	}
}

// Permitted reports whether method may be issued in state.
//
//	SETUP    INIT
//	PLAY     READY
//	PAUSE    PLAYING
//	TEARDOWN READY, PLAYING
func Permitted(method Method, state State) bool {
	switch method {
	case Setup:
		return state == Init
	case Play:
		return state == Ready
	case Pause:
		return state == Playing
	case Teardown:
		return state == Ready || state == Playing
	default:
		return false
	}
}

// Next returns the state a successful method leads to.
func Next(method Method) State {
	switch method {
	case Setup, Pause:
		return Ready
	case Play:
		return Playing
	default:
		return Init
	}
}
