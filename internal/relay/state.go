package relay

// State is the lifecycle position of one relayed call.
type State int

const (
	AwaitingStreamStart State = iota
	AwaitingVendorReady
	Bridged
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingStreamStart:
		return "awaiting_stream_start"
	case AwaitingVendorReady:
		return "awaiting_vendor_ready"
	case Bridged:
		return "bridged"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

type eventKind int

const (
	evStart eventKind = iota
	evMedia
	evStop
	evCarrierClosed
	evVendorOpened
	evVendorFailed
	evVendorMessage
	evVendorClosed
	evToolResult

	// evCarrierFrame is a raw carrier frame; it is decoded into one of the
	// carrier kinds above before it reaches step.
	evCarrierFrame
)

func (k eventKind) String() string {
	switch k {
	case evStart:
		return "start"
	case evMedia:
		return "media"
	case evStop:
		return "stop"
	case evCarrierClosed:
		return "carrier_closed"
	case evVendorOpened:
		return "vendor_opened"
	case evVendorFailed:
		return "vendor_failed"
	case evVendorMessage:
		return "vendor_message"
	case evVendorClosed:
		return "vendor_closed"
	case evToolResult:
		return "tool_result"
	case evCarrierFrame:
		return "carrier_frame"
	default:
		return "unknown"
	}
}

// transitions is the complete table of allowed (state, event) pairs. Any
// pair not listed is rejected.
//
// A vendor that fails to open still moves the call to Bridged; the call then
// runs carrier-only with no vendor socket.
var transitions = map[State]map[eventKind]State{
	AwaitingStreamStart: {
		evStart:         AwaitingVendorReady,
		evStop:          Closing,
		evCarrierClosed: Closing,
	},
	AwaitingVendorReady: {
		evMedia:         AwaitingVendorReady,
		evVendorOpened:  Bridged,
		evVendorFailed:  Bridged,
		evStop:          Closing,
		evCarrierClosed: Closing,
	},
	Bridged: {
		evMedia:         Bridged,
		evVendorMessage: Bridged,
		evToolResult:    Bridged,
		evVendorClosed:  Closing,
		evStop:          Closing,
		evCarrierClosed: Closing,
	},
	Closing: {},
	Closed:  {},
}

func next(s State, k eventKind) (State, bool) {
	to, ok := transitions[s][k]
	return to, ok
}
