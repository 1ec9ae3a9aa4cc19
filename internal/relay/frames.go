package relay

import "encoding/json"

// Carrier media-stream frames.

type carrierMessage struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid,omitempty"`
	Start     *carrierStart `json:"start,omitempty"`
	Media     *carrierMedia `json:"media,omitempty"`
}

type carrierStart struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

type carrierMedia struct {
	Payload string `json:"payload"`
}

type carrierOutMedia struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid"`
	Media     carrierMedia `json:"media"`
}

type carrierClear struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

// Voice-AI conversation frames.

type vendorMessage struct {
	Type string `json:"type"`

	AudioEvent *struct {
		Audio string `json:"audio_base_64"`
	} `json:"audio_event,omitempty"`

	PingEvent *struct {
		EventID json.RawMessage `json:"event_id"`
	} `json:"ping_event,omitempty"`

	Metadata *struct {
		ConversationID string `json:"conversation_id"`
	} `json:"conversation_initiation_metadata_event,omitempty"`

	AgentResponse *struct {
		Text string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`

	UserTranscript *struct {
		Text string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`

	ClientToolCall *struct {
		ToolName   string `json:"tool_name"`
		ToolCallID string `json:"tool_call_id"`
		Parameters struct {
			PhoneNumber string `json:"phone_number"`
		} `json:"parameters"`
	} `json:"client_tool_call,omitempty"`

	ToolRequest *struct {
		ToolName string `json:"tool_name"`
		EventID  string `json:"event_id"`
		Params   struct {
			AgentNumber string `json:"agent_number"`
		} `json:"params"`
	} `json:"tool_request,omitempty"`
}

const (
	vendorInitType  = "conversation_initiation_client_data"
	defaultGreeting = "Hello, how can I help you today?"
	speakerAgent    = "agent"
	speakerCaller   = "user"
	carrierToVendor = "carrier_to_vendor"
	vendorToCarrier = "vendor_to_carrier"
	frameForwarded  = "forwarded"
	frameQueued     = "queued"
	frameDropped    = "dropped"
)

type vendorInit struct {
	Type             string            `json:"type"`
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty"`
	Override         *configOverride   `json:"conversation_config_override,omitempty"`
}

type configOverride struct {
	Agent agentOverride `json:"agent"`
}

type agentOverride struct {
	FirstMessage string `json:"first_message"`
}

type userAudio struct {
	Chunk string `json:"user_audio_chunk"`
}

type pong struct {
	Type    string          `json:"type"`
	EventID json.RawMessage `json:"event_id"`
}
