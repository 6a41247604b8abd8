// Package wire defines the newline-delimited JSON signaling protocol spoken
// between endpoints and the exchange, and between two federated exchange
// nodes over the trunk link. Every message is a single flat JSON object with
// a "type" discriminator, terminated by '\n'.
package wire

// Endpoint -> server message types.
const (
	TypeRegister  = "register"
	TypeCall      = "call"
	TypeAnswer    = "answer"
	TypeHangup    = "hangup" // also server -> endpoint
	TypeIVR       = "ivr"
	TypeIVRChoice = "ivr_choice"
	TypeChat      = "chat" // also server -> endpoint
)

// Server -> endpoint message types.
const (
	TypeRegisterOK          = "register_ok"
	TypeCallProceeding      = "call_proceeding"
	TypeIncomingCall        = "incoming_call"
	TypeIncomingCallWaiting = "incoming_call_waiting"
	TypeBusy                = "busy"
	TypeCallAnswered        = "call_answered"
	TypeChatSent            = "chat_sent"
	TypeIVRMessage          = "ivr_message"
	TypeIVRInfo             = "ivr_info"
	TypeError               = "error"
)

// Trunk (node <-> node) message types.
const (
	TypeTrunkCall         = "trunk_call"
	TypeTrunkCallAnswered = "trunk_call_answered"
	TypeTrunkHangup       = "trunk_hangup"
	TypeTrunkBusy         = "trunk_busy"
	TypeTrunkChat         = "trunk_chat"
)

// Message is the wire representation of every protocol message. Fields not
// used by a given type are omitted from the encoded JSON.
type Message struct {
	Type      string `json:"type"`
	Extension string `json:"extension,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	By        string `json:"by,omitempty"`
	Digit     string `json:"digit,omitempty"`
	Text      string `json:"text,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Constructors for server -> endpoint messages.

func RegisterOK(extension string) Message {
	return Message{Type: TypeRegisterOK, Extension: extension}
}

func CallProceeding(to string) Message {
	return Message{Type: TypeCallProceeding, To: to}
}

func IncomingCall(from string) Message {
	return Message{Type: TypeIncomingCall, From: from}
}

func IncomingCallWaiting(from string) Message {
	return Message{Type: TypeIncomingCallWaiting, From: from}
}

func Busy(to string) Message {
	return Message{Type: TypeBusy, To: to}
}

func CallAnswered(by string) Message {
	return Message{Type: TypeCallAnswered, By: by}
}

func Hangup(by string) Message {
	return Message{Type: TypeHangup, By: by}
}

func Chat(from, text string) Message {
	return Message{Type: TypeChat, From: from, Text: text}
}

func ChatSent(to string) Message {
	return Message{Type: TypeChatSent, To: to}
}

func IVRMessage(text string) Message {
	return Message{Type: TypeIVRMessage, Text: text}
}

func IVRInfo(text string) Message {
	return Message{Type: TypeIVRInfo, Text: text}
}

func Error(reason string) Message {
	return Message{Type: TypeError, Reason: reason}
}

// Constructors for trunk messages. From and To are always extension numbers:
// From identifies the extension the event originates from, To the extension
// on the receiving node the event is addressed to.

func TrunkCall(from, to string) Message {
	return Message{Type: TypeTrunkCall, From: from, To: to}
}

func TrunkCallAnswered(from, to string) Message {
	return Message{Type: TypeTrunkCallAnswered, From: from, To: to}
}

func TrunkHangup(from, to string) Message {
	return Message{Type: TypeTrunkHangup, From: from, To: to}
}

func TrunkBusy(from, to string) Message {
	return Message{Type: TypeTrunkBusy, From: from, To: to}
}

func TrunkChat(from, to, text string) Message {
	return Message{Type: TypeTrunkChat, From: from, To: to, Text: text}
}
