package models

// ReplyKind discriminates outbound reply actions
type ReplyKind string

const (
	ReplyText     ReplyKind = "text"
	ReplyPhoto    ReplyKind = "photo"
	ReplyKeyboard ReplyKind = "keyboard"
)

// ReplyOption is one inline keyboard button
type ReplyOption struct {
	Label string `json:"label"`
	Data  string `json:"data"` // opaque callback ID
}

// Reply is one outbound action for the chat transport
type Reply struct {
	Kind     ReplyKind     `json:"kind"`
	Text     string        `json:"text,omitempty"`
	PhotoRef string        `json:"photo_ref,omitempty"`
	Options  []ReplyOption `json:"options,omitempty"`
}

// TextReply builds a plain text reply
func TextReply(text string) Reply {
	return Reply{Kind: ReplyText, Text: text}
}

// PhotoReply builds a photo reply
func PhotoReply(ref string) Reply {
	return Reply{Kind: ReplyPhoto, PhotoRef: ref}
}

// KeyboardReply builds a text reply with an inline keyboard
func KeyboardReply(text string, options []ReplyOption) Reply {
	return Reply{Kind: ReplyKeyboard, Text: text, Options: options}
}
