package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Message is one of Hello, Ping, Pong or Terminate.
// The set is closed: only types in this package implement it.
type Message interface {
	isMessage()
}

// Hello is the handshake greeting, carries free-form text.
type Hello struct {
	Text string
}

// Ping is a liveness check, answered with Pong.
type Ping struct{}

// Pong is the reply to Ping.
type Pong struct{}

// Terminate asks the other side to close the connection.
type Terminate struct{}

func (Hello) isMessage()     {}
func (Ping) isMessage()      {}
func (Pong) isMessage()      {}
func (Terminate) isMessage() {}

const (
	tagHello     = "Hello"
	tagPing      = "Ping"
	tagPong      = "Pong"
	tagTerminate = "Terminate"
)

var ErrUnknownMessage = errors.New("unknown message")

// wire shape of Hello: {"Hello":{"msg":"..."}}
type helloBody struct {
	Msg string `json:"msg"`
}

// Kind returns the wire tag of m, "" for nil.
func Kind(m Message) string {
	switch m.(type) {
	case Hello, *Hello:
		return tagHello
	case Ping, *Ping:
		return tagPing
	case Pong, *Pong:
		return tagPong
	case Terminate, *Terminate:
		return tagTerminate
	default:
		return ""
	}
}

// Marshal encodes m as externally tagged JSON.
// Variants without payload are encoded as a bare string.
func Marshal(m Message) ([]byte, error) {
	switch v := m.(type) {
	case Hello:
		return json.Marshal(map[string]helloBody{tagHello: {Msg: v.Text}})
	case *Hello:
		return json.Marshal(map[string]helloBody{tagHello: {Msg: v.Text}})
	case nil:
		return nil, fmt.Errorf("marshal nil message: %w", ErrUnknownMessage)
	}

	tag := Kind(m)
	if tag == "" {
		return nil, fmt.Errorf("marshal %T: %w", m, ErrUnknownMessage)
	}
	return json.Marshal(tag)
}

// Unmarshal decodes one message previously produced by Marshal.
func Unmarshal(data []byte) (Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload: %w", ErrUnknownMessage)
	}

	if data[0] == '"' {
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return nil, fmt.Errorf("invalid message tag: %w", err)
		}
		switch tag {
		case tagPing:
			return Ping{}, nil
		case tagPong:
			return Pong{}, nil
		case tagTerminate:
			return Terminate{}, nil
		}
		return nil, fmt.Errorf("tag %q: %w", tag, ErrUnknownMessage)
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, fmt.Errorf("invalid message object: %w", err)
	}
	if len(tagged) != 1 {
		return nil, fmt.Errorf("message object with %d keys: %w", len(tagged), ErrUnknownMessage)
	}

	raw, ok := tagged[tagHello]
	if !ok {
		for tag := range tagged {
			return nil, fmt.Errorf("tag %q: %w", tag, ErrUnknownMessage)
		}
	}

	return unmarshalHello(raw)
}

// unmarshalHello decodes {"msg":"..."} with the key matched exactly.
func unmarshalHello(raw json.RawMessage) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("invalid hello body: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("hello body is null: %w", ErrUnknownMessage)
	}
	msg, ok := fields["msg"]
	if !ok || len(fields) != 1 {
		return nil, fmt.Errorf("hello body must hold exactly \"msg\": %w", ErrUnknownMessage)
	}
	if bytes.Equal(bytes.TrimSpace(msg), []byte("null")) {
		return nil, fmt.Errorf("hello msg is null: %w", ErrUnknownMessage)
	}
	var text string
	if err := json.Unmarshal(msg, &text); err != nil {
		return nil, fmt.Errorf("invalid hello msg: %w", err)
	}
	return Hello{Text: text}, nil
}
