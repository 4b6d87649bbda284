// Package pb defines the wire envelopes exchanged between cluster peers.
//
// Field names and numbers are contractual: any Go or C++ peer built against
// the same schema must decode these messages byte for byte, so encoding is
// done directly against the protobuf wire format rather than through a
// higher-level convenience layer.
package pb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// RPCType distinguishes server-to-server calls from frontend-originated
// calls carrying a session.
type RPCType int32

const (
	RPCTypeUser RPCType = 0
	RPCTypeSys  RPCType = 1
)

// Session is the client session blob attached to system RPCs.
type Session struct {
	ID   int64
	UID  string
	Data []byte
}

// Message carries the application route and payload.
type Message struct {
	Type  int32
	ID    uint64
	Route string
	Data  []byte
	Reply string
}

// Request is the envelope sent to a peer's inbound RPC subject.
type Request struct {
	Type       RPCType
	Session    *Session
	FrontendID string
	Msg        *Message
	Metadata   []byte
}

// Error is the structured failure carried in a Response.
type Error struct {
	Code     string
	Msg      string
	Metadata map[string]string
}

// Response is the envelope returned on the reply inbox.
type Response struct {
	Data  []byte
	Error *Error
}

const (
	fieldSessionID = iota + 1
	fieldSessionUID
	fieldSessionData
)

// Marshal encodes the Session in protobuf wire format.
func (s *Session) Marshal() []byte {
	if s == nil {
		return nil
	}
	var b []byte
	if s.ID != 0 {
		b = protowire.AppendTag(b, fieldSessionID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(s.ID))
	}
	if s.UID != "" {
		b = protowire.AppendTag(b, fieldSessionUID, protowire.BytesType)
		b = protowire.AppendString(b, s.UID)
	}
	if len(s.Data) > 0 {
		b = protowire.AppendTag(b, fieldSessionData, protowire.BytesType)
		b = protowire.AppendBytes(b, s.Data)
	}
	return b
}

// UnmarshalSession decodes a Session from protobuf wire format.
func UnmarshalSession(b []byte) (*Session, error) {
	s := &Session{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldSessionID:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			s.ID = int64(v)
			b = b[n:]
		case fieldSessionUID:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			s.UID = v
			b = b[n:]
		case fieldSessionData:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			s.Data = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return s, nil
}

const (
	fieldMsgType = iota + 1
	fieldMsgID
	fieldMsgRoute
	fieldMsgData
	fieldMsgReply
)

// Marshal encodes the Message in protobuf wire format.
func (m *Message) Marshal() []byte {
	if m == nil {
		return nil
	}
	var b []byte
	if m.Type != 0 {
		b = protowire.AppendTag(b, fieldMsgType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Type))
	}
	if m.ID != 0 {
		b = protowire.AppendTag(b, fieldMsgID, protowire.VarintType)
		b = protowire.AppendVarint(b, m.ID)
	}
	if m.Route != "" {
		b = protowire.AppendTag(b, fieldMsgRoute, protowire.BytesType)
		b = protowire.AppendString(b, m.Route)
	}
	if len(m.Data) > 0 {
		b = protowire.AppendTag(b, fieldMsgData, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Data)
	}
	if m.Reply != "" {
		b = protowire.AppendTag(b, fieldMsgReply, protowire.BytesType)
		b = protowire.AppendString(b, m.Reply)
	}
	return b
}

// UnmarshalMessage decodes a Message from protobuf wire format.
func UnmarshalMessage(b []byte) (*Message, error) {
	m := &Message{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldMsgType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			m.Type = int32(v)
			b = b[n:]
		case fieldMsgID:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			m.ID = v
			b = b[n:]
		case fieldMsgRoute:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			m.Route = v
			b = b[n:]
		case fieldMsgData:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			m.Data = append([]byte(nil), v...)
			b = b[n:]
		case fieldMsgReply:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			m.Reply = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return m, nil
}

const (
	fieldReqType = iota + 1
	fieldReqSession
	fieldReqFrontendID
	fieldReqMsg
	fieldReqMetadata
)

// Marshal encodes the Request in protobuf wire format.
func (r *Request) Marshal() []byte {
	if r == nil {
		return nil
	}
	var b []byte
	if r.Type != 0 {
		b = protowire.AppendTag(b, fieldReqType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Type))
	}
	if r.Session != nil {
		b = protowire.AppendTag(b, fieldReqSession, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Session.Marshal())
	}
	if r.FrontendID != "" {
		b = protowire.AppendTag(b, fieldReqFrontendID, protowire.BytesType)
		b = protowire.AppendString(b, r.FrontendID)
	}
	if r.Msg != nil {
		b = protowire.AppendTag(b, fieldReqMsg, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Msg.Marshal())
	}
	if len(r.Metadata) > 0 {
		b = protowire.AppendTag(b, fieldReqMetadata, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Metadata)
	}
	return b
}

// UnmarshalRequest decodes a Request from protobuf wire format. It fails
// with an error rather than returning a partially-populated value when the
// bytes are not a well-formed envelope, per the "malformed request"
// PIT-400 path the Inbound Dispatcher relies on.
func UnmarshalRequest(b []byte) (*Request, error) {
	r := &Request{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("pb: malformed request: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldReqType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("pb: malformed request: %w", protowire.ParseError(n))
			}
			r.Type = RPCType(v)
			b = b[n:]
		case fieldReqSession:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("pb: malformed request: %w", protowire.ParseError(n))
			}
			sess, err := UnmarshalSession(v)
			if err != nil {
				return nil, fmt.Errorf("pb: malformed request: %w", err)
			}
			r.Session = sess
			b = b[n:]
		case fieldReqFrontendID:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("pb: malformed request: %w", protowire.ParseError(n))
			}
			r.FrontendID = v
			b = b[n:]
		case fieldReqMsg:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("pb: malformed request: %w", protowire.ParseError(n))
			}
			msg, err := UnmarshalMessage(v)
			if err != nil {
				return nil, fmt.Errorf("pb: malformed request: %w", err)
			}
			r.Msg = msg
			b = b[n:]
		case fieldReqMetadata:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("pb: malformed request: %w", protowire.ParseError(n))
			}
			r.Metadata = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("pb: malformed request: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if r.Msg == nil {
		return nil, fmt.Errorf("pb: malformed request: missing msg")
	}
	return r, nil
}

const (
	fieldErrCode = iota + 1
	fieldErrMsg
	fieldErrMetadata
)

// Marshal encodes the Error in protobuf wire format.
func (e *Error) Marshal() []byte {
	if e == nil {
		return nil
	}
	var b []byte
	if e.Code != "" {
		b = protowire.AppendTag(b, fieldErrCode, protowire.BytesType)
		b = protowire.AppendString(b, e.Code)
	}
	if e.Msg != "" {
		b = protowire.AppendTag(b, fieldErrMsg, protowire.BytesType)
		b = protowire.AppendString(b, e.Msg)
	}
	for k, v := range e.Metadata {
		var entry []byte
		entry = protowire.AppendTag(entry, 1, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, 2, protowire.BytesType)
		entry = protowire.AppendString(entry, v)
		b = protowire.AppendTag(b, fieldErrMetadata, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

func unmarshalError(b []byte) (*Error, error) {
	e := &Error{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldErrCode:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			e.Code = v
			b = b[n:]
		case fieldErrMsg:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			e.Msg = v
			b = b[n:]
		case fieldErrMetadata:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			k, val, err := unmarshalMapEntry(v)
			if err != nil {
				return nil, err
			}
			if e.Metadata == nil {
				e.Metadata = map[string]string{}
			}
			e.Metadata[k] = val
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return e, nil
}

func unmarshalMapEntry(b []byte) (key, value string, err error) {
	for len(b) > 0 {
		num, _, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", protowire.ParseError(n)
		}
		b = b[n:]
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return "", "", protowire.ParseError(n)
		}
		switch num {
		case 1:
			key = v
		case 2:
			value = v
		}
		b = b[n:]
	}
	return key, value, nil
}

const (
	fieldRespData = iota + 1
	fieldRespError
)

// Marshal encodes the Response in protobuf wire format.
func (r *Response) Marshal() []byte {
	if r == nil {
		return nil
	}
	var b []byte
	if len(r.Data) > 0 {
		b = protowire.AppendTag(b, fieldRespData, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Data)
	}
	if r.Error != nil {
		b = protowire.AppendTag(b, fieldRespError, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Error.Marshal())
	}
	return b
}

// UnmarshalResponse decodes a Response from protobuf wire format.
func UnmarshalResponse(b []byte) (*Response, error) {
	r := &Response{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("pb: malformed response: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldRespData:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("pb: malformed response: %w", protowire.ParseError(n))
			}
			r.Data = append([]byte(nil), v...)
			b = b[n:]
		case fieldRespError:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("pb: malformed response: %w", protowire.ParseError(n))
			}
			e, err := unmarshalError(v)
			if err != nil {
				return nil, fmt.Errorf("pb: malformed response: %w", err)
			}
			r.Error = e
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("pb: malformed response: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return r, nil
}
