// Package protocol defines the framed wire format hsmd's Unix-domain
// socket speaks with hsmctl and other local clients: a fixed 16-byte
// binary header followed by a JSON payload, adapted from the teacher's
// MsgPack-oriented ipc.Header to the HSM's six-request surface.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// ProtocolMagic identifies an hsmd frame on the wire.
const ProtocolMagic uint32 = 0x48534D44 // "HSMD"

// ProtocolVersion is the current wire format version.
const ProtocolVersion uint8 = 1

// MaxPayloadSize bounds a single frame's JSON payload, well above any
// legitimate request (the largest is a message to sign or digest).
const MaxPayloadSize = 16 * 1024 * 1024

// MessageType identifies the kind of frame. Request types map 1:1 to
// spec.md §6's request API; each has a matching Resp type and there is a
// single MsgError for every rejection, by design (spec.md §7).
type MessageType uint16

const (
	MsgGenerateKeys     MessageType = 0x0001
	MsgGenerateKeysResp MessageType = 0x0002
	MsgRotateKeys       MessageType = 0x0003
	MsgRotateKeysResp   MessageType = 0x0004
	MsgEraseKeys        MessageType = 0x0005
	MsgEraseKeysResp    MessageType = 0x0006
	MsgDigestBytes      MessageType = 0x0007
	MsgDigestBytesResp  MessageType = 0x0008
	MsgSignBytes        MessageType = 0x0009
	MsgSignBytesResp    MessageType = 0x000A
	MsgValidSignature     MessageType = 0x000B
	MsgValidSignatureResp MessageType = 0x000C
	MsgError              MessageType = 0x00FF
)

// HeaderSize is the size, in bytes, of the fixed frame header.
const HeaderSize = 16

// Header is the fixed-size frame header: magic(4) | version(1) | reserved(1)
// | type(2) | requestID(4) | length(4).
type Header struct {
	Magic     uint32
	Version   uint8
	Type      MessageType
	RequestID uint32
	Length    uint32
}

// Frame is a complete header plus its JSON payload.
type Frame struct {
	Header  Header
	Payload []byte
}

// NewFrame builds a Frame around a JSON-encodable payload.
func NewFrame(msgType MessageType, requestID uint32, payload any) (*Frame, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal payload: %w", err)
	}
	return &Frame{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(body)),
		},
		Payload: body,
	}, nil
}

// Write serializes the frame to w.
func (f *Frame) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], f.Header.Magic)
	buf[4] = f.Header.Version
	buf[5] = 0
	binary.BigEndian.PutUint16(buf[6:8], uint16(f.Header.Type))
	binary.BigEndian.PutUint32(buf[8:12], f.Header.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], f.Header.Length)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("protocol: write header: %w", err)
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return fmt.Errorf("protocol: write payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one complete frame from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}
	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("protocol: bad magic %#x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("protocol: unsupported version %d", h.Version)
	}
	if h.Length > MaxPayloadSize {
		return nil, fmt.Errorf("protocol: payload too large: %d bytes", h.Length)
	}

	f := &Frame{Header: h}
	if h.Length > 0 {
		f.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Decode unmarshals the frame's payload into v.
func (f *Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(f.Payload, v)
}

// GenerateKeysRequest is the payload of a MsgGenerateKeys frame.
type GenerateKeysRequest struct {
	NewMask []byte `json:"new_mask"`
}

// RotateKeysRequest is the payload of a MsgRotateKeys frame.
type RotateKeysRequest struct {
	ExistingMask []byte `json:"existing_mask"`
	NewMask      []byte `json:"new_mask"`
}

// SignBytesRequest is the payload of a MsgSignBytes frame.
type SignBytesRequest struct {
	Mask    []byte `json:"mask"`
	Message []byte `json:"message"`
}

// DigestBytesRequest is the payload of a MsgDigestBytes frame.
type DigestBytesRequest struct {
	Message []byte `json:"message"`
}

// ValidSignatureRequest is the payload of a MsgValidSignature frame.
type ValidSignatureRequest struct {
	PublicKey []byte `json:"public_key"`
	Signature []byte `json:"signature"`
	Message   []byte `json:"message"`
}

// PublicKeyResponse is the payload of a MsgGenerateKeysResp or
// MsgRotateKeysResp frame.
type PublicKeyResponse struct {
	PublicKey []byte `json:"public_key"`
}

// SignatureResponse is the payload of a MsgSignBytesResp frame.
type SignatureResponse struct {
	Signature []byte `json:"signature"`
}

// DigestResponse is the payload of a MsgDigestBytesResp frame.
type DigestResponse struct {
	Digest []byte `json:"digest"`
}

// ValidSignatureResponse is the payload of a MsgValidSignatureResp frame.
type ValidSignatureResponse struct {
	Valid bool `json:"valid"`
}

// ErrorResponse is the payload of every MsgError frame. Message is always
// "rejected" in production; it exists mainly so hsmctl has something
// human-readable to print, never a machine-distinguishable reason code
// (spec.md §7).
type ErrorResponse struct {
	Message string `json:"message"`
}
