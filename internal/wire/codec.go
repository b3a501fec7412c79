package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameLength bounds a single frame's payload size; a length prefix
// larger than this is rejected before any allocation is attempted.
const MaxFrameLength = 1024 * 1024

// ErrMessageTooLong is returned by Decode when the frame's length prefix
// exceeds MaxFrameLength.
var ErrMessageTooLong = fmt.Errorf("wire: message exceeds %d bytes", MaxFrameLength)

// EncodeRequest writes r to w as a 4-byte big-endian length prefix
// followed by its JSON encoding.
func EncodeRequest(w io.Writer, r Request) error {
	return encodeFrame(w, r)
}

// EncodeResponse writes r to w as a 4-byte big-endian length prefix
// followed by its JSON encoding.
func EncodeResponse(w io.Writer, r Response) error {
	return encodeFrame(w, r)
}

func encodeFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: encoding: %w", err)
	}
	if len(payload) > MaxFrameLength {
		return ErrMessageTooLong
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: writing length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: writing payload: %w", err)
	}
	return nil
}

// DecodeRequest reads one length-prefixed JSON Request from r.
func DecodeRequest(r io.Reader) (Request, error) {
	var req Request
	payload, err := readFrame(r)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, fmt.Errorf("wire: decoding request: %w", err)
	}
	return req, nil
}

// DecodeResponse reads one length-prefixed JSON Response from r.
func DecodeResponse(r io.Reader) (Response, error) {
	var resp Response
	payload, err := readFrame(r)
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return resp, fmt.Errorf("wire: decoding response: %w", err)
	}
	return resp, nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameLength {
		return nil, ErrMessageTooLong
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: reading payload: %w", err)
	}
	return payload, nil
}
