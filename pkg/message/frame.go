package message

// Frame is a complete message: header, payload header and application body.
type Frame struct {
	Header  Header
	Payload PayloadHeader
	Body    []byte
}

// Plaintext returns the payload header followed by the body, the part a
// secured session encrypts.
func (f *Frame) Plaintext() []byte {
	b := make([]byte, 0, f.Payload.Size()+len(f.Body))
	b = f.Payload.AppendTo(b)
	return append(b, f.Body...)
}

// Encode serialises f without encryption.
func (f *Frame) Encode() []byte {
	return append(f.Header.Encode(), f.Plaintext()...)
}

// DecodePlaintext completes a frame whose header was already decoded and
// whose payload is not encrypted.
func DecodePlaintext(h Header, payload []byte) (*Frame, error) {
	ph, body, err := DecodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{Header: h, Payload: ph, Body: append([]byte{}, body...)}, nil
}

// DecodeFrame parses an unencrypted message.
func DecodeFrame(data []byte) (*Frame, error) {
	h, rest, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	return DecodePlaintext(h, rest)
}
