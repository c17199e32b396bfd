package pase

import (
	"fmt"

	"github.com/backkem/matterctl/pkg/tlv"
)

// Context tags shared by the PBKDF messages.
const (
	tagInitiatorRandom = 1
	tagSessionID       = 2
	tagPasscodeID      = 3
	tagHasParams       = 4
	tagMRPParams       = 5

	tagRespInitiatorRandom = 1
	tagRespResponderRandom = 2
	tagRespSessionID       = 3
	tagRespParams          = 4

	tagIterations = 1
	tagSalt       = 2

	tagMRPIdle           = 1
	tagMRPActive         = 2
	tagMRPActiveThreshold = 4

	tagShare   = 1
	tagConfirm = 2
)

// MRPParameters are the sender's retransmission timings in milliseconds.
// Zero fields are omitted.
type MRPParameters struct {
	IdleInterval    uint32
	ActiveInterval  uint32
	ActiveThreshold uint16
}

// PBKDFParameters are the device's passcode stretching parameters.
type PBKDFParameters struct {
	Iterations uint32
	Salt       []byte
}

// PBKDFParamRequest opens the handshake.
type PBKDFParamRequest struct {
	InitiatorRandom    []byte
	InitiatorSessionID uint16
	PasscodeID         uint16
	HasPBKDFParameters bool
	MRP                *MRPParameters
}

// PBKDFParamResponse answers with the responder's random, session id and,
// unless the initiator already has them, the PBKDF parameters.
type PBKDFParamResponse struct {
	InitiatorRandom    []byte
	ResponderRandom    []byte
	ResponderSessionID uint16
	Params             *PBKDFParameters
	MRP                *MRPParameters
}

type Pake1 struct {
	PA []byte
}

type Pake2 struct {
	PB []byte
	CB []byte
}

type Pake3 struct {
	CA []byte
}

func (p *PBKDFParamRequest) Encode() ([]byte, error) {
	fields := []tlv.Value{
		tlv.Bytes(tlv.ContextTag(tagInitiatorRandom), p.InitiatorRandom),
		tlv.Uint(tlv.ContextTag(tagSessionID), uint64(p.InitiatorSessionID)),
		tlv.Uint(tlv.ContextTag(tagPasscodeID), uint64(p.PasscodeID)),
		tlv.Bool(tlv.ContextTag(tagHasParams), p.HasPBKDFParameters),
	}
	if p.MRP != nil {
		fields = append(fields, p.MRP.value(tagMRPParams))
	}
	return tlv.Encode(tlv.Struct(tlv.Anonymous(), fields...))
}

func DecodePBKDFParamRequest(data []byte) (*PBKDFParamRequest, error) {
	v, err := decodeStruct(data)
	if err != nil {
		return nil, err
	}
	p := &PBKDFParamRequest{}
	if p.InitiatorRandom, err = bytesField(v, tagInitiatorRandom, RandomSize); err != nil {
		return nil, err
	}
	if p.InitiatorSessionID, err = uint16Field(v, tagSessionID); err != nil {
		return nil, err
	}
	if p.PasscodeID, err = uint16Field(v, tagPasscodeID); err != nil {
		return nil, err
	}
	f, ok := v.Field(tagHasParams)
	if !ok {
		return nil, missing(tagHasParams)
	}
	if p.HasPBKDFParameters, err = f.AsBool(); err != nil {
		return nil, err
	}
	if p.MRP, err = decodeMRP(v, tagMRPParams); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PBKDFParamResponse) Encode() ([]byte, error) {
	fields := []tlv.Value{
		tlv.Bytes(tlv.ContextTag(tagRespInitiatorRandom), p.InitiatorRandom),
		tlv.Bytes(tlv.ContextTag(tagRespResponderRandom), p.ResponderRandom),
		tlv.Uint(tlv.ContextTag(tagRespSessionID), uint64(p.ResponderSessionID)),
	}
	if p.Params != nil {
		fields = append(fields, tlv.Struct(tlv.ContextTag(tagRespParams),
			tlv.Uint(tlv.ContextTag(tagIterations), uint64(p.Params.Iterations)),
			tlv.Bytes(tlv.ContextTag(tagSalt), p.Params.Salt),
		))
	}
	if p.MRP != nil {
		fields = append(fields, p.MRP.value(tagMRPParams))
	}
	return tlv.Encode(tlv.Struct(tlv.Anonymous(), fields...))
}

func DecodePBKDFParamResponse(data []byte) (*PBKDFParamResponse, error) {
	v, err := decodeStruct(data)
	if err != nil {
		return nil, err
	}
	p := &PBKDFParamResponse{}
	if p.InitiatorRandom, err = bytesField(v, tagRespInitiatorRandom, RandomSize); err != nil {
		return nil, err
	}
	if p.ResponderRandom, err = bytesField(v, tagRespResponderRandom, RandomSize); err != nil {
		return nil, err
	}
	if p.ResponderSessionID, err = uint16Field(v, tagRespSessionID); err != nil {
		return nil, err
	}
	if params, ok := v.Field(tagRespParams); ok {
		p.Params = &PBKDFParameters{}
		iter, ok := params.Field(tagIterations)
		if !ok {
			return nil, missing(tagIterations)
		}
		n, err := iter.AsUint()
		if err != nil {
			return nil, err
		}
		p.Params.Iterations = uint32(n)
		if p.Params.Salt, err = bytesField(params, tagSalt, 0); err != nil {
			return nil, err
		}
	}
	if p.MRP, err = decodeMRP(v, tagMRPParams); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pake1) Encode() ([]byte, error) {
	return tlv.Encode(tlv.Struct(tlv.Anonymous(), tlv.Bytes(tlv.ContextTag(tagShare), p.PA)))
}

func DecodePake1(data []byte) (*Pake1, error) {
	v, err := decodeStruct(data)
	if err != nil {
		return nil, err
	}
	pa, err := bytesField(v, tagShare, 0)
	if err != nil {
		return nil, err
	}
	return &Pake1{PA: pa}, nil
}

func (p *Pake2) Encode() ([]byte, error) {
	return tlv.Encode(tlv.Struct(tlv.Anonymous(),
		tlv.Bytes(tlv.ContextTag(tagShare), p.PB),
		tlv.Bytes(tlv.ContextTag(tagConfirm), p.CB),
	))
}

func DecodePake2(data []byte) (*Pake2, error) {
	v, err := decodeStruct(data)
	if err != nil {
		return nil, err
	}
	p := &Pake2{}
	if p.PB, err = bytesField(v, tagShare, 0); err != nil {
		return nil, err
	}
	if p.CB, err = bytesField(v, tagConfirm, 0); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pake3) Encode() ([]byte, error) {
	return tlv.Encode(tlv.Struct(tlv.Anonymous(), tlv.Bytes(tlv.ContextTag(tagShare), p.CA)))
}

func DecodePake3(data []byte) (*Pake3, error) {
	v, err := decodeStruct(data)
	if err != nil {
		return nil, err
	}
	ca, err := bytesField(v, tagShare, 0)
	if err != nil {
		return nil, err
	}
	return &Pake3{CA: ca}, nil
}

func (m *MRPParameters) value(tag uint8) tlv.Value {
	var fields []tlv.Value
	if m.IdleInterval != 0 {
		fields = append(fields, tlv.Uint(tlv.ContextTag(tagMRPIdle), uint64(m.IdleInterval)))
	}
	if m.ActiveInterval != 0 {
		fields = append(fields, tlv.Uint(tlv.ContextTag(tagMRPActive), uint64(m.ActiveInterval)))
	}
	if m.ActiveThreshold != 0 {
		fields = append(fields, tlv.Uint(tlv.ContextTag(tagMRPActiveThreshold), uint64(m.ActiveThreshold)))
	}
	return tlv.Struct(tlv.ContextTag(tag), fields...)
}

func decodeMRP(v tlv.Value, tag uint8) (*MRPParameters, error) {
	s, ok := v.Field(tag)
	if !ok {
		return nil, nil
	}
	if s.Kind() != tlv.KindStruct {
		return nil, fmt.Errorf("%w: MRP parameters are not a structure", ErrInvalidMessage)
	}
	m := &MRPParameters{}
	for _, f := range []struct {
		tag uint8
		dst func(uint64)
	}{
		{tagMRPIdle, func(n uint64) { m.IdleInterval = uint32(n) }},
		{tagMRPActive, func(n uint64) { m.ActiveInterval = uint32(n) }},
		{tagMRPActiveThreshold, func(n uint64) { m.ActiveThreshold = uint16(n) }},
	} {
		if e, ok := s.Field(f.tag); ok {
			n, err := e.AsUint()
			if err != nil {
				return nil, err
			}
			f.dst(n)
		}
	}
	return m, nil
}

func decodeStruct(data []byte) (tlv.Value, error) {
	v, err := tlv.Decode(data)
	if err != nil {
		return tlv.Value{}, err
	}
	if v.Kind() != tlv.KindStruct {
		return tlv.Value{}, fmt.Errorf("%w: top level is %s", ErrInvalidMessage, v.Kind())
	}
	return v, nil
}

// bytesField returns an octet string member. A non-zero size requires
// that exact length.
func bytesField(v tlv.Value, tag uint8, size int) ([]byte, error) {
	f, ok := v.Field(tag)
	if !ok {
		return nil, missing(tag)
	}
	b, err := f.AsBytes()
	if err != nil {
		return nil, err
	}
	if size != 0 && len(b) != size {
		return nil, fmt.Errorf("%w: field %d is %d bytes, want %d", ErrInvalidMessage, tag, len(b), size)
	}
	return append([]byte{}, b...), nil
}

func uint16Field(v tlv.Value, tag uint8) (uint16, error) {
	f, ok := v.Field(tag)
	if !ok {
		return 0, missing(tag)
	}
	n, err := f.AsUint()
	if err != nil {
		return 0, err
	}
	if n > 0xFFFF {
		return 0, fmt.Errorf("%w: field %d out of range", ErrInvalidMessage, tag)
	}
	return uint16(n), nil
}

func missing(tag uint8) error {
	return fmt.Errorf("%w: missing field %d", ErrInvalidMessage, tag)
}
