package im

import (
	"fmt"

	"github.com/backkem/matterctl/pkg/tlv"
)

const tagRevision = 0xFF

// CommandPath addresses one command on one endpoint.
type CommandPath struct {
	Endpoint EndpointID
	Cluster  ClusterID
	Command  CommandID
}

func (p CommandPath) String() string {
	return fmt.Sprintf("%d/0x%04x/0x%02x", p.Endpoint, uint32(p.Cluster), uint32(p.Command))
}

func (p CommandPath) value(tag uint8) tlv.Value {
	return tlv.List(tlv.ContextTag(tag),
		tlv.Uint(tlv.ContextTag(0), uint64(p.Endpoint)),
		tlv.Uint(tlv.ContextTag(1), uint64(p.Cluster)),
		tlv.Uint(tlv.ContextTag(2), uint64(p.Command)),
	)
}

func decodeCommandPath(v tlv.Value) (CommandPath, error) {
	if v.Kind() != tlv.KindList {
		return CommandPath{}, fmt.Errorf("%w: command path is %s", ErrInvalidMessage, v.Kind())
	}
	ep, err := uintField(v, 0, 0xFFFF)
	if err != nil {
		return CommandPath{}, err
	}
	cluster, err := uintField(v, 1, 0xFFFFFFFF)
	if err != nil {
		return CommandPath{}, err
	}
	cmd, err := uintField(v, 2, 0xFFFFFFFF)
	if err != nil {
		return CommandPath{}, err
	}
	return CommandPath{Endpoint: EndpointID(ep), Cluster: ClusterID(cluster), Command: CommandID(cmd)}, nil
}

// CommandData is a command and its fields. Fields is a structure; an
// unset Value is sent as an empty one.
type CommandData struct {
	Path   CommandPath
	Fields tlv.Value
}

func (c *CommandData) value(tag tlv.Tag) tlv.Value {
	fields := c.Fields
	if fields.Kind() == tlv.KindInvalid {
		fields = tlv.Struct(tlv.Anonymous())
	}
	return tlv.Struct(tag,
		c.Path.value(0),
		fields.WithTag(tlv.ContextTag(1)),
	)
}

func decodeCommandData(v tlv.Value) (CommandData, error) {
	var c CommandData
	if v.Kind() != tlv.KindStruct {
		return c, fmt.Errorf("%w: command data is %s", ErrInvalidMessage, v.Kind())
	}
	p, ok := v.Field(0)
	if !ok {
		return c, missing("command path")
	}
	var err error
	if c.Path, err = decodeCommandPath(p); err != nil {
		return c, err
	}
	if f, ok := v.Field(1); ok {
		c.Fields = f.WithTag(tlv.Anonymous())
	}
	return c, nil
}

// StatusIB is a status with an optional cluster-specific code.
type StatusIB struct {
	Status        Status
	ClusterStatus *uint8
}

func (s StatusIB) value(tag uint8) tlv.Value {
	fields := []tlv.Value{tlv.Uint(tlv.ContextTag(0), uint64(s.Status))}
	if s.ClusterStatus != nil {
		fields = append(fields, tlv.Uint(tlv.ContextTag(1), uint64(*s.ClusterStatus)))
	}
	return tlv.Struct(tlv.ContextTag(tag), fields...)
}

func decodeStatusIB(v tlv.Value) (StatusIB, error) {
	var s StatusIB
	if v.Kind() != tlv.KindStruct {
		return s, fmt.Errorf("%w: status is %s", ErrInvalidMessage, v.Kind())
	}
	code, err := uintField(v, 0, 0xFF)
	if err != nil {
		return s, err
	}
	s.Status = Status(code)
	if _, ok := v.Field(1); ok {
		cs, err := uintField(v, 1, 0xFF)
		if err != nil {
			return s, err
		}
		c := uint8(cs)
		s.ClusterStatus = &c
	}
	return s, nil
}

// CommandStatus answers a command with a status instead of fields.
type CommandStatus struct {
	Path   CommandPath
	Status StatusIB
}

// InvokeResponseIB carries exactly one of Command or Status.
type InvokeResponseIB struct {
	Command *CommandData
	Status  *CommandStatus
}

// InvokeRequest asks the peer to run one or more commands.
type InvokeRequest struct {
	SuppressResponse bool
	TimedRequest     bool
	Commands         []CommandData
}

// Encode serialises m.
func (m *InvokeRequest) Encode() ([]byte, error) {
	cmds := make([]tlv.Value, len(m.Commands))
	for i := range m.Commands {
		cmds[i] = m.Commands[i].value(tlv.Anonymous())
	}
	return tlv.Encode(tlv.Struct(tlv.Anonymous(),
		tlv.Bool(tlv.ContextTag(0), m.SuppressResponse),
		tlv.Bool(tlv.ContextTag(1), m.TimedRequest),
		tlv.Array(tlv.ContextTag(2), cmds...),
		tlv.Uint(tlv.ContextTag(tagRevision), Revision),
	))
}

// DecodeInvokeRequest parses an InvokeRequest body.
func DecodeInvokeRequest(data []byte) (*InvokeRequest, error) {
	v, err := decodeStruct(data)
	if err != nil {
		return nil, err
	}
	m := &InvokeRequest{}
	if m.SuppressResponse, err = boolField(v, 0); err != nil {
		return nil, err
	}
	if m.TimedRequest, err = boolField(v, 1); err != nil {
		return nil, err
	}
	list, ok := v.Field(2)
	if !ok || list.Kind() != tlv.KindArray {
		return nil, missing("invoke requests")
	}
	for _, c := range list.Children() {
		cmd, err := decodeCommandData(c)
		if err != nil {
			return nil, err
		}
		m.Commands = append(m.Commands, cmd)
	}
	return m, nil
}

// InvokeResponse answers an InvokeRequest.
type InvokeResponse struct {
	SuppressResponse bool
	Responses        []InvokeResponseIB
}

// Encode serialises m.
func (m *InvokeResponse) Encode() ([]byte, error) {
	resps := make([]tlv.Value, 0, len(m.Responses))
	for _, r := range m.Responses {
		switch {
		case r.Command != nil:
			resps = append(resps, tlv.Struct(tlv.Anonymous(), r.Command.value(tlv.ContextTag(0))))
		case r.Status != nil:
			resps = append(resps, tlv.Struct(tlv.Anonymous(),
				tlv.Struct(tlv.ContextTag(1), r.Status.Path.value(0), r.Status.Status.value(1)),
			))
		default:
			return nil, fmt.Errorf("%w: empty invoke response", ErrInvalidMessage)
		}
	}
	return tlv.Encode(tlv.Struct(tlv.Anonymous(),
		tlv.Bool(tlv.ContextTag(0), m.SuppressResponse),
		tlv.Array(tlv.ContextTag(1), resps...),
		tlv.Uint(tlv.ContextTag(tagRevision), Revision),
	))
}

// DecodeInvokeResponse parses an InvokeResponse body.
func DecodeInvokeResponse(data []byte) (*InvokeResponse, error) {
	v, err := decodeStruct(data)
	if err != nil {
		return nil, err
	}
	m := &InvokeResponse{}
	if m.SuppressResponse, err = boolField(v, 0); err != nil {
		return nil, err
	}
	list, ok := v.Field(1)
	if !ok || list.Kind() != tlv.KindArray {
		return nil, missing("invoke responses")
	}
	for _, ib := range list.Children() {
		var r InvokeResponseIB
		if cmd, ok := ib.Field(0); ok {
			c, err := decodeCommandData(cmd)
			if err != nil {
				return nil, err
			}
			r.Command = &c
		} else if st, ok := ib.Field(1); ok {
			p, ok := st.Field(0)
			if !ok {
				return nil, missing("status path")
			}
			path, err := decodeCommandPath(p)
			if err != nil {
				return nil, err
			}
			s, ok := st.Field(1)
			if !ok {
				return nil, missing("status")
			}
			status, err := decodeStatusIB(s)
			if err != nil {
				return nil, err
			}
			r.Status = &CommandStatus{Path: path, Status: status}
		} else {
			return nil, fmt.Errorf("%w: invoke response with neither command nor status", ErrInvalidMessage)
		}
		m.Responses = append(m.Responses, r)
	}
	return m, nil
}

// StatusResponse reports the outcome of an interaction as a whole.
type StatusResponse struct {
	Status Status
}

// Encode serialises m.
func (m *StatusResponse) Encode() ([]byte, error) {
	return tlv.Encode(tlv.Struct(tlv.Anonymous(),
		tlv.Uint(tlv.ContextTag(0), uint64(m.Status)),
		tlv.Uint(tlv.ContextTag(tagRevision), Revision),
	))
}

// DecodeStatusResponse parses a StatusResponse body.
func DecodeStatusResponse(data []byte) (*StatusResponse, error) {
	v, err := decodeStruct(data)
	if err != nil {
		return nil, err
	}
	code, err := uintField(v, 0, 0xFF)
	if err != nil {
		return nil, err
	}
	return &StatusResponse{Status: Status(code)}, nil
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

func uintField(v tlv.Value, tag uint8, limit uint64) (uint64, error) {
	f, ok := v.Field(tag)
	if !ok {
		return 0, missing(fmt.Sprintf("field %d", tag))
	}
	n, err := f.AsUint()
	if err != nil {
		return 0, err
	}
	if n > limit {
		return 0, fmt.Errorf("%w: field %d is %d", ErrInvalidMessage, tag, n)
	}
	return n, nil
}

// boolField returns false for an absent member.
func boolField(v tlv.Value, tag uint8) (bool, error) {
	f, ok := v.Field(tag)
	if !ok {
		return false, nil
	}
	return f.AsBool()
}

func missing(what string) error {
	return fmt.Errorf("%w: missing %s", ErrInvalidMessage, what)
}
