package im

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/logging"

	"github.com/backkem/matterctl/pkg/exchange"
	"github.com/backkem/matterctl/pkg/tlv"
)

// CommandHandler runs one command. A returned *StatusError answers with
// its status; any other error answers with StatusFailure.
type CommandHandler func(ctx context.Context, path CommandPath, fields tlv.Value) (*CommandResult, error)

// CommandResult is a handler's answer. When Fields is set the answer is
// the response command Command on the same endpoint and cluster;
// otherwise it is Status.
type CommandResult struct {
	Command       CommandID
	Fields        tlv.Value
	Status        Status
	ClusterStatus *uint8
}

// ServerConfig configures a Server.
type ServerConfig struct {
	LoggerFactory logging.LoggerFactory
}

// Server answers InvokeRequests from registered handlers.
type Server struct {
	log logging.LeveledLogger

	mu       sync.RWMutex
	handlers map[CommandPath]CommandHandler
}

// NewServer creates a server with no handlers.
func NewServer(config ServerConfig) *Server {
	s := &Server{handlers: make(map[CommandPath]CommandHandler)}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("im")
	}
	return s
}

// Handle registers h for path, replacing any earlier handler.
func (s *Server) Handle(path CommandPath, h CommandHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[path] = h
}

// Serve answers requests arriving on ex until ctx is done or ex closes.
func (s *Server) Serve(ctx context.Context, ex *exchange.Exchange) error {
	for {
		f, err := ex.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, exchange.ErrExchangeClosed) {
				return nil
			}
			return err
		}
		if f.Payload.ProtocolID != ProtocolID {
			if s.log != nil {
				s.log.Debugf("ignoring %s opcode 0x%02x", f.Payload.ProtocolID, f.Payload.Opcode)
			}
			continue
		}
		op, body := s.HandleMessage(ctx, Opcode(f.Payload.Opcode), f.Body)
		if err := ex.Send(ctx, ProtocolID, uint8(op), body); err != nil {
			return err
		}
	}
}

// HandleMessage builds the answer to one Interaction Model message.
func (s *Server) HandleMessage(ctx context.Context, op Opcode, body []byte) (Opcode, []byte) {
	if op != OpcodeInvokeRequest {
		return statusResponse(StatusInvalidAction)
	}
	req, err := DecodeInvokeRequest(body)
	if err != nil {
		if s.log != nil {
			s.log.Warnf("bad invoke request: %v", err)
		}
		return statusResponse(StatusInvalidAction)
	}

	resp := &InvokeResponse{}
	for _, cmd := range req.Commands {
		resp.Responses = append(resp.Responses, s.invoke(ctx, cmd))
	}
	out, err := resp.Encode()
	if err != nil {
		return statusResponse(StatusFailure)
	}
	return OpcodeInvokeResponse, out
}

func (s *Server) invoke(ctx context.Context, cmd CommandData) InvokeResponseIB {
	s.mu.RLock()
	h, ok := s.handlers[cmd.Path]
	s.mu.RUnlock()
	if !ok {
		return statusIB(cmd.Path, StatusIB{Status: StatusUnsupportedCommand})
	}

	res, err := h(ctx, cmd.Path, cmd.Fields)
	if err != nil {
		if s.log != nil {
			s.log.Infof("command %s failed: %v", cmd.Path, err)
		}
		var se *StatusError
		if errors.As(err, &se) {
			return statusIB(cmd.Path, StatusIB{Status: se.Status, ClusterStatus: se.ClusterStatus})
		}
		return statusIB(cmd.Path, StatusIB{Status: StatusFailure})
	}
	if res == nil {
		return statusIB(cmd.Path, StatusIB{Status: StatusSuccess})
	}
	if res.Fields.Kind() == tlv.KindInvalid {
		return statusIB(cmd.Path, StatusIB{Status: res.Status, ClusterStatus: res.ClusterStatus})
	}
	path := cmd.Path
	path.Command = res.Command
	return InvokeResponseIB{Command: &CommandData{Path: path, Fields: res.Fields}}
}

func statusIB(path CommandPath, st StatusIB) InvokeResponseIB {
	return InvokeResponseIB{Status: &CommandStatus{Path: path, Status: st}}
}

func statusResponse(st Status) (Opcode, []byte) {
	body, _ := (&StatusResponse{Status: st}).Encode()
	return OpcodeStatusResponse, body
}
