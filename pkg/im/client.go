package im

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/matterctl/pkg/exchange"
	"github.com/backkem/matterctl/pkg/session"
	"github.com/backkem/matterctl/pkg/tlv"
)

// DefaultRequestTimeout bounds an invoke when ctx has no deadline.
const DefaultRequestTimeout = 30 * time.Second

// ClientConfig configures a Client.
type ClientConfig struct {
	// Session carries the requests. Required.
	Session session.Session

	// Timeout applies when the caller's context has no deadline.
	// Default: DefaultRequestTimeout
	Timeout time.Duration

	LoggerFactory logging.LoggerFactory
}

// Client invokes commands on one peer. Each invoke runs on its own
// exchange; invokes on one Client must not overlap.
type Client struct {
	sess    session.Session
	timeout time.Duration
	factory logging.LoggerFactory
	log     logging.LeveledLogger
}

// NewClient creates a client over config.Session.
func NewClient(config ClientConfig) *Client {
	c := &Client{
		sess:    config.Session,
		timeout: config.Timeout,
		factory: config.LoggerFactory,
	}
	if c.timeout == 0 {
		c.timeout = DefaultRequestTimeout
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("im")
	}
	return c
}

// Invoke runs one command and returns its response fields, which are
// unset for commands answered with a bare success status. A non-success
// status is returned as a *StatusError. The response is acknowledged
// before Invoke returns.
func (c *Client) Invoke(ctx context.Context, path CommandPath, fields tlv.Value) (tlv.Value, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := &InvokeRequest{Commands: []CommandData{{Path: path, Fields: fields}}}
	body, err := req.Encode()
	if err != nil {
		return tlv.Value{}, err
	}

	ex := exchange.New(c.sess, exchange.Config{Initiator: true, LoggerFactory: c.factory})
	defer ex.Close()

	if c.log != nil {
		c.log.Debugf("invoke %s on exchange %d", path, ex.ID())
	}
	f, err := ex.SendAndReceive(ctx, body, ProtocolID, uint8(OpcodeInvokeRequest))
	if err != nil {
		return tlv.Value{}, fmt.Errorf("invoke %s: %w", path, err)
	}
	if err := ex.Ack(ctx); err != nil {
		return tlv.Value{}, fmt.Errorf("invoke %s: ack: %w", path, err)
	}
	if f.Payload.ProtocolID != ProtocolID {
		return tlv.Value{}, fmt.Errorf("%w: protocol %s", ErrUnexpectedResponse, f.Payload.ProtocolID)
	}

	switch Opcode(f.Payload.Opcode) {
	case OpcodeStatusResponse:
		sr, err := DecodeStatusResponse(f.Body)
		if err != nil {
			return tlv.Value{}, err
		}
		return tlv.Value{}, &StatusError{Path: path, Status: sr.Status}
	case OpcodeInvokeResponse:
	default:
		return tlv.Value{}, fmt.Errorf("%w: %s", ErrUnexpectedResponse, Opcode(f.Payload.Opcode))
	}

	resp, err := DecodeInvokeResponse(f.Body)
	if err != nil {
		return tlv.Value{}, err
	}
	if len(resp.Responses) != 1 {
		return tlv.Value{}, fmt.Errorf("%w: %d responses to one command", ErrUnexpectedResponse, len(resp.Responses))
	}
	r := resp.Responses[0]
	if r.Status != nil {
		if r.Status.Status.Status != StatusSuccess {
			return tlv.Value{}, &StatusError{Path: path, Status: r.Status.Status.Status, ClusterStatus: r.Status.Status.ClusterStatus}
		}
		return tlv.Value{}, nil
	}
	return r.Command.Fields, nil
}
