package pase

import (
	"context"
	"fmt"
	"io"

	"github.com/pion/logging"

	"github.com/backkem/matterctl/pkg/crypto"
	"github.com/backkem/matterctl/pkg/crypto/spake2p"
	"github.com/backkem/matterctl/pkg/exchange"
	"github.com/backkem/matterctl/pkg/message"
	"github.com/backkem/matterctl/pkg/securechannel"
)

// InitiatorConfig configures the commissioner side of PASE.
type InitiatorConfig struct {
	// LocalSessionID is offered to the device. Zero picks a random id.
	LocalSessionID uint16

	// MRP is advertised in the PBKDFParamRequest when set.
	MRP *MRPParameters

	// Rand overrides crypto/rand.
	Rand          io.Reader
	LoggerFactory logging.LoggerFactory
}

// Initiator runs PASE as the commissioner.
type Initiator struct {
	config InitiatorConfig
	log    logging.LeveledLogger
}

// NewInitiator creates an initiator.
func NewInitiator(config InitiatorConfig) *Initiator {
	i := &Initiator{config: config}
	if config.LoggerFactory != nil {
		i.log = config.LoggerFactory.NewLogger("pase")
	}
	return i
}

// Establish runs the handshake on ex, which must be an initiator exchange
// over an unsecured session. Every intermediate secret is wiped before
// returning, whether or not the handshake succeeds.
func (i *Initiator) Establish(ctx context.Context, ex *exchange.Exchange, passcode uint32) (*Result, error) {
	if err := ValidatePasscode(passcode); err != nil {
		return nil, err
	}
	localID := i.config.LocalSessionID
	if localID == 0 {
		var err error
		if localID, err = randomSessionID(i.config.Rand); err != nil {
			return nil, err
		}
	}
	initRandom, err := randomBytes(i.config.Rand, RandomSize)
	if err != nil {
		return nil, err
	}

	req := &PBKDFParamRequest{
		InitiatorRandom:    initRandom,
		InitiatorSessionID: localID,
		PasscodeID:         DefaultPasscodeID,
		MRP:                i.config.MRP,
	}
	reqBytes, err := req.Encode()
	if err != nil {
		return nil, err
	}
	f, err := request(ctx, ex, reqBytes, securechannel.OpcodePBKDFParamRequest, securechannel.OpcodePBKDFParamResponse)
	if err != nil {
		return nil, err
	}
	resp, err := DecodePBKDFParamResponse(f.Body)
	if err != nil {
		return nil, err
	}
	if !crypto.Equal(resp.InitiatorRandom, initRandom) {
		return nil, ErrRandomMismatch
	}
	if resp.Params == nil {
		return nil, ErrMissingParams
	}
	if resp.ResponderSessionID == 0 {
		return nil, fmt.Errorf("%w: responder session id 0", ErrInvalidMessage)
	}
	if i.log != nil {
		i.log.Debugf("PBKDF params: %d iterations, %d byte salt, peer session %d",
			resp.Params.Iterations, len(resp.Params.Salt), resp.ResponderSessionID)
	}

	w0, w1, err := spake2p.ComputeW0W1(passcode, resp.Params.Salt, int(resp.Params.Iterations))
	if err != nil {
		return nil, err
	}
	prover, err := spake2p.NewProver(commissioningContext(reqBytes, f.Body), w0, w1)
	crypto.Zeroize(w0)
	crypto.Zeroize(w1)
	if err != nil {
		return nil, err
	}
	defer prover.Clear()
	prover.Rand = i.config.Rand

	pA, err := prover.Share()
	if err != nil {
		return nil, err
	}
	pake1, err := (&Pake1{PA: pA}).Encode()
	if err != nil {
		return nil, err
	}
	f, err = request(ctx, ex, pake1, securechannel.OpcodePASEPake1, securechannel.OpcodePASEPake2)
	if err != nil {
		return nil, err
	}
	pake2, err := DecodePake2(f.Body)
	if err != nil {
		return nil, err
	}
	cA, err := prover.Finish(pake2.PB)
	if err != nil {
		sendStatus(ctx, ex, securechannel.InvalidParam())
		return nil, err
	}
	if err := prover.Verify(pake2.CB); err != nil {
		sendStatus(ctx, ex, securechannel.InvalidParam())
		return nil, fmt.Errorf("pase: device rejected passcode: %w", err)
	}

	pake3, err := (&Pake3{CA: cA}).Encode()
	if err != nil {
		return nil, err
	}
	f, err = ex.SendAndReceive(ctx, pake3, securechannel.ProtocolID, uint8(securechannel.OpcodePASEPake3))
	if err != nil {
		return nil, err
	}
	report, err := securechannel.CheckStatusReport(f, "Pake3")
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, fmt.Errorf("%w: %s after Pake3", ErrUnexpectedMessage, securechannel.Opcode(f.Payload.Opcode))
	}
	if err := ex.Ack(ctx); err != nil {
		return nil, err
	}

	ke, err := prover.SharedSecret()
	if err != nil {
		return nil, err
	}
	defer crypto.Zeroize(ke)
	if i.log != nil {
		i.log.Infof("PASE session %d<->%d established", localID, resp.ResponderSessionID)
	}
	return deriveResult(ke, localID, resp.ResponderSessionID)
}

// request sends one handshake message and waits for the expected reply.
// A failure StatusReport in place of the reply becomes its error.
func request(ctx context.Context, ex *exchange.Exchange, body []byte, op, want securechannel.Opcode) (*message.Frame, error) {
	f, err := ex.SendAndReceive(ctx, body, securechannel.ProtocolID, uint8(op))
	if err != nil {
		return nil, err
	}
	return expect(f, want)
}

func expect(f *message.Frame, want securechannel.Opcode) (*message.Frame, error) {
	if _, err := securechannel.CheckStatusReport(f, want.String()); err != nil {
		return nil, err
	}
	if f.Payload.ProtocolID != securechannel.ProtocolID || securechannel.Opcode(f.Payload.Opcode) != want {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedMessage, securechannel.Opcode(f.Payload.Opcode), want)
	}
	return f, nil
}

// sendStatus reports a failure to the peer. The handshake is already
// lost, so a send error is ignored.
func sendStatus(ctx context.Context, ex *exchange.Exchange, report *securechannel.StatusReport) {
	_ = ex.Send(ctx, securechannel.ProtocolID, uint8(securechannel.OpcodeStatusReport), report.Encode())
}
