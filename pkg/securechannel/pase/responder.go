package pase

import (
	"context"
	"fmt"
	"io"

	"github.com/pion/logging"

	"github.com/backkem/matterctl/pkg/crypto"
	"github.com/backkem/matterctl/pkg/crypto/spake2p"
	"github.com/backkem/matterctl/pkg/exchange"
	"github.com/backkem/matterctl/pkg/securechannel"
)

// ResponderConfig configures the device side of PASE.
type ResponderConfig struct {
	Verifier   *Verifier
	Salt       []byte
	Iterations int

	// LocalSessionID is returned to the initiator. Zero picks a random id.
	LocalSessionID uint16

	MRP           *MRPParameters
	Rand          io.Reader
	LoggerFactory logging.LoggerFactory
}

// Responder answers PASE handshakes with a stored verifier.
type Responder struct {
	config ResponderConfig
	log    logging.LeveledLogger
}

// NewResponder validates config.
func NewResponder(config ResponderConfig) (*Responder, error) {
	if config.Verifier == nil || len(config.Verifier.W0) != spake2p.ScalarSize || len(config.Verifier.L) != spake2p.PointSize {
		return nil, fmt.Errorf("%w: verifier", ErrInvalidMessage)
	}
	if len(config.Salt) < 16 || len(config.Salt) > 32 ||
		config.Iterations < crypto.PBKDF2IterationsMin || config.Iterations > crypto.PBKDF2IterationsMax {
		return nil, spake2p.ErrInvalidParams
	}
	r := &Responder{config: config}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("pase")
	}
	return r, nil
}

// Respond serves one handshake on ex, a responder exchange over an
// unsecured session.
func (r *Responder) Respond(ctx context.Context, ex *exchange.Exchange) (*Result, error) {
	f, err := ex.Receive(ctx)
	if err != nil {
		return nil, err
	}
	if f, err = expect(f, securechannel.OpcodePBKDFParamRequest); err != nil {
		return nil, err
	}
	reqBytes := f.Body
	req, err := DecodePBKDFParamRequest(reqBytes)
	if err != nil {
		sendStatus(ctx, ex, securechannel.InvalidParam())
		return nil, err
	}
	if req.PasscodeID != DefaultPasscodeID {
		sendStatus(ctx, ex, securechannel.InvalidParam())
		return nil, ErrInvalidPasscodeID
	}

	localID := r.config.LocalSessionID
	if localID == 0 {
		if localID, err = randomSessionID(r.config.Rand); err != nil {
			return nil, err
		}
	}
	respRandom, err := randomBytes(r.config.Rand, RandomSize)
	if err != nil {
		return nil, err
	}
	resp := &PBKDFParamResponse{
		InitiatorRandom:    req.InitiatorRandom,
		ResponderRandom:    respRandom,
		ResponderSessionID: localID,
		MRP:                r.config.MRP,
	}
	if !req.HasPBKDFParameters {
		resp.Params = &PBKDFParameters{Iterations: uint32(r.config.Iterations), Salt: r.config.Salt}
	}
	respBytes, err := resp.Encode()
	if err != nil {
		return nil, err
	}

	verifier, err := spake2p.NewVerifier(commissioningContext(reqBytes, respBytes), r.config.Verifier.W0, r.config.Verifier.L)
	if err != nil {
		return nil, err
	}
	defer verifier.Clear()
	verifier.Rand = r.config.Rand

	f, err = ex.SendAndReceive(ctx, respBytes, securechannel.ProtocolID, uint8(securechannel.OpcodePBKDFParamResponse))
	if err != nil {
		return nil, err
	}
	if f, err = expect(f, securechannel.OpcodePASEPake1); err != nil {
		return nil, err
	}
	pake1, err := DecodePake1(f.Body)
	if err != nil {
		sendStatus(ctx, ex, securechannel.InvalidParam())
		return nil, err
	}
	pB, err := verifier.Share()
	if err != nil {
		return nil, err
	}
	cB, err := verifier.Finish(pake1.PA)
	if err != nil {
		sendStatus(ctx, ex, securechannel.InvalidParam())
		return nil, err
	}
	pake2, err := (&Pake2{PB: pB, CB: cB}).Encode()
	if err != nil {
		return nil, err
	}

	f, err = ex.SendAndReceive(ctx, pake2, securechannel.ProtocolID, uint8(securechannel.OpcodePASEPake2))
	if err != nil {
		return nil, err
	}
	if f, err = expect(f, securechannel.OpcodePASEPake3); err != nil {
		return nil, err
	}
	pake3, err := DecodePake3(f.Body)
	if err != nil {
		sendStatus(ctx, ex, securechannel.InvalidParam())
		return nil, err
	}
	if err := verifier.Verify(pake3.CA); err != nil {
		sendStatus(ctx, ex, securechannel.InvalidParam())
		return nil, fmt.Errorf("pase: commissioner used another passcode: %w", err)
	}

	ke, err := verifier.SharedSecret()
	if err != nil {
		return nil, err
	}
	defer crypto.Zeroize(ke)
	result, err := deriveResult(ke, localID, req.InitiatorSessionID)
	if err != nil {
		return nil, err
	}
	if err := ex.Send(ctx, securechannel.ProtocolID, uint8(securechannel.OpcodeStatusReport), securechannel.Success().Encode()); err != nil {
		result.Keys.Zeroize()
		return nil, err
	}
	if r.log != nil {
		r.log.Infof("PASE session %d<->%d established", localID, req.InitiatorSessionID)
	}
	return result, nil
}
