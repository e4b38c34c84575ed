package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"log/slog"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/agentmail/coordinator/cluster"
	agentlogger "github.com/agentmail/coordinator/logger"
)

// Protocol IDs for the Peer Transport's request/response endpoints,
// mirroring how the teacher's network package assigns one libp2p protocol
// per wire message family (network.ProtocolBlockProposal and friends).
const (
	ProtocolConsensus protocol.ID = "/agentmail/coordinator/consensus/1.0.0"
	ProtocolHeartbeat protocol.ID = "/agentmail/coordinator/heartbeat/1.0.0"
	ProtocolStateSync protocol.ID = "/agentmail/coordinator/statesync/1.0.0"
)

// gob needs every concrete type that will ever be stashed inside the
// opaque Context.Extra map registered up front; this covers the JSON-ish
// scalars an inbound event's unknown fields typically carry.
func init() {
	gob.Register("")
	gob.Register(0)
	gob.Register(float64(0))
	gob.Register(false)
	gob.Register([]any{})
	gob.Register(map[string]any{})
}

// PeerResolver maps a static cluster.NodeID to the libp2p peer.ID the node
// is currently reachable at. Membership is static, but the peer.ID of a
// node is only known once its identity key is loaded, hence the
// indirection instead of folding this into cluster.Membership directly.
type PeerResolver interface {
	Resolve(id cluster.NodeID) (peer.ID, error)
}

// LibP2PWire implements Wire over libp2p streams: one stream per call,
// carrying a single length-prefixed gob-encoded Envelope each way.
type LibP2PWire struct {
	host     host.Host
	resolver PeerResolver
	log      *slog.Logger
}

func NewLibP2PWire(h host.Host, resolver PeerResolver, handlers Handlers, self cluster.NodeID, log *slog.Logger) *LibP2PWire {
	if log == nil {
		log = slog.Default()
	}
	w := &LibP2PWire{host: h, resolver: resolver, log: log}
	h.SetStreamHandler(ProtocolConsensus, w.serverHandler(handlers, self))
	h.SetStreamHandler(ProtocolHeartbeat, w.serverHandler(handlers, self))
	h.SetStreamHandler(ProtocolStateSync, w.serverHandler(handlers, self))
	return w
}

func (w *LibP2PWire) serverHandler(handlers Handlers, self cluster.NodeID) network.StreamHandler {
	return func(s network.Stream) {
		defer s.Close()
		req, err := readEnvelope(s)
		if err != nil {
			w.log.Debug("failed to read inbound envelope", agentlogger.Error(err))
			return
		}
		resp := HandleEnvelope(handlers, self, req)
		if err := writeEnvelope(s, resp); err != nil {
			w.log.Debug("failed to write response envelope", agentlogger.Error(err))
		}
	}
}

func (w *LibP2PWire) call(ctx context.Context, to cluster.NodeID, pid protocol.ID, req Envelope) (Envelope, error) {
	peerID, err := w.resolver.Resolve(to)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	s, err := w.host.NewStream(ctx, peerID, pid)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	defer s.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(deadline)
	}
	if err := writeEnvelope(s, req); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	resp, err := readEnvelope(s)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	return resp, nil
}

func (w *LibP2PWire) SendPrepare(ctx context.Context, to cluster.NodeID, env Envelope) (Envelope, error) {
	return w.call(ctx, to, ProtocolConsensus, env)
}

func (w *LibP2PWire) SendAccept(ctx context.Context, to cluster.NodeID, env Envelope) (Envelope, error) {
	return w.call(ctx, to, ProtocolConsensus, env)
}

func (w *LibP2PWire) SendHeartbeat(ctx context.Context, to cluster.NodeID, env Envelope) error {
	_, err := w.call(ctx, to, ProtocolHeartbeat, env)
	return err
}

func (w *LibP2PWire) SendStateSync(ctx context.Context, to cluster.NodeID, env Envelope) error {
	_, err := w.call(ctx, to, ProtocolStateSync, env)
	return err
}

// writeEnvelope / readEnvelope frame a gob-encoded Envelope with a 4-byte
// big-endian length prefix, so either side can read a complete message
// without relying on stream half-close semantics.
func writeEnvelope(w io.Writer, env Envelope) error {
	body, err := gobEncode(env)
	if err != nil {
		return err
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func readEnvelope(r io.Reader) (Envelope, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := gobDecode(body, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func gobEncode(env Envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(body []byte, env *Envelope) error {
	return gob.NewDecoder(bytes.NewReader(body)).Decode(env)
}
