package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/edgerpc/edgerpc"
	"github.com/edgerpc/edgerpc/channel"
	"github.com/edgerpc/edgerpc/code"
	"github.com/edgerpc/edgerpc/hibernate"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsSocket adapts a channel.WebSocket to hibernate.Socket, holding the
// attachment bytes the connection manager serializes on hibernate and reads
// back on wake (spec.md §9 "Hibernation attachments"). Within a single
// server process the Manager's own map already survives an idle-timer
// firing, so the attachment round trip here only matters for a socket that
// reattaches under a previously-seen connection id (see serveUpgrade's
// "cid" query parameter); it does not model surviving an actual process
// restart, which would require a durable attachment store outside this
// package.
type wsSocket struct {
	ws *channel.WebSocket

	mu         sync.Mutex
	attachment []byte
}

func (s *wsSocket) Send(msg []byte) error { return s.ws.Send(msg) }

func (s *wsSocket) Close(reason string) error {
	return s.ws.CloseWithReason(websocket.CloseNormalClosure, reason)
}

func (s *wsSocket) SerializeAttachment(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachment = data
}

func (s *wsSocket) DeserializeAttachment() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachment
}

// serveUpgrade promotes r to a WebSocket connection and hands it to the
// connection manager, reattaching to a previous connection id supplied via
// the "cid" query parameter if one was given (spec.md §4.4's wake path).
func (s *Server) serveUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sock := &wsSocket{ws: channel.NewWebSocket(conn)}

	var hc *hibernate.Connection
	if cid := r.URL.Query().Get("cid"); cid != "" {
		hc, err = s.hib.Wake(cid, sock, nil)
	}
	if hc == nil {
		hc = s.hib.Open(uuid.NewString(), sock)
	}
	s.readLoop(hc, sock)
}

// readLoop pumps inbound frames for conn until the socket errors or closes,
// handing each to the connection manager and writing back any response.
func (s *Server) readLoop(conn *hibernate.Connection, sock *wsSocket) {
	defer s.hib.Close(conn)
	ctx := context.Background()
	for {
		msg, err := sock.ws.Recv()
		if err != nil {
			return
		}
		if resp := s.hib.HandleMessage(ctx, conn, msg); resp != nil {
			_ = sock.Send(resp)
		}
	}
}

// dispatchInbound is the hibernate.DispatchFunc wired into the connection
// manager: it decodes msg as a single or batch request, dispatches it
// through the shared Engine, and returns the encoded response bytes (never
// an error — decode failures become an encoded error response, matching
// the HTTP POST path's "transport succeeds, payload may carry an error"
// contract, spec.md §9 "Transport-neutral dispatch").
func (s *Server) dispatchInbound(ctx context.Context, conn *hibernate.Connection, msg []byte) []byte {
	ec := &edgerpc.ExecContext{ConnectionID: conn.ID()}

	if isBatchEnvelope(msg) {
		br, err := edgerpc.DecodeBatchRequest(msg)
		if err != nil {
			bits, _ := edgerpc.EncodeResponse(decodeErrorResponse(err))
			return bits
		}
		rsp := s.disp.DispatchBatch(ctx, br, ec)
		bits, _ := edgerpc.EncodeBatchResponse(rsp)
		return bits
	}

	req, err := edgerpc.DecodeRequest(msg)
	if err != nil {
		bits, _ := edgerpc.EncodeResponse(decodeErrorResponse(err))
		return bits
	}
	rsp := s.disp.DispatchSingle(ctx, req, ec)
	bits, _ := edgerpc.EncodeResponse(rsp)
	return bits
}

// decodeErrorResponse shapes a codec decode failure as a null-id error
// response: the request's id could not be recovered (spec.md §7).
func decodeErrorResponse(err error) *edgerpc.Response {
	if rerr, ok := err.(*edgerpc.Error); ok {
		return edgerpc.NewErrorUnknownID(rerr)
	}
	return edgerpc.NewErrorUnknownID(edgerpc.Errorf(code.ParseError, "%v", err))
}
