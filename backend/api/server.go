// Package api is the HTTP surface of the server: document administration,
// diagnostics, metrics and the websocket endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"Co-Edit/backend/archive"
	"Co-Edit/backend/ot"
	"Co-Edit/backend/peer"
	"Co-Edit/backend/transport"
	"Co-Edit/backend/types"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// Options of NewServer. Metrics and Gateway are mounted when set.
type Options struct {
	Metrics http.Handler
	Gateway http.Handler
}

// NewServer wires the document handlers into a router and exposes a health
// check.
func NewServer(node peer.Peer, broker transport.Broker, log zerolog.Logger, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}
	if opts.Gateway != nil {
		r.Handle("/ws", opts.Gateway)
	}

	s := &Server{
		node:   node,
		broker: broker,
		log:    log.With().Str("component", "api").Logger(),
	}

	return HandlerWithOptions(s, ChiServerOptions{
		BaseRouter: r,
		ErrorHandlerFunc: func(w http.ResponseWriter, r *http.Request, err error) {
			writeError(w, http.StatusBadRequest, err)
		},
	})
}

// Server implements the document handlers on top of a peer.
//
// - implements ServerInterface
type Server struct {
	node   peer.Peer
	broker transport.Broker
	log    zerolog.Logger
}

var _ ServerInterface = (*Server)(nil)

// PutDocumentRequest replaces the text of a document.
type PutDocumentRequest struct {
	Content string `json:"content"`
}

// PostOperationRequest submits an edit.
type PostOperationRequest struct {
	ClientID       string                `json:"clientId"`
	Revision       int                   `json:"revision"`
	Operation      types.Operation       `json:"operation"`
	Selection      *types.Selection      `json:"selection,omitempty"`
	CursorPosition *types.CursorPosition `json:"cursorPosition,omitempty"`
}

// PostOperationResponse is the committed form of an edit.
type PostOperationResponse struct {
	Revision  int             `json:"revision"`
	Operation types.Operation `json:"operation"`
}

// GetDocument implements ServerInterface
func (s *Server) GetDocument(w http.ResponseWriter, r *http.Request, sessionID string, documentID string) {
	state, err := s.node.GetDocumentState(r.Context(), sessionID, documentID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// PutDocument implements ServerInterface. Connected clients receive the new
// state.
func (s *Server) PutDocument(w http.ResponseWriter, r *http.Request, sessionID string, documentID string) {
	var req PutDocumentRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, xerrors.Errorf("failed to decode body: %w", err))
		return
	}

	err = s.node.SetContent(r.Context(), sessionID, documentID, req.Content)
	if err != nil {
		s.fail(w, err)
		return
	}

	state, err := s.publishState(r.Context(), sessionID, documentID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// DeleteDocument implements ServerInterface
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request, sessionID string, documentID string) {
	err := s.node.ResetDocument(r.Context(), sessionID, documentID)
	if err != nil {
		s.fail(w, err)
		return
	}

	_, err = s.publishState(r.Context(), sessionID, documentID)
	if err != nil {
		s.log.Warn().Str("session", sessionID).Str("document", documentID).Err(err).
			Msg("failed to publish state after reset")
	}

	w.WriteHeader(http.StatusNoContent)
}

// PostOperation implements ServerInterface. The committed edit is broadcast
// like one received over the websocket.
func (s *Server) PostOperation(w http.ResponseWriter, r *http.Request, sessionID string, documentID string) {
	var req PostOperationRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, xerrors.Errorf("failed to decode body: %w", err))
		return
	}

	ctx := r.Context()

	transformed, revision, err := s.node.ReceiveOperation(ctx, sessionID, documentID, req.Revision, req.Operation)
	if err != nil {
		s.fail(w, err)
		return
	}

	broadcast := types.OperationBroadcastMessage{
		SessionID:      sessionID,
		DocumentID:     documentID,
		ClientID:       req.ClientID,
		Revision:       revision,
		Operation:      transformed,
		Selection:      req.Selection,
		CursorPosition: req.CursorPosition,
	}

	msg, err := transport.NewTopicMessage(transport.OperationsTopic(sessionID, documentID), broadcast)
	if err == nil {
		err = s.broker.Publish(ctx, msg.Topic, msg)
	}
	if err != nil {
		s.log.Warn().Str("session", sessionID).Str("document", documentID).Int("revision", revision).Err(err).
			Msg("failed to broadcast operation")
	}

	writeJSON(w, http.StatusOK, PostOperationResponse{Revision: revision, Operation: transformed})
}

// GetHistory implements ServerInterface
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request, sessionID string, documentID string) {
	history, err := s.node.GetOperationHistory(r.Context(), sessionID, documentID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if history == nil {
		history = []types.Operation{}
	}
	writeJSON(w, http.StatusOK, history)
}

// ListParticipants implements ServerInterface
func (s *Server) ListParticipants(w http.ResponseWriter, r *http.Request, sessionID string, documentID string,
	params ListParticipantsParams) {

	exclude := ""
	if params.ExcludeUserID != nil {
		exclude = *params.ExcludeUserID
	}

	participants, err := s.node.ListParticipants(r.Context(), sessionID, documentID, exclude)
	if err != nil {
		s.fail(w, err)
		return
	}
	if participants == nil {
		participants = []types.Participant{}
	}
	writeJSON(w, http.StatusOK, participants)
}

// ListSnapshots implements ServerInterface
func (s *Server) ListSnapshots(w http.ResponseWriter, r *http.Request, sessionID string, documentID string) {
	snapshots, err := s.node.ListSnapshots(r.Context(), sessionID, documentID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if snapshots == nil {
		snapshots = []archive.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) publishState(ctx context.Context, sessionID, documentID string) (types.DocumentStateMessage, error) {
	state, err := s.node.GetDocumentState(ctx, sessionID, documentID)
	if err != nil {
		return types.DocumentStateMessage{}, err
	}

	msg, err := transport.NewTopicMessage(transport.StateTopic(sessionID, documentID), state)
	if err != nil {
		return types.DocumentStateMessage{}, err
	}

	err = s.broker.Publish(ctx, msg.Topic, msg)
	if err != nil {
		return types.DocumentStateMessage{}, xerrors.Errorf("failed to publish state: %w", err)
	}
	return state, nil
}

// fail maps engine errors to status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, peer.ErrMissingID):
		status = http.StatusBadRequest
	case errors.Is(err, peer.ErrInvalidRevision), errors.Is(err, peer.ErrResyncRequired),
		errors.Is(err, peer.ErrCommitConflict):
		status = http.StatusConflict
	case errors.Is(err, ot.ErrRange), errors.Is(err, ot.ErrLengthMismatch):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	writeError(w, status, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
