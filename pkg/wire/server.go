package wire

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/rs/zerolog"

	"github.com/synapsedb/engine/pkg/engine"
	"github.com/synapsedb/engine/pkg/log"
	"github.com/synapsedb/engine/pkg/types"
)

// Server listens for TCP connections carrying wire.Frame requests and
// dispatches each one to an *engine.Engine, writing back a matching
// response frame. One connection serves requests sequentially rather
// than pipelining.
type Server struct {
	engine   *engine.Engine
	listener net.Listener
	logger   zerolog.Logger
}

// NewServer wraps engine behind the wire protocol, listening on addr.
func NewServer(e *engine.Engine, addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{engine: e, listener: ln, logger: log.WithComponent("wire")}, nil
}

func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until ctx is cancelled or the listener is
// closed.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		req, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug().Err(err).Msg("wire: connection closed")
			}
			return
		}
		resp := s.dispatch(ctx, req)
		if err := WriteFrame(conn, resp); err != nil {
			s.logger.Warn().Err(err).Msg("wire: failed to write response frame")
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Frame) Frame {
	switch req.Tag {
	case TagLearnConcept:
		return s.handleLearnConcept(req)
	case TagLearnBatch:
		return s.handleLearnBatch(ctx, req)
	case TagGetConcept:
		return s.handleGetConcept(req)
	case TagGetNeighbours:
		return s.handleGetNeighbours(req)
	case TagVectorSearch:
		return s.handleVectorSearch(req)
	case TagAddAssociation:
		return s.handleAddAssociation(ctx, req)
	case TagDeleteConcept:
		return s.handleDeleteConcept(req)
	case TagDeleteAssociation:
		return s.handleDeleteAssociation(ctx, req)
	case TagCheckpoint:
		return s.handleCheckpoint()
	case TagStats:
		return s.handleStats()
	case TagFindContradictions:
		return s.handleFindContradictions(req)
	default:
		return errorFrame(&engine.ValidationError{Reason: "unknown request tag"})
	}
}

func errorFrame(err error) Frame {
	return Frame{Tag: TagError, Payload: ErrorResponse{Kind: errorKind(err), Message: err.Error()}.Marshal()}
}

// errorKind classifies err into one of the engine's seven error kinds, the
// same switch Engine itself uses to label metrics, so a remote caller gets
// the same vocabulary a local one would from a type assertion.
func errorKind(err error) string {
	switch {
	case asValidation(err):
		return "validation"
	case asCapacity(err):
		return "capacity"
	case asFatalIo(err):
		return "fatal_io"
	case asNotFound(err):
		return "not_found"
	case asTransactionAborted(err):
		return "transaction_aborted"
	case asCorruptState(err):
		return "corrupt_state"
	case asUnavailable(err):
		return "unavailable"
	default:
		return "unknown"
	}
}

func asValidation(err error) bool          { var e *engine.ValidationError; return errors.As(err, &e) }
func asCapacity(err error) bool            { var e *engine.CapacityError; return errors.As(err, &e) }
func asFatalIo(err error) bool             { var e *engine.FatalIoError; return errors.As(err, &e) }
func asNotFound(err error) bool            { var e *engine.NotFoundError; return errors.As(err, &e) }
func asTransactionAborted(err error) bool  { var e *engine.TransactionAbortedError; return errors.As(err, &e) }
func asCorruptState(err error) bool        { var e *engine.CorruptStateError; return errors.As(err, &e) }
func asUnavailable(err error) bool         { var e *engine.UnavailableError; return errors.As(err, &e) }

func (s *Server) handleLearnConcept(req Frame) Frame {
	r, err := UnmarshalLearnConceptRequest(req.Payload)
	if err != nil {
		return errorFrame(&engine.ValidationError{Reason: err.Error()})
	}
	id, err := s.engine.Learn(r.Content, r.Embedding, r.Strength, r.Confidence, r.Metadata)
	if err != nil {
		return errorFrame(err)
	}
	return Frame{Tag: TagLearnConcept, Payload: LearnConceptResponse{ConceptId: id}.Marshal()}
}

func (s *Server) handleLearnBatch(ctx context.Context, req Frame) Frame {
	r, err := UnmarshalLearnBatchRequest(req.Payload)
	if err != nil {
		return errorFrame(&engine.ValidationError{Reason: err.Error()})
	}
	candidates := make([]engine.AssociationCandidate, len(r.Candidates))
	for i, c := range r.Candidates {
		candidates[i] = engine.AssociationCandidate{
			Target:     c.Target,
			Type:       c.Type,
			Strength:   c.Strength,
			Confidence: c.Confidence,
			Metadata:   c.Metadata,
		}
	}
	opts := engine.LearnOptions{
		MinAssociationConfidence:  r.MinAssociationConfidence,
		MaxAssociationsPerConcept: int(r.MaxAssociationsPerConcept),
	}
	id, assocIDs, err := s.engine.LearnBatch(ctx, r.Concept.Content, r.Concept.Embedding, r.Concept.Strength, r.Concept.Confidence, r.Concept.Metadata, candidates, opts)
	if err != nil {
		return errorFrame(err)
	}
	return Frame{Tag: TagLearnBatch, Payload: LearnBatchResponse{ConceptId: id, AssociationIds: assocIDs}.Marshal()}
}

func (s *Server) handleGetConcept(req Frame) Frame {
	r, err := UnmarshalGetConceptRequest(req.Payload)
	if err != nil {
		return errorFrame(&engine.ValidationError{Reason: err.Error()})
	}
	c, ok := s.engine.GetConcept(r.ConceptId)
	if !ok {
		return Frame{Tag: TagGetConcept, Payload: GetConceptResponse{Found: false}.Marshal()}
	}
	return Frame{Tag: TagGetConcept, Payload: GetConceptResponse{
		Found:      true,
		Content:    c.Content,
		Embedding:  c.Embedding,
		Strength:   c.Strength,
		Confidence: c.Confidence,
	}.Marshal()}
}

func (s *Server) handleGetNeighbours(req Frame) Frame {
	r, err := UnmarshalGetNeighboursRequest(req.Payload)
	if err != nil {
		return errorFrame(&engine.ValidationError{Reason: err.Error()})
	}
	var filter *types.AssociationType
	if r.FilterType != "" {
		filter = &r.FilterType
	}
	views := s.engine.GetNeighbours(r.ConceptId, filter)
	resp := GetNeighboursResponse{Neighbours: make([]NeighbourWire, len(views))}
	for i, v := range views {
		resp.Neighbours[i] = NeighbourWire{ConceptId: v.NeighbourID, Type: v.Type, Weight: v.Weight}
	}
	return Frame{Tag: TagGetNeighbours, Payload: resp.Marshal()}
}

func (s *Server) handleVectorSearch(req Frame) Frame {
	r, err := UnmarshalVectorSearchRequest(req.Payload)
	if err != nil {
		return errorFrame(&engine.ValidationError{Reason: err.Error()})
	}
	results, err := s.engine.VectorSearch(r.Query, int(r.K), int(r.Shard))
	if err != nil {
		return errorFrame(err)
	}
	resp := VectorSearchResponse{Results: make([]ScoredIDWire, len(results))}
	for i, res := range results {
		resp.Results[i] = ScoredIDWire{ConceptId: res.ID, Score: res.Distance}
	}
	return Frame{Tag: TagVectorSearch, Payload: resp.Marshal()}
}

func (s *Server) handleAddAssociation(ctx context.Context, req Frame) Frame {
	r, err := UnmarshalAddAssociationRequest(req.Payload)
	if err != nil {
		return errorFrame(&engine.ValidationError{Reason: err.Error()})
	}
	id, err := s.engine.AddAssociation(ctx, r.Source, r.Target, r.Type, r.Strength, r.Metadata)
	if err != nil {
		return errorFrame(err)
	}
	return Frame{Tag: TagAddAssociation, Payload: AddAssociationResponse{AssociationId: id}.Marshal()}
}

func (s *Server) handleDeleteConcept(req Frame) Frame {
	r, err := UnmarshalDeleteConceptRequest(req.Payload)
	if err != nil {
		return errorFrame(&engine.ValidationError{Reason: err.Error()})
	}
	if err := s.engine.RemoveConcept(r.ConceptId); err != nil {
		return errorFrame(err)
	}
	return Frame{Tag: TagDeleteConcept, Payload: DeleteConceptResponse{}.Marshal()}
}

func (s *Server) handleDeleteAssociation(ctx context.Context, req Frame) Frame {
	r, err := UnmarshalDeleteAssociationRequest(req.Payload)
	if err != nil {
		return errorFrame(&engine.ValidationError{Reason: err.Error()})
	}
	if err := s.engine.RemoveAssociation(ctx, r.Source, r.Target, r.Type); err != nil {
		return errorFrame(err)
	}
	return Frame{Tag: TagDeleteAssociation, Payload: DeleteAssociationResponse{}.Marshal()}
}

func (s *Server) handleCheckpoint() Frame {
	if err := s.engine.Checkpoint(); err != nil {
		return errorFrame(err)
	}
	return Frame{Tag: TagCheckpoint, Payload: CheckpointResponse{}.Marshal()}
}

func (s *Server) handleStats() Frame {
	st := s.engine.Stats()
	return Frame{Tag: TagStats, Payload: StatsResponse{
		Concepts:        uint64(st.Concepts),
		Edges:           uint64(st.Edges),
		Vectors:         uint64(st.Vectors),
		WALAppends:      uint64(st.WALAppends),
		WALDropped:      uint64(st.WALDropped),
		Reconciliations: uint64(st.Reconciliations),
		UptimeSeconds:   uint64(st.Uptime.Seconds()),
	}.Marshal()}
}

func (s *Server) handleFindContradictions(req Frame) Frame {
	r, err := UnmarshalFindContradictionsRequest(req.Payload)
	if err != nil {
		return errorFrame(&engine.ValidationError{Reason: err.Error()})
	}
	ids := s.engine.FindContradictions(r.ConceptId)
	return Frame{Tag: TagFindContradictions, Payload: FindContradictionsResponse{ConceptIds: ids}.Marshal()}
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.listener.Close() }
