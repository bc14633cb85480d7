package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/synapsedb/engine/pkg/types"
)

func conceptID(b []byte) (types.ConceptId, error) {
	var id types.ConceptId
	if len(b) != len(id) {
		return id, fmt.Errorf("wire: concept id field has %d bytes, want %d", len(b), len(id))
	}
	copy(id[:], b)
	return id, nil
}

// --- LearnConcept ---

type LearnConceptRequest struct {
	Content    []byte
	Embedding  []float32
	Strength   float32
	Confidence float32
	Metadata   types.SemanticMetadata
}

const (
	fieldLearnContent    = 1
	fieldLearnEmbedding  = 2
	fieldLearnStrength   = 3
	fieldLearnConfidence = 4
	fieldLearnMetadata   = 5
)

func (r LearnConceptRequest) Marshal() []byte {
	var e encoder
	e.bytesField(fieldLearnContent, r.Content)
	e.float32SliceField(fieldLearnEmbedding, r.Embedding)
	e.float32Field(fieldLearnStrength, r.Strength)
	e.float32Field(fieldLearnConfidence, r.Confidence)
	e.submessageField(fieldLearnMetadata, encodeMetadata(r.Metadata))
	return e.bytes()
}

func UnmarshalLearnConceptRequest(data []byte) (LearnConceptRequest, error) {
	var r LearnConceptRequest
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case fieldLearnContent:
			v, n, err := consumeBytes(typ, rest)
			r.Content = append([]byte(nil), v...)
			return n, err
		case fieldLearnEmbedding:
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			r.Embedding, err = decodeFloat32Slice(v)
			return n, err
		case fieldLearnStrength:
			v, n, err := consumeFixed32(typ, rest)
			r.Strength = float32FromBits(v)
			return n, err
		case fieldLearnConfidence:
			v, n, err := consumeFixed32(typ, rest)
			r.Confidence = float32FromBits(v)
			return n, err
		case fieldLearnMetadata:
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			r.Metadata, err = decodeMetadata(v)
			return n, err
		default:
			return protowire.ConsumeFieldValue(num, typ, rest), nil
		}
	})
	return r, err
}

type LearnConceptResponse struct {
	ConceptId types.ConceptId
}

func (r LearnConceptResponse) Marshal() []byte {
	var e encoder
	e.bytesField(1, r.ConceptId[:])
	return e.bytes()
}

func UnmarshalLearnConceptResponse(data []byte) (LearnConceptResponse, error) {
	var r LearnConceptResponse
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			r.ConceptId, err = conceptID(v)
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, rest), nil
	})
	return r, err
}

// --- LearnBatch ---

type AssociationCandidateWire struct {
	Target     types.ConceptId
	Type       types.AssociationType
	Strength   float32
	Confidence float32
	Metadata   types.SemanticMetadata
}

const (
	fieldCandTarget     = 1
	fieldCandType       = 2
	fieldCandStrength   = 3
	fieldCandConfidence = 4
	fieldCandMetadata   = 5
)

func encodeCandidate(c AssociationCandidateWire) []byte {
	var e encoder
	e.bytesField(fieldCandTarget, c.Target[:])
	e.stringField(fieldCandType, string(c.Type))
	e.float32Field(fieldCandStrength, c.Strength)
	e.float32Field(fieldCandConfidence, c.Confidence)
	e.submessageField(fieldCandMetadata, encodeMetadata(c.Metadata))
	return e.bytes()
}

func decodeCandidate(data []byte) (AssociationCandidateWire, error) {
	var c AssociationCandidateWire
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case fieldCandTarget:
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			c.Target, err = conceptID(v)
			return n, err
		case fieldCandType:
			v, n, err := consumeBytes(typ, rest)
			c.Type = types.AssociationType(v)
			return n, err
		case fieldCandStrength:
			v, n, err := consumeFixed32(typ, rest)
			c.Strength = float32FromBits(v)
			return n, err
		case fieldCandConfidence:
			v, n, err := consumeFixed32(typ, rest)
			c.Confidence = float32FromBits(v)
			return n, err
		case fieldCandMetadata:
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			c.Metadata, err = decodeMetadata(v)
			return n, err
		default:
			return protowire.ConsumeFieldValue(num, typ, rest), nil
		}
	})
	return c, err
}

type LearnBatchRequest struct {
	Concept                   LearnConceptRequest
	Candidates                []AssociationCandidateWire
	MinAssociationConfidence  float32
	MaxAssociationsPerConcept uint32
}

const (
	fieldBatchConcept    = 1
	fieldBatchCandidate  = 2
	fieldBatchMinConf    = 3
	fieldBatchMaxPerConc = 4
)

func (r LearnBatchRequest) Marshal() []byte {
	var e encoder
	e.submessageField(fieldBatchConcept, r.Concept.Marshal())
	for _, c := range r.Candidates {
		e.submessageField(fieldBatchCandidate, encodeCandidate(c))
	}
	e.float32Field(fieldBatchMinConf, r.MinAssociationConfidence)
	e.varintField(fieldBatchMaxPerConc, uint64(r.MaxAssociationsPerConcept))
	return e.bytes()
}

func UnmarshalLearnBatchRequest(data []byte) (LearnBatchRequest, error) {
	var r LearnBatchRequest
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case fieldBatchConcept:
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			r.Concept, err = UnmarshalLearnConceptRequest(v)
			return n, err
		case fieldBatchCandidate:
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			c, err := decodeCandidate(v)
			if err != nil {
				return n, err
			}
			r.Candidates = append(r.Candidates, c)
			return n, nil
		case fieldBatchMinConf:
			v, n, err := consumeFixed32(typ, rest)
			r.MinAssociationConfidence = float32FromBits(v)
			return n, err
		case fieldBatchMaxPerConc:
			v, n, err := consumeVarint(typ, rest)
			r.MaxAssociationsPerConcept = uint32(v)
			return n, err
		default:
			return protowire.ConsumeFieldValue(num, typ, rest), nil
		}
	})
	return r, err
}

type LearnBatchResponse struct {
	ConceptId      types.ConceptId
	AssociationIds []types.AssociationId
}

func (r LearnBatchResponse) Marshal() []byte {
	var e encoder
	e.bytesField(1, r.ConceptId[:])
	ids := make([]uint64, len(r.AssociationIds))
	for i, id := range r.AssociationIds {
		ids[i] = uint64(id)
	}
	e.varintSliceField(2, ids)
	return e.bytes()
}

func UnmarshalLearnBatchResponse(data []byte) (LearnBatchResponse, error) {
	var r LearnBatchResponse
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			r.ConceptId, err = conceptID(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			ids, err := decodeVarintSlice(v)
			if err != nil {
				return n, err
			}
			r.AssociationIds = make([]types.AssociationId, len(ids))
			for i, id := range ids {
				r.AssociationIds[i] = types.AssociationId(id)
			}
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, rest), nil
		}
	})
	return r, err
}

// --- GetConcept ---

type GetConceptRequest struct{ ConceptId types.ConceptId }

func (r GetConceptRequest) Marshal() []byte {
	var e encoder
	e.bytesField(1, r.ConceptId[:])
	return e.bytes()
}

func UnmarshalGetConceptRequest(data []byte) (GetConceptRequest, error) {
	var r GetConceptRequest
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			r.ConceptId, err = conceptID(v)
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, rest), nil
	})
	return r, err
}

type GetConceptResponse struct {
	Found      bool
	Content    []byte
	Embedding  []float32
	Strength   float32
	Confidence float32
}

func (r GetConceptResponse) Marshal() []byte {
	var e encoder
	e.boolField(1, r.Found)
	e.bytesField(2, r.Content)
	e.float32SliceField(3, r.Embedding)
	e.float32Field(4, r.Strength)
	e.float32Field(5, r.Confidence)
	return e.bytes()
}

func UnmarshalGetConceptResponse(data []byte) (GetConceptResponse, error) {
	var r GetConceptResponse
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, rest)
			r.Found = v != 0
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, rest)
			r.Content = append([]byte(nil), v...)
			return n, err
		case 3:
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			r.Embedding, err = decodeFloat32Slice(v)
			return n, err
		case 4:
			v, n, err := consumeFixed32(typ, rest)
			r.Strength = float32FromBits(v)
			return n, err
		case 5:
			v, n, err := consumeFixed32(typ, rest)
			r.Confidence = float32FromBits(v)
			return n, err
		default:
			return protowire.ConsumeFieldValue(num, typ, rest), nil
		}
	})
	return r, err
}

// --- GetNeighbours ---

type GetNeighboursRequest struct {
	ConceptId  types.ConceptId
	FilterType types.AssociationType // empty means no filter
}

func (r GetNeighboursRequest) Marshal() []byte {
	var e encoder
	e.bytesField(1, r.ConceptId[:])
	e.stringField(2, string(r.FilterType))
	return e.bytes()
}

func UnmarshalGetNeighboursRequest(data []byte) (GetNeighboursRequest, error) {
	var r GetNeighboursRequest
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			r.ConceptId, err = conceptID(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, rest)
			r.FilterType = types.AssociationType(v)
			return n, err
		default:
			return protowire.ConsumeFieldValue(num, typ, rest), nil
		}
	})
	return r, err
}

type NeighbourWire struct {
	ConceptId types.ConceptId
	Type      types.AssociationType
	Weight    float32
}

func encodeNeighbour(n NeighbourWire) []byte {
	var e encoder
	e.bytesField(1, n.ConceptId[:])
	e.stringField(2, string(n.Type))
	e.float32Field(3, n.Weight)
	return e.bytes()
}

func decodeNeighbour(data []byte) (NeighbourWire, error) {
	var n NeighbourWire
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, l, err := consumeBytes(typ, rest)
			if err != nil {
				return l, err
			}
			n.ConceptId, err = conceptID(v)
			return l, err
		case 2:
			v, l, err := consumeBytes(typ, rest)
			n.Type = types.AssociationType(v)
			return l, err
		case 3:
			v, l, err := consumeFixed32(typ, rest)
			n.Weight = float32FromBits(v)
			return l, err
		default:
			return protowire.ConsumeFieldValue(num, typ, rest), nil
		}
	})
	return n, err
}

type GetNeighboursResponse struct {
	Neighbours []NeighbourWire
}

func (r GetNeighboursResponse) Marshal() []byte {
	var e encoder
	for _, n := range r.Neighbours {
		e.submessageField(1, encodeNeighbour(n))
	}
	return e.bytes()
}

func UnmarshalGetNeighboursResponse(data []byte) (GetNeighboursResponse, error) {
	var r GetNeighboursResponse
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			nb, err := decodeNeighbour(v)
			if err != nil {
				return n, err
			}
			r.Neighbours = append(r.Neighbours, nb)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, rest), nil
	})
	return r, err
}

// --- VectorSearch ---

type VectorSearchRequest struct {
	Query []float32
	K     uint32
	Shard uint32
}

func (r VectorSearchRequest) Marshal() []byte {
	var e encoder
	e.float32SliceField(1, r.Query)
	e.varintField(2, uint64(r.K))
	e.varintField(3, uint64(r.Shard))
	return e.bytes()
}

func UnmarshalVectorSearchRequest(data []byte) (VectorSearchRequest, error) {
	var r VectorSearchRequest
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			r.Query, err = decodeFloat32Slice(v)
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, rest)
			r.K = uint32(v)
			return n, err
		case 3:
			v, n, err := consumeVarint(typ, rest)
			r.Shard = uint32(v)
			return n, err
		default:
			return protowire.ConsumeFieldValue(num, typ, rest), nil
		}
	})
	return r, err
}

type ScoredIDWire struct {
	ConceptId types.ConceptId
	Score     float32
}

func encodeScoredID(s ScoredIDWire) []byte {
	var e encoder
	e.bytesField(1, s.ConceptId[:])
	e.float32Field(2, s.Score)
	return e.bytes()
}

func decodeScoredID(data []byte) (ScoredIDWire, error) {
	var s ScoredIDWire
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			s.ConceptId, err = conceptID(v)
			return n, err
		case 2:
			v, n, err := consumeFixed32(typ, rest)
			s.Score = float32FromBits(v)
			return n, err
		default:
			return protowire.ConsumeFieldValue(num, typ, rest), nil
		}
	})
	return s, err
}

type VectorSearchResponse struct {
	Results []ScoredIDWire
}

func (r VectorSearchResponse) Marshal() []byte {
	var e encoder
	for _, s := range r.Results {
		e.submessageField(1, encodeScoredID(s))
	}
	return e.bytes()
}

func UnmarshalVectorSearchResponse(data []byte) (VectorSearchResponse, error) {
	var r VectorSearchResponse
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			s, err := decodeScoredID(v)
			if err != nil {
				return n, err
			}
			r.Results = append(r.Results, s)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, rest), nil
	})
	return r, err
}

// --- AddAssociation ---

type AddAssociationRequest struct {
	Source   types.ConceptId
	Target   types.ConceptId
	Type     types.AssociationType
	Strength float32
	Metadata types.SemanticMetadata
}

func (r AddAssociationRequest) Marshal() []byte {
	var e encoder
	e.bytesField(1, r.Source[:])
	e.bytesField(2, r.Target[:])
	e.stringField(3, string(r.Type))
	e.float32Field(4, r.Strength)
	e.submessageField(5, encodeMetadata(r.Metadata))
	return e.bytes()
}

func UnmarshalAddAssociationRequest(data []byte) (AddAssociationRequest, error) {
	var r AddAssociationRequest
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			r.Source, err = conceptID(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			r.Target, err = conceptID(v)
			return n, err
		case 3:
			v, n, err := consumeBytes(typ, rest)
			r.Type = types.AssociationType(v)
			return n, err
		case 4:
			v, n, err := consumeFixed32(typ, rest)
			r.Strength = float32FromBits(v)
			return n, err
		case 5:
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			r.Metadata, err = decodeMetadata(v)
			return n, err
		default:
			return protowire.ConsumeFieldValue(num, typ, rest), nil
		}
	})
	return r, err
}

type AddAssociationResponse struct {
	AssociationId types.AssociationId
}

func (r AddAssociationResponse) Marshal() []byte {
	var e encoder
	e.varintField(1, uint64(r.AssociationId))
	return e.bytes()
}

func UnmarshalAddAssociationResponse(data []byte) (AddAssociationResponse, error) {
	var r AddAssociationResponse
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeVarint(typ, rest)
			r.AssociationId = types.AssociationId(v)
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, rest), nil
	})
	return r, err
}

// --- DeleteConcept ---

type DeleteConceptRequest struct{ ConceptId types.ConceptId }

func (r DeleteConceptRequest) Marshal() []byte {
	var e encoder
	e.bytesField(1, r.ConceptId[:])
	return e.bytes()
}

func UnmarshalDeleteConceptRequest(data []byte) (DeleteConceptRequest, error) {
	var r DeleteConceptRequest
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			r.ConceptId, err = conceptID(v)
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, rest), nil
	})
	return r, err
}

type DeleteConceptResponse struct{}

func (DeleteConceptResponse) Marshal() []byte { return nil }

func UnmarshalDeleteConceptResponse([]byte) (DeleteConceptResponse, error) {
	return DeleteConceptResponse{}, nil
}

// --- DeleteAssociation ---

type DeleteAssociationRequest struct {
	Source types.ConceptId
	Target types.ConceptId
	Type   types.AssociationType
}

func (r DeleteAssociationRequest) Marshal() []byte {
	var e encoder
	e.bytesField(1, r.Source[:])
	e.bytesField(2, r.Target[:])
	e.stringField(3, string(r.Type))
	return e.bytes()
}

func UnmarshalDeleteAssociationRequest(data []byte) (DeleteAssociationRequest, error) {
	var r DeleteAssociationRequest
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			r.Source, err = conceptID(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			r.Target, err = conceptID(v)
			return n, err
		case 3:
			v, n, err := consumeBytes(typ, rest)
			r.Type = types.AssociationType(v)
			return n, err
		default:
			return protowire.ConsumeFieldValue(num, typ, rest), nil
		}
	})
	return r, err
}

type DeleteAssociationResponse struct{}

func (DeleteAssociationResponse) Marshal() []byte { return nil }

func UnmarshalDeleteAssociationResponse([]byte) (DeleteAssociationResponse, error) {
	return DeleteAssociationResponse{}, nil
}

// --- Checkpoint ---

type CheckpointRequest struct{}

func (CheckpointRequest) Marshal() []byte { return nil }

func UnmarshalCheckpointRequest([]byte) (CheckpointRequest, error) { return CheckpointRequest{}, nil }

type CheckpointResponse struct{}

func (CheckpointResponse) Marshal() []byte { return nil }

func UnmarshalCheckpointResponse([]byte) (CheckpointResponse, error) {
	return CheckpointResponse{}, nil
}

// --- Stats ---

type StatsRequest struct{}

func (StatsRequest) Marshal() []byte { return nil }

func UnmarshalStatsRequest([]byte) (StatsRequest, error) { return StatsRequest{}, nil }

type StatsResponse struct {
	Concepts        uint64
	Edges           uint64
	Vectors         uint64
	WALAppends      uint64
	WALDropped      uint64
	Reconciliations uint64
	UptimeSeconds   uint64
}

func (r StatsResponse) Marshal() []byte {
	var e encoder
	e.varintField(1, r.Concepts)
	e.varintField(2, r.Edges)
	e.varintField(3, r.Vectors)
	e.varintField(4, r.WALAppends)
	e.varintField(5, r.WALDropped)
	e.varintField(6, r.Reconciliations)
	e.varintField(7, r.UptimeSeconds)
	return e.bytes()
}

func UnmarshalStatsResponse(data []byte) (StatsResponse, error) {
	var r StatsResponse
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		var target *uint64
		switch num {
		case 1:
			target = &r.Concepts
		case 2:
			target = &r.Edges
		case 3:
			target = &r.Vectors
		case 4:
			target = &r.WALAppends
		case 5:
			target = &r.WALDropped
		case 6:
			target = &r.Reconciliations
		case 7:
			target = &r.UptimeSeconds
		default:
			return protowire.ConsumeFieldValue(num, typ, rest), nil
		}
		v, n, err := consumeVarint(typ, rest)
		*target = v
		return n, err
	})
	return r, err
}

// --- FindContradictions ---

type FindContradictionsRequest struct{ ConceptId types.ConceptId }

func (r FindContradictionsRequest) Marshal() []byte {
	var e encoder
	e.bytesField(1, r.ConceptId[:])
	return e.bytes()
}

func UnmarshalFindContradictionsRequest(data []byte) (FindContradictionsRequest, error) {
	var r FindContradictionsRequest
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			r.ConceptId, err = conceptID(v)
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, rest), nil
	})
	return r, err
}

type FindContradictionsResponse struct {
	ConceptIds []types.ConceptId
}

func (r FindContradictionsResponse) Marshal() []byte {
	var e encoder
	for _, id := range r.ConceptIds {
		e.bytesField(1, id[:])
	}
	return e.bytes()
}

func UnmarshalFindContradictionsResponse(data []byte) (FindContradictionsResponse, error) {
	var r FindContradictionsResponse
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			id, err := conceptID(v)
			if err != nil {
				return n, err
			}
			r.ConceptIds = append(r.ConceptIds, id)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, rest), nil
	})
	return r, err
}

// --- Error ---

// ErrorResponse carries one of the engine's seven error kinds back to the
// caller when a request fails, so a remote client can distinguish a
// validation failure from a capacity or fatal I/O error without parsing
// message text.
type ErrorResponse struct {
	Kind    string
	Message string
}

func (r ErrorResponse) Marshal() []byte {
	var e encoder
	e.stringField(1, r.Kind)
	e.stringField(2, r.Message)
	return e.bytes()
}

func UnmarshalErrorResponse(data []byte) (ErrorResponse, error) {
	var r ErrorResponse
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, rest)
			r.Kind = string(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, rest)
			r.Message = string(v)
			return n, err
		default:
			return protowire.ConsumeFieldValue(num, typ, rest), nil
		}
	})
	return r, err
}

