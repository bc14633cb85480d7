package wire

import (
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/synapsedb/engine/pkg/types"
)

func unixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

// Submessage field numbers for types.SemanticMetadata.
const (
	fieldMetaTag                 = 1
	fieldMetaDomain              = 2
	fieldMetaTemporalKind        = 3
	fieldMetaTemporalStart       = 4
	fieldMetaTemporalEnd         = 5
	fieldMetaCausalRelation      = 6 // repeated submessage, one per types.CausalRelation
	fieldMetaNegationKind        = 7
	fieldMetaNegationContradicts = 8
	fieldMetaConfidence          = 9
	fieldMetaTemporalConfidence  = 10
	fieldMetaNegationConfidence  = 11
)

// Field numbers within one encoded CausalRelation submessage.
const (
	fieldCausalCause      = 1
	fieldCausalEffect     = 2
	fieldCausalKind       = 3
	fieldCausalConfidence = 4
)

func encodeCausalRelation(r types.CausalRelation) []byte {
	var e encoder
	e.stringField(fieldCausalCause, r.Cause)
	e.stringField(fieldCausalEffect, r.Effect)
	e.stringField(fieldCausalKind, string(r.Kind))
	e.float32Field(fieldCausalConfidence, r.Confidence)
	return e.bytes()
}

func decodeCausalRelation(data []byte) (types.CausalRelation, error) {
	var r types.CausalRelation
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case fieldCausalCause:
			v, n, err := consumeBytes(typ, rest)
			r.Cause = string(v)
			return n, err
		case fieldCausalEffect:
			v, n, err := consumeBytes(typ, rest)
			r.Effect = string(v)
			return n, err
		case fieldCausalKind:
			v, n, err := consumeBytes(typ, rest)
			r.Kind = types.CausalRelationKind(v)
			return n, err
		case fieldCausalConfidence:
			v, n, err := consumeFixed32(typ, rest)
			r.Confidence = float32FromBits(v)
			return n, err
		default:
			return protowire.ConsumeFieldValue(num, typ, rest), nil
		}
	})
	return r, err
}

func encodeMetadata(m types.SemanticMetadata) []byte {
	var e encoder
	e.stringField(fieldMetaTag, string(m.Tag))
	e.stringField(fieldMetaDomain, string(m.Domain))
	e.stringField(fieldMetaTemporalKind, string(m.Temporal.Kind))
	e.varintField(fieldMetaTemporalStart, uint64(m.Temporal.Start.UnixNano()))
	e.varintField(fieldMetaTemporalEnd, uint64(m.Temporal.End.UnixNano()))
	for _, r := range m.Causal {
		e.submessageField(fieldMetaCausalRelation, encodeCausalRelation(r))
	}
	e.stringField(fieldMetaNegationKind, string(m.Negation.Kind))
	e.varintField(fieldMetaNegationContradicts, uint64(m.Negation.Contradicts))
	e.float32Field(fieldMetaConfidence, m.Confidence)
	e.float32Field(fieldMetaTemporalConfidence, m.Temporal.Confidence)
	e.float32Field(fieldMetaNegationConfidence, m.Negation.Confidence)
	return e.bytes()
}

func decodeMetadata(data []byte) (types.SemanticMetadata, error) {
	var m types.SemanticMetadata
	var tStart, tEnd int64
	err := decodeMessage(data, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case fieldMetaTag:
			v, n, err := consumeBytes(typ, rest)
			m.Tag = types.SemanticTag(v)
			return n, err
		case fieldMetaDomain:
			v, n, err := consumeBytes(typ, rest)
			m.Domain = types.DomainContext(v)
			return n, err
		case fieldMetaTemporalKind:
			v, n, err := consumeBytes(typ, rest)
			m.Temporal.Kind = types.TemporalKind(v)
			return n, err
		case fieldMetaTemporalStart:
			v, n, err := consumeVarint(typ, rest)
			tStart = int64(v)
			return n, err
		case fieldMetaTemporalEnd:
			v, n, err := consumeVarint(typ, rest)
			tEnd = int64(v)
			return n, err
		case fieldMetaCausalRelation:
			v, n, err := consumeBytes(typ, rest)
			if err != nil {
				return n, err
			}
			r, err := decodeCausalRelation(v)
			if err != nil {
				return n, err
			}
			m.Causal = append(m.Causal, r)
			return n, nil
		case fieldMetaNegationKind:
			v, n, err := consumeBytes(typ, rest)
			m.Negation.Kind = types.NegationKind(v)
			return n, err
		case fieldMetaNegationContradicts:
			v, n, err := consumeVarint(typ, rest)
			m.Negation.Contradicts = types.AssociationId(v)
			return n, err
		case fieldMetaConfidence:
			v, n, err := consumeFixed32(typ, rest)
			m.Confidence = float32FromBits(v)
			return n, err
		case fieldMetaTemporalConfidence:
			v, n, err := consumeFixed32(typ, rest)
			m.Temporal.Confidence = float32FromBits(v)
			return n, err
		case fieldMetaNegationConfidence:
			v, n, err := consumeFixed32(typ, rest)
			m.Negation.Confidence = float32FromBits(v)
			return n, err
		default:
			return protowire.ConsumeFieldValue(num, typ, rest), nil
		}
	})
	if tStart != 0 {
		m.Temporal.Start = unixNano(tStart)
	}
	if tEnd != 0 {
		m.Temporal.End = unixNano(tEnd)
	}
	return m, err
}
