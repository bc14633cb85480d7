package wire

import (
	"fmt"
	"net"

	"github.com/synapsedb/engine/pkg/types"
)

// Client is a minimal synchronous client for the wire protocol, mainly
// useful for tests and simple tools; it opens one connection and sends
// requests sequentially.
type Client struct {
	conn net.Conn
}

func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) roundTrip(tag Tag, payload []byte) (Frame, error) {
	if err := WriteFrame(c.conn, Frame{Tag: tag, Payload: payload}); err != nil {
		return Frame{}, err
	}
	resp, err := ReadFrame(c.conn)
	if err != nil {
		return Frame{}, err
	}
	if resp.Tag == TagError {
		e, err := UnmarshalErrorResponse(resp.Payload)
		if err != nil {
			return Frame{}, fmt.Errorf("wire: malformed error response: %w", err)
		}
		return Frame{}, fmt.Errorf("wire: %s: %s", e.Kind, e.Message)
	}
	return resp, nil
}

func (c *Client) LearnConcept(req LearnConceptRequest) (types.ConceptId, error) {
	resp, err := c.roundTrip(TagLearnConcept, req.Marshal())
	if err != nil {
		return types.ConceptId{}, err
	}
	r, err := UnmarshalLearnConceptResponse(resp.Payload)
	return r.ConceptId, err
}

func (c *Client) GetConcept(id types.ConceptId) (GetConceptResponse, error) {
	resp, err := c.roundTrip(TagGetConcept, GetConceptRequest{ConceptId: id}.Marshal())
	if err != nil {
		return GetConceptResponse{}, err
	}
	return UnmarshalGetConceptResponse(resp.Payload)
}

func (c *Client) AddAssociation(req AddAssociationRequest) (types.AssociationId, error) {
	resp, err := c.roundTrip(TagAddAssociation, req.Marshal())
	if err != nil {
		return 0, err
	}
	r, err := UnmarshalAddAssociationResponse(resp.Payload)
	return r.AssociationId, err
}

func (c *Client) VectorSearch(req VectorSearchRequest) (VectorSearchResponse, error) {
	resp, err := c.roundTrip(TagVectorSearch, req.Marshal())
	if err != nil {
		return VectorSearchResponse{}, err
	}
	return UnmarshalVectorSearchResponse(resp.Payload)
}

func (c *Client) Stats() (StatsResponse, error) {
	resp, err := c.roundTrip(TagStats, nil)
	if err != nil {
		return StatsResponse{}, err
	}
	return UnmarshalStatsResponse(resp.Payload)
}

func (c *Client) Checkpoint() error {
	_, err := c.roundTrip(TagCheckpoint, nil)
	return err
}

func (c *Client) FindContradictions(id types.ConceptId) (FindContradictionsResponse, error) {
	resp, err := c.roundTrip(TagFindContradictions, FindContradictionsRequest{ConceptId: id}.Marshal())
	if err != nil {
		return FindContradictionsResponse{}, err
	}
	return UnmarshalFindContradictionsResponse(resp.Payload)
}
