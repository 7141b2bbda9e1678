// Package transform implements TransformerPipeline (§4.4): ordered
// encode/decode of records at the remote boundary. Encoding runs in
// registration order before push; decoding runs in reverse order after
// pull, including over tombstones so a transformer can derive a server
// id from a local one and vice versa.
package transform

import (
	"github.com/untoldecay/syncbase/internal/record"
	"github.com/untoldecay/syncbase/internal/syncerr"
)

// Transformer is one encode/decode pair. Either side may fail; a
// failure becomes a TransformError naming which side and record id.
type Transformer struct {
	Encode func(record.Record) (record.Record, error)
	Decode func(record.Record) (record.Record, error)
}

// Pipeline is an ordered list of Transformers.
type Pipeline struct {
	transformers []Transformer
}

// New builds a Pipeline from transformers in registration order.
func New(transformers ...Transformer) *Pipeline {
	return &Pipeline{transformers: transformers}
}

// EncodeOne runs every transformer's Encode in registration order,
// including over tombstones.
func (p *Pipeline) EncodeOne(rec record.Record) (record.Record, error) {
	cur := rec
	for _, t := range p.transformers {
		if t.Encode == nil {
			continue
		}
		next, err := t.Encode(cur)
		if err != nil {
			return nil, &syncerr.TransformError{Side: syncerr.SideOutgoing, ID: rec.ID(), Err: err}
		}
		cur = next
	}
	return cur, nil
}

// DecodeOne runs every transformer's Decode in reverse registration
// order.
func (p *Pipeline) DecodeOne(rec record.Record) (record.Record, error) {
	cur := rec
	for i := len(p.transformers) - 1; i >= 0; i-- {
		t := p.transformers[i]
		if t.Decode == nil {
			continue
		}
		next, err := t.Decode(cur)
		if err != nil {
			return nil, &syncerr.TransformError{Side: syncerr.SideIncoming, ID: rec.ID(), Err: err}
		}
		cur = next
	}
	return cur, nil
}

// Encode runs EncodeOne over every record, stopping at the first error.
func (p *Pipeline) Encode(records []record.Record) ([]record.Record, error) {
	out := make([]record.Record, 0, len(records))
	for _, rec := range records {
		next, err := p.EncodeOne(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, next)
	}
	return out, nil
}

// Decode runs DecodeOne over every record, stopping at the first error.
func (p *Pipeline) Decode(records []record.Record) ([]record.Record, error) {
	out := make([]record.Record, 0, len(records))
	for _, rec := range records {
		next, err := p.DecodeOne(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, next)
	}
	return out, nil
}
