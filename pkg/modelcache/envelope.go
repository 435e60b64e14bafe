package modelcache

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// FormatVersion is bumped whenever the envelope layout changes.
const FormatVersion = 1

const (
	envelopeVersion     protowire.Number = 1
	envelopeModel       protowire.Number = 2
	envelopeColumn      protowire.Number = 3
	envelopeFingerprint protowire.Number = 4
	envelopeTrainedAt   protowire.Number = 5
	envelopePayload     protowire.Number = 6
)

// Envelope wraps a serialized model with the metadata needed to decide
// whether it may serve the current feature schema.
type Envelope struct {
	Version     int
	Model       string
	Columns     []string
	Fingerprint string
	TrainedAt   time.Time
	Payload     []byte
}

// Marshal encodes the envelope in protobuf wire format.
func (e Envelope) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, envelopeVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Version))
	b = protowire.AppendTag(b, envelopeModel, protowire.BytesType)
	b = protowire.AppendString(b, e.Model)
	for _, c := range e.Columns {
		b = protowire.AppendTag(b, envelopeColumn, protowire.BytesType)
		b = protowire.AppendString(b, c)
	}
	b = protowire.AppendTag(b, envelopeFingerprint, protowire.BytesType)
	b = protowire.AppendString(b, e.Fingerprint)
	b = protowire.AppendTag(b, envelopeTrainedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(e.TrainedAt.UnixNano()))
	b = protowire.AppendTag(b, envelopePayload, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Payload)
	return b
}

// UnmarshalEnvelope decodes an envelope written by Marshal.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	var sawVersion bool

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Envelope{}, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == envelopeVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Envelope{}, protowire.ParseError(n)
			}
			e.Version = int(v)
			sawVersion = true
			b = b[n:]
		case num == envelopeTrainedAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Envelope{}, protowire.ParseError(n)
			}
			e.TrainedAt = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
			b = b[n:]
		case typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Envelope{}, protowire.ParseError(n)
			}
			switch num {
			case envelopeModel:
				e.Model = string(v)
			case envelopeColumn:
				e.Columns = append(e.Columns, string(v))
			case envelopeFingerprint:
				e.Fingerprint = string(v)
			case envelopePayload:
				e.Payload = append([]byte(nil), v...)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Envelope{}, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}

	if !sawVersion {
		return Envelope{}, errors.New("envelope has no format version")
	}
	if e.Model == "" {
		return Envelope{}, fmt.Errorf("envelope has no model name")
	}
	return e, nil
}
