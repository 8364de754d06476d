package vocab

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers and enum values of sentencepiece_model.proto. Only the
// fields a model needs to load in sentencepiece are written; unknown
// fields are skipped on read.
const (
	fieldPieces     protowire.Number = 1 // ModelProto.pieces
	fieldTrainer    protowire.Number = 2 // ModelProto.trainer_spec
	fieldNormalizer protowire.Number = 3 // ModelProto.normalizer_spec

	fieldPieceText  protowire.Number = 1 // SentencePiece.piece
	fieldPieceScore protowire.Number = 2 // SentencePiece.score
	fieldPieceType  protowire.Number = 3 // SentencePiece.type

	fieldModelType protowire.Number = 3  // TrainerSpec.model_type
	fieldVocabSize protowire.Number = 4  // TrainerSpec.vocab_size
	fieldCoverage  protowire.Number = 10 // TrainerSpec.character_coverage
	fieldUnkID     protowire.Number = 40
	fieldBosID     protowire.Number = 41
	fieldEosID     protowire.Number = 42
	fieldPadID     protowire.Number = 43
	fieldUnkPiece  protowire.Number = 45
	fieldBosPiece  protowire.Number = 46
	fieldEosPiece  protowire.Number = 47
	fieldPadPiece  protowire.Number = 48

	fieldNormName       protowire.Number = 1 // NormalizerSpec.name
	fieldNormDummy      protowire.Number = 3 // add_dummy_prefix
	fieldNormWhitespace protowire.Number = 4 // remove_extra_whitespaces
	fieldNormEscape     protowire.Number = 5 // escape_whitespaces
)

// SentencePiece.Type
const (
	pieceNormal  = 1
	pieceUnknown = 2
	pieceControl = 3
)

// TrainerSpec.ModelType
var modelTypes = map[Type]uint64{
	Unigram: 1,
	BPE:     2,
	Char:    4,
}

var errMalformed = errors.New("vocab: malformed sentencepiece model")

// marshalModel encodes m as a sentencepiece ModelProto.
func marshalModel(m *Model) []byte {
	var b []byte
	for _, p := range m.Pieces {
		var pb []byte
		pb = protowire.AppendTag(pb, fieldPieceText, protowire.BytesType)
		pb = protowire.AppendString(pb, p.Text)
		pb = protowire.AppendTag(pb, fieldPieceScore, protowire.Fixed32Type)
		pb = protowire.AppendFixed32(pb, math.Float32bits(p.Score))
		pb = protowire.AppendTag(pb, fieldPieceType, protowire.VarintType)
		pb = protowire.AppendVarint(pb, pieceType(p.Text))

		b = protowire.AppendTag(b, fieldPieces, protowire.BytesType)
		b = protowire.AppendBytes(b, pb)
	}

	var ts []byte
	ts = appendVarintField(ts, fieldModelType, modelTypes[m.Type])
	ts = appendVarintField(ts, fieldVocabSize, uint64(len(m.Pieces)))
	ts = protowire.AppendTag(ts, fieldCoverage, protowire.Fixed32Type)
	ts = protowire.AppendFixed32(ts, math.Float32bits(1))
	ts = appendVarintField(ts, fieldUnkID, UNKID)
	ts = appendVarintField(ts, fieldBosID, BOSID)
	ts = appendVarintField(ts, fieldEosID, EOSID)
	ts = appendVarintField(ts, fieldPadID, PADID)
	ts = appendStringField(ts, fieldUnkPiece, UNK)
	ts = appendStringField(ts, fieldBosPiece, BOS)
	ts = appendStringField(ts, fieldEosPiece, EOS)
	ts = appendStringField(ts, fieldPadPiece, PAD)
	b = protowire.AppendTag(b, fieldTrainer, protowire.BytesType)
	b = protowire.AppendBytes(b, ts)

	// Text is NFKC-normalized before training, so the model itself uses
	// the identity rule.
	var ns []byte
	ns = appendStringField(ns, fieldNormName, "identity")
	ns = appendVarintField(ns, fieldNormDummy, 1)
	ns = appendVarintField(ns, fieldNormWhitespace, 1)
	ns = appendVarintField(ns, fieldNormEscape, 1)
	b = protowire.AppendTag(b, fieldNormalizer, protowire.BytesType)
	b = protowire.AppendBytes(b, ns)
	return b
}

func pieceType(text string) uint64 {
	switch {
	case text == UNK:
		return pieceUnknown
	case isSpecial(text):
		return pieceControl
	}
	return pieceNormal
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// unmarshalModel decodes a ModelProto, whether written by marshalModel or
// by spm_train.
func unmarshalModel(b []byte) (*Model, error) {
	m := &Model{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		switch {
		case num == fieldPieces && typ == protowire.BytesType:
			p, err := unmarshalPiece(v)
			if err != nil {
				return err
			}
			m.Pieces = append(m.Pieces, p)
		case num == fieldTrainer && typ == protowire.BytesType:
			return walkFields(v, func(num protowire.Number, typ protowire.Type, _ []byte, x uint64) error {
				if num != fieldModelType || typ != protowire.VarintType {
					return nil
				}
				for t, code := range modelTypes {
					if code == x {
						m.Type = t
						return nil
					}
				}
				return fmt.Errorf("%w: unsupported model type %d", errMalformed, x)
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(m.Pieces) == 0 {
		return nil, fmt.Errorf("%w: no pieces", errMalformed)
	}
	if m.Type == "" {
		m.Type = Unigram
	}
	return m, nil
}

func unmarshalPiece(b []byte) (Piece, error) {
	var p Piece
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == fieldPieceText && typ == protowire.BytesType:
			p.Text = string(v)
		case num == fieldPieceScore && typ == protowire.Fixed32Type:
			p.Score = math.Float32frombits(uint32(x))
		}
		return nil
	})
	return p, err
}

// walkFields calls fn for each top-level field of a message. Length-
// delimited values are passed as v; varint and fixed values as x.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		var (
			v []byte
			x uint64
		)
		switch typ {
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
		case protowire.VarintType:
			x, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var u uint32
			u, n = protowire.ConsumeFixed32(b)
			x = uint64(u)
		case protowire.Fixed64Type:
			x, n = protowire.ConsumeFixed64(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(num, typ, v, x); err != nil {
			return err
		}
	}
	return nil
}
