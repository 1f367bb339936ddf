package speedwire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	MagicCookie uint32 = 0xABCDDCBA

	// Fixed prefix shared by every message: cookie(4) + kind(1).
	prefixLen = 5

	OfferLen         = prefixLen + 2 + 2 // 9
	RequestLen       = prefixLen + 8     // 13
	SegmentHeaderLen = prefixLen + 8 + 8 // 21

	// MaxSegmentPayload keeps a segment inside a single IPv4 UDP datagram.
	MaxSegmentPayload = 65507 - SegmentHeaderLen
)

type Kind uint8

const (
	KindOffer   Kind = 0x2
	KindRequest Kind = 0x3
	KindPayload Kind = 0x4
)

func (k Kind) String() string {
	switch k {
	case KindOffer:
		return "offer"
	case KindRequest:
		return "request"
	case KindPayload:
		return "payload"
	default:
		return fmt.Sprintf("kind(0x%x)", uint8(k))
	}
}

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrMagicMismatch    = errors.New("magic cookie mismatch")
	errBufferTooSmall   = errors.New("buffer too small")
)

// Message is one of *Offer, *Request or *Segment.
type Message interface {
	Kind() Kind
	Encode(dst []byte) (int, error)
	Decode(src []byte) (int, error)
	sealed()
}

type Offer struct {
	UDPPort uint16
	TCPPort uint16
}

type Request struct {
	Size uint64
}

// Segment is one UDP datagram of a larger transfer. Decode aliases Payload to
// the source buffer.
type Segment struct {
	Total   uint64
	Index   uint64
	Payload []byte
}

func (*Offer) Kind() Kind   { return KindOffer }
func (*Request) Kind() Kind { return KindRequest }
func (*Segment) Kind() Kind { return KindPayload }

func (*Offer) sealed()   {}
func (*Request) sealed() {}
func (*Segment) sealed() {}

func putPrefix(dst []byte, kind Kind) {
	binary.BigEndian.PutUint32(dst[0:4], MagicCookie)
	dst[4] = byte(kind)
}

// checkPrefix validates length first, then cookie, then kind.
func checkPrefix(src []byte, need int, kind Kind) error {
	if len(src) < need {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrMalformedMessage, kind, need, len(src))
	}
	if binary.BigEndian.Uint32(src[0:4]) != MagicCookie {
		return ErrMagicMismatch
	}
	if got := Kind(src[4]); got != kind {
		return fmt.Errorf("%w: expected %s, got %s", ErrMalformedMessage, kind, got)
	}
	return nil
}

func (o *Offer) Encode(dst []byte) (int, error) {
	if len(dst) < OfferLen {
		return 0, errBufferTooSmall
	}
	putPrefix(dst, KindOffer)
	binary.BigEndian.PutUint16(dst[5:7], o.UDPPort)
	binary.BigEndian.PutUint16(dst[7:9], o.TCPPort)
	return OfferLen, nil
}

func (o *Offer) Decode(src []byte) (int, error) {
	if err := checkPrefix(src, OfferLen, KindOffer); err != nil {
		return 0, err
	}
	o.UDPPort = binary.BigEndian.Uint16(src[5:7])
	o.TCPPort = binary.BigEndian.Uint16(src[7:9])
	return OfferLen, nil
}

func (r *Request) Encode(dst []byte) (int, error) {
	if len(dst) < RequestLen {
		return 0, errBufferTooSmall
	}
	putPrefix(dst, KindRequest)
	binary.BigEndian.PutUint64(dst[5:13], r.Size)
	return RequestLen, nil
}

func (r *Request) Decode(src []byte) (int, error) {
	if err := checkPrefix(src, RequestLen, KindRequest); err != nil {
		return 0, err
	}
	r.Size = binary.BigEndian.Uint64(src[5:13])
	return RequestLen, nil
}

func (s *Segment) Encode(dst []byte) (int, error) {
	need := SegmentHeaderLen + len(s.Payload)
	if len(dst) < need {
		return 0, errBufferTooSmall
	}
	putPrefix(dst, KindPayload)
	binary.BigEndian.PutUint64(dst[5:13], s.Total)
	binary.BigEndian.PutUint64(dst[13:21], s.Index)
	copy(dst[SegmentHeaderLen:], s.Payload)
	return need, nil
}

// Decode treats everything after the header as payload; the datagram boundary
// is the only length marker.
func (s *Segment) Decode(src []byte) (int, error) {
	if err := checkPrefix(src, SegmentHeaderLen, KindPayload); err != nil {
		return 0, err
	}
	s.Total = binary.BigEndian.Uint64(src[5:13])
	s.Index = binary.BigEndian.Uint64(src[13:21])
	s.Payload = src[SegmentHeaderLen:]
	return len(src), nil
}

// AppendOffer, AppendRequest and AppendSegment grow dst and encode into it.
func AppendOffer(dst []byte, o Offer) []byte {
	return appendMessage(dst, &o, OfferLen)
}

func AppendRequest(dst []byte, r Request) []byte {
	return appendMessage(dst, &r, RequestLen)
}

func AppendSegment(dst []byte, s Segment) []byte {
	return appendMessage(dst, &s, SegmentHeaderLen+len(s.Payload))
}

func appendMessage(dst []byte, m Message, n int) []byte {
	start := len(dst)
	dst = append(dst, make([]byte, n)...)
	// the slice was sized for m, Encode cannot fail here
	_, _ = m.Encode(dst[start:])
	return dst
}

// Decode validates the shared prefix once and returns the concrete message.
// Anything shorter than the smallest message (an Offer) is malformed.
func Decode(src []byte) (Message, error) {
	if len(src) < OfferLen {
		return nil, fmt.Errorf("%w: %d bytes is shorter than any message", ErrMalformedMessage, len(src))
	}
	if binary.BigEndian.Uint32(src[0:4]) != MagicCookie {
		return nil, ErrMagicMismatch
	}
	var msg Message
	switch Kind(src[4]) {
	case KindOffer:
		msg = &Offer{}
	case KindRequest:
		msg = &Request{}
	case KindPayload:
		msg = &Segment{}
	default:
		return nil, fmt.Errorf("%w: unknown %s", ErrMalformedMessage, Kind(src[4]))
	}
	if _, err := msg.Decode(src); err != nil {
		return nil, err
	}
	return msg, nil
}
