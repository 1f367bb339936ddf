package speedwire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestOfferEncodeDecode(t *testing.T) {
	original := Offer{UDPPort: 6000, TCPPort: 6001}

	buf := make([]byte, OfferLen)
	n, err := original.Encode(buf)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if n != 9 {
		t.Fatalf("offer length: got %d want 9", n)
	}
	want := []byte{0xAB, 0xCD, 0xDC, 0xBA, 0x02, 0x17, 0x70, 0x17, 0x71}
	if !bytes.Equal(buf, want) {
		t.Fatalf("offer bytes: got % x want % x", buf, want)
	}

	var decoded Offer
	read, err := decoded.Decode(buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if read != n {
		t.Fatalf("expected decode to consume %d bytes, got %d", n, read)
	}
	if decoded != original {
		t.Fatalf("offer mismatch: got %+v want %+v", decoded, original)
	}
}

func TestRequestEncodeDecode(t *testing.T) {
	for _, size := range []uint64{0, 1, 2048, 1 << 40, ^uint64(0)} {
		buf := AppendRequest(nil, Request{Size: size})
		if len(buf) != RequestLen {
			t.Fatalf("request length: got %d want %d", len(buf), RequestLen)
		}
		if Kind(buf[4]) != KindRequest {
			t.Fatalf("request kind byte: got 0x%x", buf[4])
		}
		var decoded Request
		if _, err := decoded.Decode(buf); err != nil {
			t.Fatalf("decode size %d: %v", size, err)
		}
		if decoded.Size != size {
			t.Fatalf("size mismatch: got %d want %d", decoded.Size, size)
		}
	}
}

func TestSegmentEncodeDecode(t *testing.T) {
	original := Segment{Total: 3, Index: 2, Payload: bytes.Repeat([]byte{0xff}, 48)}
	buf := AppendSegment([]byte("prefix"), original)
	buf = buf[len("prefix"):]

	if len(buf) != SegmentHeaderLen+48 {
		t.Fatalf("segment length: got %d want %d", len(buf), SegmentHeaderLen+48)
	}
	var decoded Segment
	n, err := decoded.Decode(buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("decode consumed %d of %d bytes", n, len(buf))
	}
	if decoded.Total != original.Total || decoded.Index != original.Index {
		t.Fatalf("header mismatch: got (%d,%d) want (%d,%d)", decoded.Total, decoded.Index, original.Total, original.Index)
	}
	if !bytes.Equal(decoded.Payload, original.Payload) {
		t.Fatalf("payload mismatch: got %d bytes want %d", len(decoded.Payload), len(original.Payload))
	}
}

func TestSegmentEmptyPayload(t *testing.T) {
	buf := AppendSegment(nil, Segment{Total: 1, Index: 0})
	var decoded Segment
	if _, err := decoded.Decode(buf); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded.Payload) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(decoded.Payload))
	}
}

func TestEncodeBufferTooSmall(t *testing.T) {
	o := Offer{UDPPort: 1, TCPPort: 2}
	if _, err := o.Encode(make([]byte, OfferLen-1)); err == nil {
		t.Fatal("expected encode error for short offer buffer")
	}
	s := Segment{Payload: make([]byte, 10)}
	if _, err := s.Encode(make([]byte, SegmentHeaderLen+9)); err == nil {
		t.Fatal("expected encode error for short segment buffer")
	}
}

func TestDecodeShortBufferIsMalformed(t *testing.T) {
	full := map[Kind][]byte{
		KindOffer:   AppendOffer(nil, Offer{UDPPort: 1, TCPPort: 2}),
		KindRequest: AppendRequest(nil, Request{Size: 99}),
		KindPayload: AppendSegment(nil, Segment{Total: 1, Index: 0}),
	}
	decoders := map[Kind]func([]byte) error{
		KindOffer:   func(b []byte) error { var m Offer; _, err := m.Decode(b); return err },
		KindRequest: func(b []byte) error { var m Request; _, err := m.Decode(b); return err },
		KindPayload: func(b []byte) error { var m Segment; _, err := m.Decode(b); return err },
	}
	for kind, buf := range full {
		for cut := 0; cut < len(buf); cut++ {
			if kind == KindPayload && cut >= SegmentHeaderLen {
				break
			}
			err := decoders[kind](buf[:cut])
			if !errors.Is(err, ErrMalformedMessage) {
				t.Fatalf("%s truncated to %d bytes: got %v want ErrMalformedMessage", kind, cut, err)
			}
		}
	}

	for cut := 0; cut < OfferLen; cut++ {
		if _, err := Decode(full[KindOffer][:cut]); !errors.Is(err, ErrMalformedMessage) {
			t.Fatalf("Decode of %d bytes: got %v want ErrMalformedMessage", cut, err)
		}
	}
	if _, err := Decode(full[KindRequest][:RequestLen-1]); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("truncated request through Decode: got %v want ErrMalformedMessage", err)
	}
}

func TestDecodeWrongCookieIsMagicMismatch(t *testing.T) {
	bufs := [][]byte{
		AppendOffer(nil, Offer{UDPPort: 1, TCPPort: 2}),
		AppendRequest(nil, Request{Size: 1024}),
		AppendSegment(nil, Segment{Total: 4, Index: 1, Payload: []byte("data")}),
	}
	for _, buf := range bufs {
		binary.BigEndian.PutUint32(buf[0:4], 0xDEADBEEF)
		if _, err := Decode(buf); !errors.Is(err, ErrMagicMismatch) {
			t.Fatalf("Decode with bad cookie: got %v want ErrMagicMismatch", err)
		}
	}

	var o Offer
	if _, err := o.Decode(bufs[0]); !errors.Is(err, ErrMagicMismatch) {
		t.Fatalf("Offer.Decode with bad cookie: got %v want ErrMagicMismatch", err)
	}
	var r Request
	if _, err := r.Decode(bufs[1]); !errors.Is(err, ErrMagicMismatch) {
		t.Fatalf("Request.Decode with bad cookie: got %v want ErrMagicMismatch", err)
	}
	var s Segment
	if _, err := s.Decode(bufs[2]); !errors.Is(err, ErrMagicMismatch) {
		t.Fatalf("Segment.Decode with bad cookie: got %v want ErrMagicMismatch", err)
	}
}

func TestDecodeReturnsConcreteVariant(t *testing.T) {
	msg, err := Decode(AppendOffer(nil, Offer{UDPPort: 6000, TCPPort: 6001}))
	if err != nil {
		t.Fatalf("decode offer: %v", err)
	}
	offer, ok := msg.(*Offer)
	if !ok || offer.UDPPort != 6000 || offer.TCPPort != 6001 {
		t.Fatalf("unexpected offer variant %#v", msg)
	}

	msg, err = Decode(AppendRequest(nil, Request{Size: 2048}))
	if err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req, ok := msg.(*Request); !ok || req.Size != 2048 {
		t.Fatalf("unexpected request variant %#v", msg)
	}

	msg, err = Decode(AppendSegment(nil, Segment{Total: 3, Index: 1, Payload: []byte{1, 2}}))
	if err != nil {
		t.Fatalf("decode segment: %v", err)
	}
	if seg, ok := msg.(*Segment); !ok || seg.Kind() != KindPayload || len(seg.Payload) != 2 {
		t.Fatalf("unexpected segment variant %#v", msg)
	}
}

func TestDecodeRejectsWrongKind(t *testing.T) {
	buf := AppendOffer(nil, Offer{UDPPort: 1, TCPPort: 2})
	buf = append(buf, make([]byte, 8)...) // long enough for a request
	var r Request
	if _, err := r.Decode(buf); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("offer decoded as request: got %v want ErrMalformedMessage", err)
	}

	buf[4] = 0x7
	if _, err := Decode(buf); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("unknown kind: got %v want ErrMalformedMessage", err)
	}
}
