package bolt

import (
	"bytes"
	"testing"
)

func TestCollapseOffersFoldsConsecutiveMinorsIntoOneRange(t *testing.T) {
	ranges := collapseOffers([]Version{{5, 4}, {5, 3}, {5, 2}, {5, 1}, {5, 0}})
	if len(ranges) != 1 {
		t.Fatalf("expected one range, got %d: %+v", len(ranges), ranges)
	}
	r := ranges[0]
	if r.major != 5 || r.minor != 4 || r.rangeLen != 4 {
		t.Errorf("expected {major:5 minor:4 rangeLen:4}, got %+v", r)
	}
}

// TestCollapseOffersFitsAllSupportedVersionsInFourSlots is the central
// property this fixes: every version this driver implements a codec for
// must be reachable within the handshake's 4 offer slots, not just the 4
// highest-preference discrete versions.
func TestCollapseOffersFitsAllSupportedVersionsInFourSlots(t *testing.T) {
	ranges := collapseOffers(SupportedVersions)
	if len(ranges) > handshakeOfferSlots {
		t.Fatalf("SupportedVersions collapses to %d slots, want <= %d: %+v",
			len(ranges), handshakeOfferSlots, ranges)
	}

	covered := map[Version]bool{}
	for _, r := range ranges {
		for m := int(r.minor) - int(r.rangeLen); m <= int(r.minor); m++ {
			covered[Version{Major: r.major, Minor: byte(m)}] = true
		}
	}
	for _, v := range SupportedVersions {
		if !covered[v] {
			t.Errorf("version %s is not reachable in any offered range", v)
		}
	}
}

func TestCollapseOffersKeepsNonConsecutiveMajorsSeparate(t *testing.T) {
	ranges := collapseOffers([]Version{{5, 4}, {4, 4}, {3, 0}})
	if len(ranges) != 3 {
		t.Fatalf("expected 3 discrete ranges, got %d: %+v", len(ranges), ranges)
	}
	for i, want := range []offerRange{{5, 4, 0}, {4, 4, 0}, {3, 0, 0}} {
		if ranges[i] != want {
			t.Errorf("range %d = %+v, want %+v", i, ranges[i], want)
		}
	}
}

func TestHandshakeOffersSupportedVersionsWithinFourSlots(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x04, 0x05}) // server picks 5.4

	rw := &loopback{reply: buf.Bytes()}
	chosen, err := Handshake(rw, SupportedVersions)
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if chosen != (Version{5, 4}) {
		t.Errorf("chosen = %s, want 5.4", chosen)
	}

	sent := rw.written
	if len(sent) != 4+4*4 {
		t.Fatalf("expected a 20-byte handshake message, got %d bytes", len(sent))
	}
	if !bytes.Equal(sent[:4], MagicPreamble[:]) {
		t.Error("missing magic preamble")
	}
	// First slot: major=5, minor=4, range_len=4 (covers 5.0..5.4).
	if got := sent[4:8]; !bytes.Equal(got, []byte{0x00, 0x04, 0x04, 0x05}) {
		t.Errorf("first offer slot = % X, want 00 04 04 05", got)
	}
	// Second slot: major=4, minor=4, range_len=3 (covers 4.1..4.4).
	if got := sent[8:12]; !bytes.Equal(got, []byte{0x00, 0x03, 0x04, 0x04}) {
		t.Errorf("second offer slot = % X, want 00 03 04 04", got)
	}
	// Third slot: major=3, minor=0, range_len=0.
	if got := sent[12:16]; !bytes.Equal(got, []byte{0x00, 0x00, 0x00, 0x03}) {
		t.Errorf("third offer slot = % X, want 00 00 00 03", got)
	}
	// Fourth slot unused: all zero.
	if got := sent[16:20]; !bytes.Equal(got, []byte{0, 0, 0, 0}) {
		t.Errorf("fourth offer slot = % X, want all zero", got)
	}
}

func TestHandshakeNoAgreementIsBoltHandshakeError(t *testing.T) {
	rw := &loopback{reply: []byte{0, 0, 0, 0}}
	_, err := Handshake(rw, SupportedVersions)
	if _, ok := err.(*BoltHandshakeError); !ok {
		t.Fatalf("expected *BoltHandshakeError, got %T (%v)", err, err)
	}
}

// loopback is a minimal io.ReadWriter test double: Write captures what was
// sent, Read serves back a canned reply.
type loopback struct {
	written []byte
	reply   []byte
}

func (l *loopback) Write(p []byte) (int, error) {
	l.written = append(l.written, p...)
	return len(p), nil
}

func (l *loopback) Read(p []byte) (int, error) {
	n := copy(p, l.reply)
	l.reply = l.reply[n:]
	return n, nil
}
