package bolt

import (
	"encoding/binary"
	"io"
)

// MagicPreamble is the 4-byte sequence that opens every Bolt handshake.
var MagicPreamble = [4]byte{0x60, 0x60, 0xB0, 0x17}

const handshakeOfferSlots = 4

// offerRange is one 4-byte handshake slot: major.minor down to
// major.(minor-rangeLen), inclusive. A server may pick any minor in that
// span.
type offerRange struct {
	major, minor, rangeLen byte
}

// encodeOffer packs one offer range as the 4-byte tuple
// [0x00, minor_range_len, minor, major] (§4.5).
func encodeOffer(r offerRange) [4]byte {
	return [4]byte{0x00, r.rangeLen, r.minor, r.major}
}

// collapseOffers groups a highest-preference-first version list into offer
// ranges, folding any run of consecutive minors on the same major (5.4, 5.3,
// 5.2, ... ) into a single range-encoded slot. This is what lets
// SupportedVersions' 10 versions fit in the handshake's 4 slots: without it,
// only the 4 highest-preference discrete versions could ever be offered and
// the rest of SupportedVersions would be dead code. offered must already be
// sorted highest-to-lowest, as SupportedVersions is.
func collapseOffers(offered []Version) []offerRange {
	var ranges []offerRange
	i := 0
	for i < len(offered) {
		major, top := offered[i].Major, offered[i].Minor
		j := i
		for j+1 < len(offered) && offered[j+1].Major == major && offered[j+1].Minor == offered[j].Minor-1 && top-offered[j+1].Minor < 255 {
			j++
		}
		ranges = append(ranges, offerRange{major: major, minor: top, rangeLen: byte(int(top) - int(offered[j].Minor))})
		i = j + 1
	}
	return ranges
}

func decodeChosen(b [4]byte) Version {
	return Version{Major: b[3], Minor: b[2]}
}

// Handshake writes the magic preamble and up to 4 offered versions (highest
// preference first), then reads the server's 4-byte reply. A reply of
// 00 00 00 00 means no agreement, surfaced as a BoltHandshakeError.
//
// The caller is responsible for applying a deadline to rw (e.g. via
// net.Conn.SetDeadline) before calling Handshake; the handshake itself does
// not time out on its own (§4.5, §5 "every network-facing operation accepts
// a deadline").
func Handshake(rw io.ReadWriter, offered []Version) (Version, error) {
	ranges := collapseOffers(offered)
	if len(ranges) > handshakeOfferSlots {
		ranges = ranges[:handshakeOfferSlots]
	}

	buf := make([]byte, 0, 4+handshakeOfferSlots*4)
	buf = append(buf, MagicPreamble[:]...)
	for _, r := range ranges {
		o := encodeOffer(r)
		buf = append(buf, o[:]...)
	}
	for i := len(ranges); i < handshakeOfferSlots; i++ {
		buf = append(buf, 0, 0, 0, 0)
	}

	if _, err := rw.Write(buf); err != nil {
		return Version{}, NewServiceUnavailable("handshake write failed: %v", err)
	}

	var reply [4]byte
	if _, err := io.ReadFull(rw, reply[:]); err != nil {
		return Version{}, NewServiceUnavailable("handshake read failed: %v", err)
	}

	if binary.BigEndian.Uint32(reply[:]) == 0 {
		return Version{}, &BoltHandshakeError{Offered: offered, Supported: "none (00 00 00 00)"}
	}

	chosen := decodeChosen(reply)
	if !IsSupported(chosen) {
		return Version{}, &BoltHandshakeError{Offered: offered, Supported: chosen.String()}
	}
	return chosen, nil
}
