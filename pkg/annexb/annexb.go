// Package annexb provides minimal parsing of Annex-B byte-stream H.264:
// splitting a stream of NAL units delimited by start codes into access
// units (frames), and classifying whether a frame contains an IDR slice.
// This is host-adapter plumbing for the reference CLI binaries, not part
// of the wire protocol itself.
package annexb

import "bytes"

// NAL unit type values relevant to classifying a frame as a key frame or
// locating parameter sets, per the H.264 spec.
const (
	NALTypeSlice    = 1
	NALTypeIDRSlice = 5
	NALTypeSPS      = 7
	NALTypePPS      = 8
)

var startCode3 = []byte{0x00, 0x00, 0x01}
var startCode4 = []byte{0x00, 0x00, 0x00, 0x01}

// Unit is one NAL unit, including its start code prefix, as it appeared in
// the source stream.
type Unit struct {
	Type  byte
	Bytes []byte // start code + header byte + payload
}

// Split walks an Annex-B byte stream and returns its NAL units in order.
func Split(stream []byte) []Unit {
	offsets := startCodeOffsets(stream)
	if len(offsets) == 0 {
		return nil
	}

	units := make([]Unit, 0, len(offsets))
	for i, start := range offsets {
		end := len(stream)
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		unit := stream[start:end]
		headerOffset := startCodeLen(stream[start:])
		if headerOffset >= len(unit) {
			continue
		}
		nalType := unit[headerOffset] & 0x1F
		units = append(units, Unit{Type: nalType, Bytes: unit})
	}
	return units
}

// GroupAccessUnits groups NAL units into access units (frames), starting a
// new access unit at each VCL NAL (slice or IDR slice). Non-VCL units
// (SPS, PPS, SEI, ...) that precede a VCL NAL are attached to the access
// unit that follows them, matching how an encoder typically interleaves
// parameter sets immediately before the slice they describe.
func GroupAccessUnits(units []Unit) [][]Unit {
	var groups [][]Unit
	var current []Unit

	for _, u := range units {
		if len(current) > 0 && hasVCL(current) {
			groups = append(groups, current)
			current = nil
		}
		current = append(current, u)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// IsKeyFrame reports whether an access unit contains an IDR slice.
func IsKeyFrame(units []Unit) bool {
	for _, u := range units {
		if u.Type == NALTypeIDRSlice {
			return true
		}
	}
	return false
}

// Flatten concatenates an access unit's NAL units back into one Annex-B
// byte sequence.
func Flatten(units []Unit) []byte {
	var buf bytes.Buffer
	for _, u := range units {
		buf.Write(u.Bytes)
	}
	return buf.Bytes()
}

// ExtractParameterSets pulls SPS/PPS NAL units out of an access unit,
// returning them flattened as a single blob suitable for
// wire.BuildParameterSetDatagram, plus the remaining units with those
// NALs removed.
func ExtractParameterSets(units []Unit) (blob []byte, rest []Unit) {
	var psUnits []Unit
	for _, u := range units {
		if u.Type == NALTypeSPS || u.Type == NALTypePPS {
			psUnits = append(psUnits, u)
		} else {
			rest = append(rest, u)
		}
	}
	if len(psUnits) == 0 {
		return nil, rest
	}
	return Flatten(psUnits), rest
}

func isVCL(nalType byte) bool {
	return nalType == NALTypeSlice || nalType == NALTypeIDRSlice
}

func hasVCL(units []Unit) bool {
	for _, u := range units {
		if isVCL(u.Type) {
			return true
		}
	}
	return false
}

func startCodeOffsets(stream []byte) []int {
	var offsets []int
	i := 0
	for i < len(stream)-2 {
		if bytes.HasPrefix(stream[i:], startCode4) {
			offsets = append(offsets, i)
			i += 4
			continue
		}
		if bytes.HasPrefix(stream[i:], startCode3) {
			offsets = append(offsets, i)
			i += 3
			continue
		}
		i++
	}
	return offsets
}

func startCodeLen(fromStart []byte) int {
	if bytes.HasPrefix(fromStart, startCode4) {
		return 5 // 4-byte start code + 1 header byte
	}
	if bytes.HasPrefix(fromStart, startCode3) {
		return 4 // 3-byte start code + 1 header byte
	}
	return 0
}
