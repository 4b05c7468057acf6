// Package parser decodes a byte slice into a sequence of NMEA-0183 sentences.
//
// Parse is a pure, stateless function: it never retains bytes across calls
// and never blocks. The session drives it once per received chunk; an
// incomplete trailing frame in a chunk is discarded rather than buffered,
// which is safe for the datagram- and line-oriented transports this bridge
// targets (see SPEC_FULL.md §9).
package parser

import (
	"time"

	"github.com/goblimey/nmea-bridge/sentence"
)

// minCandidateLen is the minimum length of a "$...terminator" span,
// excluding the terminator, for it to be considered at all.
const minCandidateLen = 6

// minPayloadLen is the minimum payload length (the bytes between '$' and
// the checksum delimiter or end of frame) for a sentence to be emitted.
const minPayloadLen = 5

// Parse returns, in order, every well-formed NMEA-0183 frame found in data,
// plus a count of "$...terminator" spans that were found but could not be
// decoded as a sentence (too short, or missing the talker+type/fields
// comma) and were dropped (§3, §7's parse-errors statistic). receivedAt is
// stamped on every Sentence it yields.
func Parse(data []byte, receivedAt time.Time) ([]sentence.Sentence, int) {
	var out []sentence.Sentence
	skipped := 0

	pos := 0
	for {
		dollar := indexByte(data, pos, '$')
		if dollar == -1 {
			return out, skipped
		}

		term := indexTerminator(data, dollar+1)
		if term == -1 {
			// No terminator in the rest of the chunk: stop, discarding the tail.
			return out, skipped
		}

		candidate := data[dollar:term]

		// Advance past the terminator run before processing, so a skipped
		// frame doesn't get rescanned.
		next := term
		for next < len(data) && (data[next] == '\r' || data[next] == '\n') {
			next++
		}

		if s, ok := decodeFrame(candidate, receivedAt); ok {
			out = append(out, s)
		} else {
			skipped++
		}

		pos = next
	}
}

// decodeFrame attempts to turn a "$...payload...[*HH]" span (no CR/LF) into
// a Sentence. ok is false if the span is too short or its payload can't be
// split into talker+type+fields.
func decodeFrame(candidate []byte, receivedAt time.Time) (sentence.Sentence, bool) {
	if len(candidate) < minCandidateLen {
		return sentence.Sentence{}, false
	}

	lastStar := lastIndexByte(candidate, '*')
	hasChecksum := lastStar != -1 && len(candidate)-lastStar-1 >= 2

	var payload []byte
	if hasChecksum {
		payload = candidate[1:lastStar]
	} else {
		payload = candidate[1:]
	}

	if len(payload) < minPayloadLen {
		return sentence.Sentence{}, false
	}

	commaIdx := indexByte(payload, 2, ',')
	if commaIdx == -1 {
		return sentence.Sentence{}, false
	}

	talker := string(payload[0:2])
	sentenceType := string(payload[2:commaIdx])
	remainder := string(payload[commaIdx+1:])
	fields := splitFields(remainder)

	computed := xorAll(payload)

	var checksum byte
	var valid bool
	if hasChecksum {
		transmitted, ok := parseHexByte(candidate[lastStar+1], candidate[lastStar+2])
		if !ok {
			checksum = 0
			valid = false
		} else {
			checksum = transmitted
			valid = transmitted == computed
		}
	} else {
		checksum = computed
		valid = false
	}

	raw := make([]byte, len(candidate))
	copy(raw, candidate)

	return sentence.Sentence{
		Talker:   talker,
		Type:     sentenceType,
		Fields:   fields,
		Checksum: checksum,
		Raw:      raw,
		Received: receivedAt,
		Valid:    valid,
	}, true
}

// splitFields splits s on commas, preserving empty fields (including
// trailing ones).
func splitFields(s string) []string {
	fields := make([]string, 0, 8)
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			fields = append(fields, s[start:i])
			start = i + 1
		}
	}
	fields = append(fields, s[start:])
	return fields
}

func xorAll(b []byte) byte {
	var x byte
	for _, c := range b {
		x ^= c
	}
	return x
}

func parseHexByte(hi, lo byte) (byte, bool) {
	h, ok1 := hexNibble(hi)
	l, ok2 := hexNibble(lo)
	if !ok1 || !ok2 {
		return 0, false
	}
	return h<<4 | l, true
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

func indexByte(b []byte, from int, target byte) int {
	for i := from; i < len(b); i++ {
		if b[i] == target {
			return i
		}
	}
	return -1
}

func lastIndexByte(b []byte, target byte) int {
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] == target {
			return i
		}
	}
	return -1
}

// indexTerminator finds the first CR or LF at or after from.
func indexTerminator(b []byte, from int) int {
	for i := from; i < len(b); i++ {
		if b[i] == '\r' || b[i] == '\n' {
			return i
		}
	}
	return -1
}
