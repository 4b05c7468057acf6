// Package sentence defines the immutable record produced by the parser for
// each NMEA-0183 frame it decodes.
package sentence

import "time"

// Sentence is an immutable, parsed NMEA-0183 frame. Only the parser
// constructs these; every other component treats a Sentence as read-only.
type Sentence struct {
	// Talker is the two-character talker identifier, for example "GN".
	Talker string

	// Type is the sentence type, typically three characters, for example "GGA".
	Type string

	// Fields are the comma-separated fields following the talker+type,
	// in order. Empty fields (including trailing ones) are preserved.
	Fields []string

	// Checksum is the transmitted checksum byte, or the computed value
	// if none was present in the frame, or 0 if the two characters after
	// '*' are not valid hex.
	Checksum byte

	// Raw is the exact byte image of the frame: '$' through the last
	// character before CR/LF, inclusive of "*HH" if present. It contains
	// neither CR nor LF.
	Raw []byte

	// Received is the time the frame's containing chunk arrived.
	Received time.Time

	// Valid is true iff a transmitted checksum was present and matched
	// the XOR of every byte between '$' and '*'.
	Valid bool
}

// FullType is the talker and type concatenated, the canonical sentence
// identity used by filter configuration, e.g. "GNGGA".
func (s Sentence) FullType() string {
	return s.Talker + s.Type
}

// BareType is the sentence type alone, e.g. "GGA".
func (s Sentence) BareType() string {
	return s.Type
}
