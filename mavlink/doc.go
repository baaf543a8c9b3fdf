// Package mavlink implements the streaming MAVLink v1/v2 frame decoder
// (spec.md §3/§4.6 C8): byte-stream framing recovery, CRC-16/ITU-X.25
// ("MCRF4XX") validation with the per-message CRC-extra byte, and
// per-sender plus aggregate statistics.
package mavlink
