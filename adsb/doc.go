// Package adsb decodes 1090ES extended-squitter ADS-B frames
// (supplemented feature, SPEC_FULL.md §E; dropped from the distilled
// spec but present in the original SDK): CRC-24 verification, DF/CA/
// CF/AF field extraction, and airborne-position altitude decoding
// (both the linear 25ft-resolution encoding and the legacy Gillham/
// Gray-code encoding).
package adsb
