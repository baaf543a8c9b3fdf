package adsb

import (
	"fmt"

	"github.com/ugcs/vsm-go/internal/vsmerr"
)

// FrameSize is the fixed wire size of an extended-squitter frame:
// 1 (DF/CA) + 3 (address) + 7 (ME) + 3 (PI/CRC).
const FrameSize = 14

// Downlink format values this decoder recognizes, per
// Adsb_frame::Downlink_format.
const (
	DF17 = 17
	DF18 = 18
	DF19 = 19
)

// CF field values that carry ADS-B ME + ICAO address content.
const (
	CF0 = 0
	CF1 = 1
	CF6 = 6
)

// AddressType distinguishes a real ICAO address from an anonymous/
// ground-vehicle/fixed-obstacle one, per Adsb_frame::ICAO_address::Type.
type AddressType int

const (
	AddressReal AddressType = iota
	AddressAnonymous
)

// ICAOAddress is a 24-bit aircraft/vehicle identifier.
type ICAOAddress struct {
	Type    AddressType
	Address uint32 // low 24 bits significant
}

func (a ICAOAddress) String() string {
	return fmt.Sprintf("%06X", a.Address&0xffffff)
}

// Frame is a decoded 14-byte extended-squitter frame.
type Frame struct {
	raw [FrameSize]byte
}

// ParseFrame wraps exactly FrameSize raw bytes, per Adsb_frame's
// constructor (which throws Invalid_buffer for any other length).
func ParseFrame(buf []byte) (Frame, error) {
	if len(buf) != FrameSize {
		return Frame{}, vsmerr.Newf(vsmerr.InvalidParam, "ADS-B frame must be %d bytes, got %d", FrameSize, len(buf))
	}
	var f Frame
	copy(f.raw[:], buf)
	return f, nil
}

// VerifyChecksum reports whether the frame's embedded PI/CRC field
// matches the computed CRC-24 over the first 11 bytes.
func (f Frame) VerifyChecksum() bool {
	var in [11]byte
	copy(in[:], f.raw[:11])
	calc := calculateCRC(in)
	recv := uint32(f.raw[11])<<16 | uint32(f.raw[12])<<8 | uint32(f.raw[13])
	return calc == recv
}

// DF returns the 5-bit downlink format.
func (f Frame) DF() uint8 { return (f.raw[0] & 0xf8) >> 3 }

// caCfAf returns the low 3 bits shared by the CA/CF/AF fields,
// whichever applies for this frame's DF.
func (f Frame) caCfAf() uint8 { return f.raw[0] & 0x07 }

// CA returns the capability field (valid when DF()==DF17).
func (f Frame) CA() uint8 { return f.caCfAf() }

// CF returns the control field (valid when DF()==DF18).
func (f Frame) CF() uint8 { return f.caCfAf() }

// AF returns the application field (valid when DF()==DF19).
func (f Frame) AF() uint8 { return f.caCfAf() }

// METype returns the 5-bit ME message type (top bits of ME[0]).
func (f Frame) METype() uint8 { return (f.raw[4] & 0xf8) >> 3 }

// MESubtype returns the 3-bit ME message subtype (low bits of ME[0]).
func (f Frame) MESubtype() uint8 { return f.raw[4] & 0x07 }

// IsRebroadcast reports whether this frame is an ADS-R rebroadcast
// (DF18 with CF==CF6), in which case the IMF bit changes how the
// address should be interpreted.
func (f Frame) IsRebroadcast() bool { return f.DF() == DF18 && f.CF() == CF6 }

// address returns the raw 3-byte AA field as interpreted per addrType.
func (f Frame) address(addrType AddressType) ICAOAddress {
	v := uint32(f.raw[1])<<16 | uint32(f.raw[2])<<8 | uint32(f.raw[3])
	return ICAOAddress{Type: addrType, Address: v}
}

// me returns the 7-byte ME field.
func (f Frame) me() [7]byte {
	var me [7]byte
	copy(me[:], f.raw[4:11])
	return me
}
