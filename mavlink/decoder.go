package mavlink

import (
	"encoding/binary"
	"sync"

	"github.com/ugcs/vsm-go/iostream"
)

const (
	startSignV1 = 0xfe
	startSignV2 = 0xfd

	headerLenV1 = 6  // STX, len, seq, sysid, compid, msgid
	headerLenV2 = 10 // STX, len, incompat, compat, seq, sysid, compid, msgid(3)

	minFrameLen = headerLenV1 + 2 // smallest possible v1 frame: header + 0 payload + crc
)

type decodeState int

const (
	stateSTX decodeState = iota
	stateVer1
	stateVer2
)

// systemIDAny aggregates statistics across all senders, per
// mavlink::SYSTEM_ID_ANY.
const systemIDAny = -1

// Stats mirrors Mavlink_decoder::Stats.
type Stats struct {
	Handled       uint64
	NoHandler     uint64
	BadChecksum   uint64
	BadLength     uint64
	UnknownID     uint64
	BytesReceived uint64
	StxSyncs      uint64
}

// MessageHandler receives a successfully decoded message: its payload,
// message id, sender system/component id, and sequence number.
type MessageHandler func(payload []byte, msgID uint32, systemID, componentID uint8, seq uint8)

// RawDataHandler observes every byte handed to Decode, before framing.
type RawDataHandler func(data []byte)

// Decoder recovers MAVLink v1/v2 frames from an arbitrary byte stream,
// e.g. fed from an iostream.Stream's Read completions.
type Decoder struct {
	handler    MessageHandler
	rawHandler RawDataHandler

	state       decodeState
	packetBuf   iostream.Buffer
	nextReadLen int

	statsMu sync.Mutex
	stats   map[int]*Stats
}

// NewDecoder creates a Decoder ready to accept bytes via Decode.
func NewDecoder() *Decoder {
	return &Decoder{
		state:       stateSTX,
		nextReadLen: minFrameLen,
		stats:       make(map[int]*Stats),
	}
}

// RegisterHandler installs the handler for fully decoded messages.
func (d *Decoder) RegisterHandler(h MessageHandler) { d.handler = h }

// RegisterRawDataHandler installs a handler that sees every raw byte.
func (d *Decoder) RegisterRawDataHandler(h RawDataHandler) { d.rawHandler = h }

// GetNextReadSize reports how many bytes the next Read should fetch to
// make progress, per Mavlink_decoder::Get_next_read_size.
func (d *Decoder) GetNextReadSize() int { return d.nextReadLen }

// GetStats returns a copy of the statistics for systemID (use
// SystemIDAny for the connection-wide total).
func (d *Decoder) GetStats(systemID int) Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	if s, ok := d.stats[systemID]; ok {
		return *s
	}
	return Stats{}
}

// SystemIDAny is the key under which connection-wide totals accumulate.
const SystemIDAny = systemIDAny

func (d *Decoder) statsFor(systemID int) *Stats {
	s, ok := d.stats[systemID]
	if !ok {
		s = &Stats{}
		d.stats[systemID] = s
	}
	return s
}

// Decode feeds new bytes from the wire into the decoder, synchronously
// invoking RegisterHandler for every complete, valid frame found.
func (d *Decoder) Decode(data []byte) {
	if d.rawHandler != nil {
		d.rawHandler(data)
	}
	d.packetBuf = d.packetBuf.Concatenate(iostream.NewBuffer(data))
	d.nextReadLen = 0

	for {
		bufLen := d.packetBuf.Len()

		d.statsMu.Lock()
		d.statsFor(systemIDAny).BytesReceived += uint64(bufLen)
		if d.state == stateSTX {
			if bufLen < minFrameLen {
				d.nextReadLen = minFrameLen - bufLen
				d.statsMu.Unlock()
				break
			}
			buf := d.packetBuf.Bytes()
			skipped := 0
			for ; skipped < bufLen; skipped++ {
				switch buf[skipped] {
				case startSignV1:
					d.state = stateVer1
					d.statsFor(systemIDAny).StxSyncs++
				case startSignV2:
					d.state = stateVer2
					d.statsFor(systemIDAny).StxSyncs++
				default:
					continue
				}
				break
			}
			// Slice off whatever was skipped, plus the signature byte itself
			// if one was found (skipped < bufLen).
			if skipped < bufLen {
				d.packetBuf = d.packetBuf.Slice(skipped + 1)
			} else {
				d.packetBuf = d.packetBuf.Slice(skipped)
			}
		}
		d.statsMu.Unlock()

		if d.state != stateVer1 && d.state != stateVer2 {
			continue
		}

		wrapperLen := headerLenV1 - 1 + 2
		if d.state == stateVer2 {
			wrapperLen = headerLenV2 - 1 + 2
		}
		bufLen = d.packetBuf.Len()
		if bufLen == 0 {
			d.nextReadLen = wrapperLen
			break
		}
		payloadLen := int(d.packetBuf.Bytes()[0])
		packetLen := wrapperLen + payloadLen
		if packetLen > bufLen {
			d.nextReadLen = packetLen - bufLen
			break
		}
		if d.decodePacket(d.packetBuf.Bytes()[:packetLen]) {
			d.packetBuf = d.packetBuf.Slice(packetLen)
		}
		d.state = stateSTX
	}
}

// decodePacket validates and (on success) delivers one complete frame
// (STX already stripped, exactly packetLen bytes), per
// Mavlink_decoder::Decode_packet.
func (d *Decoder) decodePacket(data []byte) bool {
	payloadLen := int(data[0])

	var seq, systemID, componentID byte
	var msgID uint32
	var headerLen int
	if d.state == stateVer2 {
		seq = data[3]
		systemID = data[4]
		componentID = data[5]
		msgID = uint32(data[6]) | uint32(data[7])<<8 | uint32(data[8])<<16
		headerLen = headerLenV2 - 1
	} else {
		seq = data[1]
		systemID = data[2]
		componentID = data[3]
		msgID = uint32(data[4])
		headerLen = headerLenV1 - 1
	}

	info, known := LookupMessage(msgID)
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	if !known {
		d.statsFor(systemIDAny).UnknownID++
		return false
	}

	crc := crcAccumulateBuffer(data[:headerLen], crcInit)
	crc = crcAccumulateBuffer(data[headerLen:headerLen+payloadLen], crc)
	crc = crcAccumulate(info.CRCExtra, crc)

	recv := binary.LittleEndian.Uint16(data[headerLen+payloadLen : headerLen+payloadLen+2])
	cksumOK := crc == recv
	lengthOK := info.Length == payloadLen

	if cksumOK && (lengthOK || d.state == stateVer2) {
		if d.handler != nil {
			d.statsFor(int(systemID)).Handled++
			d.statsFor(systemIDAny).Handled++
			payload := append([]byte(nil), data[headerLen:headerLen+payloadLen]...)
			handler := d.handler
			d.statsMu.Unlock()
			handler(payload, msgID, systemID, componentID, seq)
			d.statsMu.Lock()
		} else {
			d.statsFor(int(systemID)).NoHandler++
			d.statsFor(systemIDAny).NoHandler++
		}
		return true
	}
	if cksumOK {
		d.statsFor(int(systemID)).BadLength++
		d.statsFor(systemIDAny).BadLength++
	} else {
		d.statsFor(systemIDAny).BadChecksum++
	}
	return false
}
