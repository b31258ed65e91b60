package dhcpmsg

import (
	"encoding/binary"
	"net"
)

// Op values for the BOOTP op field.
const (
	BootRequest byte = 1
	BootReply   byte = 2
)

// MagicCookie introduces the option area: 99.130.83.99.
const MagicCookie uint32 = 0x63825363

const (
	sizeCHAddr   = 16
	sizeSName    = 64
	sizeFile     = 128
	fixedHeaderSize = 1 + 1 + 1 + 1 + 4 + 2 + 2 + 4*4 + sizeCHAddr + sizeSName + sizeFile // 236
	cookieSize      = 4
	minPacketSize   = fixedHeaderSize + cookieSize
)

// Packet is the logical BOOTP/DHCP record described in spec.md §3. It
// is not a wire layout: Parse/Serialize own the 236-byte fixed layout,
// magic cookie, and TLV option area.
type Packet struct {
	Op     byte
	HType  byte
	HLen   byte
	Hops   byte
	XID    uint32
	Secs   uint16
	Flags  uint16
	CIAddr net.IP
	YIAddr net.IP
	SIAddr net.IP
	GIAddr net.IP
	CHAddr net.HardwareAddr
	SName  string
	File   string

	// Options holds every option present on the wire, raw-bytes or
	// configured, keyed by numeric code. Unknown codes are retained
	// here unparsed, per spec.md §4.1.
	Options map[OptionCode]OptionValue

	// OptionOrder, when non-empty, is the explicit emission order
	// Serialize uses (spec.md §4.2.1). When empty, Serialize falls
	// back to ascending numeric code order.
	OptionOrder []OptionCode
}

const broadcastFlag uint16 = 1 << 15

// Broadcast reports whether bit 15 of Flags (the broadcast flag) is set.
func (p *Packet) Broadcast() bool {
	return p.Flags&broadcastFlag != 0
}

// MessageType returns option 53 decoded, or 0 if absent/malformed.
func (p *Packet) MessageType() MessageType {
	v, ok := p.Options[OptDHCPMessageType]
	if !ok {
		return 0
	}
	decoded, err := Decode(OptDHCPMessageType, v.Raw)
	if err != nil {
		return 0
	}
	mt, _ := decoded.(MessageType)
	return mt
}

// ParameterRequestList returns option 55 decoded, or nil if absent.
func (p *Packet) ParameterRequestList() []OptionCode {
	v, ok := p.Options[OptParameterRequestList]
	if !ok {
		return nil
	}
	decoded, err := Decode(OptParameterRequestList, v.Raw)
	if err != nil {
		return nil
	}
	list, _ := decoded.([]OptionCode)
	return list
}

// RequestedIPAddress returns option 50 decoded, or nil if absent/malformed.
func (p *Packet) RequestedIPAddress() net.IP {
	v, ok := p.Options[OptRequestedIPAddress]
	if !ok {
		return nil
	}
	decoded, err := Decode(OptRequestedIPAddress, v.Raw)
	if err != nil {
		return nil
	}
	ip, _ := decoded.(net.IP)
	return ip
}

// HostName returns option 12 decoded, or "" if absent/malformed.
func (p *Packet) HostName() string {
	v, ok := p.Options[OptHostName]
	if !ok {
		return ""
	}
	decoded, err := Decode(OptHostName, v.Raw)
	if err != nil {
		return ""
	}
	name, _ := decoded.(string)
	return name
}

// Parse reads the fixed 236-byte header, verifies the magic cookie, and
// walks the TLV option area until 0xFF or the buffer ends. Duplicate
// option codes are last-writer-wins. A malformed individual option does
// not abort the parse; only a truncated/missing fixed header or a bad
// magic cookie does, as a ParseError.
func Parse(data []byte) (*Packet, error) {
	if len(data) < minPacketSize {
		return nil, &ParseError{Reason: "packet shorter than fixed header + magic cookie"}
	}

	p := &Packet{
		Op:      data[0],
		HType:   data[1],
		HLen:    data[2],
		Hops:    data[3],
		XID:     binary.BigEndian.Uint32(data[4:8]),
		Secs:    binary.BigEndian.Uint16(data[8:10]),
		Flags:   binary.BigEndian.Uint16(data[10:12]),
		Options: make(map[OptionCode]OptionValue),
	}
	p.CIAddr = copyIP(data[12:16])
	p.YIAddr = copyIP(data[16:20])
	p.SIAddr = copyIP(data[20:24])
	p.GIAddr = copyIP(data[24:28])

	hlen := int(p.HLen)
	if hlen > sizeCHAddr {
		hlen = sizeCHAddr
	}
	chaddr := make(net.HardwareAddr, hlen)
	copy(chaddr, data[28:28+hlen])
	p.CHAddr = chaddr

	p.SName = trimNulString(data[44 : 44+sizeSName])
	p.File = trimNulString(data[108 : 108+sizeFile])

	cookie := binary.BigEndian.Uint32(data[fixedHeaderSize : fixedHeaderSize+4])
	if cookie != MagicCookie {
		return nil, &ParseError{Reason: "bad magic cookie"}
	}

	i := minPacketSize
	for i < len(data) {
		code := OptionCode(data[i])
		if code == OptEnd {
			break
		}
		if code == 0 { // pad
			i++
			continue
		}
		if i+1 >= len(data) {
			break
		}
		length := int(data[i+1])
		if i+2+length > len(data) {
			break
		}
		raw := make([]byte, length)
		copy(raw, data[i+2:i+2+length])
		p.Options[code] = OptionValue{Raw: raw}
		i += 2 + length
	}

	return p, nil
}

// Serialize fills the fixed header, appends the magic cookie, then
// emits options in p.OptionOrder (falling back to ascending numeric
// code order when unset), terminated by 0xFF.
func (p *Packet) Serialize() []byte {
	buf := make([]byte, minPacketSize, minPacketSize+64)

	buf[0] = p.Op
	buf[1] = p.HType
	buf[2] = p.HLen
	buf[3] = p.Hops
	binary.BigEndian.PutUint32(buf[4:8], p.XID)
	binary.BigEndian.PutUint16(buf[8:10], p.Secs)
	binary.BigEndian.PutUint16(buf[10:12], p.Flags)
	putIP(buf[12:16], p.CIAddr)
	putIP(buf[16:20], p.YIAddr)
	putIP(buf[20:24], p.SIAddr)
	putIP(buf[24:28], p.GIAddr)
	copy(buf[28:28+sizeCHAddr], p.CHAddr)
	copy(buf[44:44+sizeSName], p.SName)
	copy(buf[108:108+sizeFile], p.File)
	binary.BigEndian.PutUint32(buf[fixedHeaderSize:fixedHeaderSize+4], MagicCookie)

	order := p.OptionOrder
	if len(order) == 0 {
		order = ascendingCodes(p.Options)
	}
	for _, code := range order {
		v, ok := p.Options[code]
		if !ok || len(v.Raw) > 255 {
			continue
		}
		buf = append(buf, byte(code), byte(len(v.Raw)))
		buf = append(buf, v.Raw...)
	}
	buf = append(buf, byte(OptEnd))
	return buf
}

func ascendingCodes(options map[OptionCode]OptionValue) []OptionCode {
	codes := make([]OptionCode, 0, len(options))
	for c := range options {
		codes = append(codes, c)
	}
	for i := 1; i < len(codes); i++ {
		for j := i; j > 0 && codes[j-1] > codes[j]; j-- {
			codes[j-1], codes[j] = codes[j], codes[j-1]
		}
	}
	return codes
}

func copyIP(b []byte) net.IP {
	ip := make(net.IP, 4)
	copy(ip, b)
	return ip
}

func putIP(dst []byte, ip net.IP) {
	if ip == nil {
		return
	}
	v4 := ip.To4()
	if v4 == nil {
		return
	}
	copy(dst, v4)
}

func trimNulString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
