package packet

import (
	"encoding/binary"

	"github.com/pyr33x/goqtt/pkg/er"
)

type UnsubackPacket struct {
	PacketID uint16
}

// NewUnsubAck builds an UNSUBACK in response to an UNSUBSCRIBE.
func NewUnsubAck(packetID uint16) *UnsubackPacket {
	return &UnsubackPacket{PacketID: packetID}
}

func (p *UnsubackPacket) Parse(raw []byte) error {
	if len(raw) < 4 {
		return &er.Err{Context: "UNSUBACK", Message: er.ErrShortBuffer}
	}
	if PacketType(raw[0]&0xF0) != UNSUBACK {
		return &er.Err{Context: "UNSUBACK", Message: er.ErrInvalidPacketType}
	}
	if raw[1] != 0x02 {
		return &er.Err{Context: "UNSUBACK", Message: er.ErrInvalidPacketLength}
	}
	p.PacketID = binary.BigEndian.Uint16(raw[2:4])
	return nil
}

func (p *UnsubackPacket) Encode() []byte {
	packetBytes := []byte{byte(UNSUBACK), 0x02}
	idBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(idBytes, p.PacketID)
	return append(packetBytes, idBytes...)
}
