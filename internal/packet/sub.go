package packet

import (
	"encoding/binary"

	"github.com/pyr33x/goqtt/internal/packet/utils"
	"github.com/pyr33x/goqtt/pkg/er"
)

// SUBACK return codes
const (
	SubackMaxQoS0 byte = 0x00
	SubackMaxQoS1 byte = 0x01
	SubackMaxQoS2 byte = 0x02
	SubackFailure byte = 0x80
)

type SubackPacket struct {
	PacketID    uint16
	ReturnCodes []byte
}

// NewSubAck builds a SUBACK for the given packet id and granted return codes.
// The broker's router decides the granted QoS per filter, not this codec.
func NewSubAck(packetID uint16, returnCodes []byte) *SubackPacket {
	return &SubackPacket{PacketID: packetID, ReturnCodes: returnCodes}
}

func (p *SubackPacket) Encode() []byte {
	remainingLength := 2 + len(p.ReturnCodes)

	packetBytes := []byte{byte(SUBACK)}
	packetBytes = append(packetBytes, utils.EncodeRemainingLength(remainingLength)...)

	idBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(idBytes, p.PacketID)
	packetBytes = append(packetBytes, idBytes...)
	packetBytes = append(packetBytes, p.ReturnCodes...)
	return packetBytes
}

func (p *SubackPacket) Parse(raw []byte) error {
	if len(raw) < 4 {
		return &er.Err{Context: "SUBACK", Message: er.ErrShortBuffer}
	}
	if PacketType(raw[0]&0xF0) != SUBACK {
		return &er.Err{Context: "SUBACK", Message: er.ErrInvalidPacketType}
	}

	remainingLength, offset, err := utils.ParseRemainingLength(raw[1:])
	if err != nil {
		return err
	}

	expectedLength := 1 + offset + remainingLength
	if len(raw) != expectedLength {
		return &er.Err{Context: "SUBACK", Message: er.ErrInvalidPacketLength}
	}

	packetIDIndex := 1 + offset
	p.PacketID = binary.BigEndian.Uint16(raw[packetIDIndex : packetIDIndex+2])

	returnCodesIndex := packetIDIndex + 2
	p.ReturnCodes = make([]byte, remainingLength-2)
	copy(p.ReturnCodes, raw[returnCodesIndex:])

	return nil
}
