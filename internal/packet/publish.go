package packet

import (
	"encoding/binary"

	"github.com/pyr33x/goqtt/internal/packet/utils"
	"github.com/pyr33x/goqtt/pkg/er"
)

type QoSLevel uint8

const (
	QoSAtMostOnce  QoSLevel = 0         // QoS 0
	QoSAtLeastOnce QoSLevel = 1         // QoS 1
	QoSExactlyOnce QoSLevel = 2         // QoS 2
	MaxPayloadSize          = 268435455 // MQTT 3.1.1 max remaining length
)

type PublishPacket struct {
	// Fixed Header
	DUP    bool
	QoS    QoSLevel
	Retain bool

	// Variable Header
	Topic    string
	PacketID *uint16 // nil for QoS 0

	// Payload
	Payload []byte

	// Raw
	Raw []byte
}

func (pp *PublishPacket) Parse(raw []byte) error {
	if len(raw) < 4 {
		return &er.Err{Context: "Publish", Message: er.ErrInvalidPublishPacket}
	}
	if PacketType(raw[0]&0xF0) != PUBLISH {
		return &er.Err{Context: "Publish", Message: er.ErrInvalidPublishPacket}
	}

	pp.Raw = raw

	remainingLength, offset, err := utils.ParseRemainingLength(raw[1:])
	if err != nil {
		return err
	}

	expectedLength := 1 + offset + remainingLength
	if len(raw) != expectedLength {
		return &er.Err{Context: "Publish, Packet Length", Message: er.ErrInvalidPacketLength}
	}
	offset += 1

	fixedHeader := raw[0]
	pp.DUP = (fixedHeader & 0x08) != 0
	pp.QoS = QoSLevel((fixedHeader & 0x06) >> 1)
	pp.Retain = (fixedHeader & 0x01) != 0

	if pp.QoS > QoSExactlyOnce {
		return &er.Err{Context: "Publish, QoS", Message: er.ErrInvalidQoSLevel}
	}
	if pp.DUP && pp.QoS == QoSAtMostOnce {
		return &er.Err{Context: "Publish, DUP Flag", Message: er.ErrInvalidDUPFlag}
	}

	if offset+2 > len(raw) {
		return &er.Err{Context: "Publish", Message: er.ErrInvalidPublishPacket}
	}
	topicLen := binary.BigEndian.Uint16(raw[offset : offset+2])
	offset += 2

	if offset+int(topicLen) > len(raw) {
		return &er.Err{Context: "Publish, Topic", Message: er.ErrInvalidPublishPacket}
	}
	pp.Topic = string(raw[offset : offset+int(topicLen)])
	offset += int(topicLen)

	if err := utils.ValidateTopicName(pp.Topic); err != nil {
		return err
	}

	if pp.QoS != QoSAtMostOnce {
		if offset+2 > len(raw) {
			return &er.Err{Context: "Publish, PacketID", Message: er.ErrMissingPacketID}
		}
		packetID := binary.BigEndian.Uint16(raw[offset : offset+2])
		if packetID == 0 {
			return &er.Err{Context: "Publish, PacketID", Message: er.ErrInvalidPacketID}
		}
		pp.PacketID = &packetID
		offset += 2
	}

	if offset < len(raw) {
		payloadLen := len(raw) - offset
		if payloadLen > MaxPayloadSize {
			return &er.Err{Context: "Publish, Payload", Message: er.ErrPayloadTooLarge}
		}
		pp.Payload = make([]byte, payloadLen)
		copy(pp.Payload, raw[offset:])
	}

	return nil
}

// Encode serializes the packet back to wire format, used both for initial
// delivery and for DUP retransmits built from a pending-message record.
func (pp *PublishPacket) Encode() []byte {
	var variable []byte
	topicBytes := []byte(pp.Topic)
	variable = append(variable, byte(len(topicBytes)>>8), byte(len(topicBytes)&0xFF))
	variable = append(variable, topicBytes...)

	if pp.QoS != QoSAtMostOnce {
		if pp.PacketID == nil {
			return nil
		}
		variable = append(variable, byte(*pp.PacketID>>8), byte(*pp.PacketID&0xFF))
	}

	remainingLength := len(variable) + len(pp.Payload)

	fixedHeader := byte(PUBLISH)
	if pp.DUP {
		fixedHeader |= 0x08
	}
	fixedHeader |= byte(pp.QoS) << 1
	if pp.Retain {
		fixedHeader |= 0x01
	}

	packetBytes := []byte{fixedHeader}
	packetBytes = append(packetBytes, utils.EncodeRemainingLength(remainingLength)...)
	packetBytes = append(packetBytes, variable...)
	packetBytes = append(packetBytes, pp.Payload...)
	return packetBytes
}
