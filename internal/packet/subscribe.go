package packet

import (
	"encoding/binary"

	"github.com/pyr33x/goqtt/internal/packet/utils"
	"github.com/pyr33x/goqtt/pkg/er"
)

type SubscribeFilter struct {
	Topic string
	QoS   QoSLevel
}

type SubscribePacket struct {
	// Variable Header
	PacketID uint16

	// Payload
	Filters []SubscribeFilter

	// Raw
	Raw []byte
}

func (sp *SubscribePacket) Parse(raw []byte) error {
	if len(raw) < 2 {
		return &er.Err{Context: "Subscribe", Message: er.ErrInvalidSubscribePacket}
	}
	if PacketType(raw[0]&0xF0) != SUBSCRIBE {
		return &er.Err{Context: "Subscribe", Message: er.ErrInvalidSubscribePacket}
	}
	if (raw[0] & 0x0F) != 0x02 {
		return &er.Err{Context: "Subscribe, Fixed Header", Message: er.ErrInvalidSubscribeFlags}
	}

	sp.Raw = raw

	remainingLength, offset, err := utils.ParseRemainingLength(raw[1:])
	if err != nil {
		return err
	}

	expectedLength := 1 + offset + remainingLength
	if len(raw) != expectedLength {
		return &er.Err{Context: "Subscribe, Packet Length", Message: er.ErrInvalidPacketLength}
	}
	offset += 1

	if remainingLength < 2 {
		return &er.Err{Context: "Subscribe", Message: er.ErrInvalidSubscribePacket}
	}

	if offset+2 > len(raw) {
		return &er.Err{Context: "Subscribe, PacketID", Message: er.ErrMissingPacketID}
	}
	sp.PacketID = binary.BigEndian.Uint16(raw[offset : offset+2])
	if sp.PacketID == 0 {
		return &er.Err{Context: "Subscribe, PacketID", Message: er.ErrInvalidPacketID}
	}
	offset += 2

	sp.Filters = make([]SubscribeFilter, 0)

	for offset < len(raw) {
		if offset+2 > len(raw) {
			return &er.Err{Context: "Subscribe, Topic Filter", Message: er.ErrInvalidSubscribePacket}
		}
		topicLen := binary.BigEndian.Uint16(raw[offset : offset+2])
		offset += 2

		if topicLen == 0 {
			return &er.Err{Context: "Subscribe, Topic Filter", Message: er.ErrEmptyTopicFilter}
		}
		if offset+int(topicLen) > len(raw) {
			return &er.Err{Context: "Subscribe, Topic Filter", Message: er.ErrInvalidSubscribePacket}
		}
		topicFilter := string(raw[offset : offset+int(topicLen)])
		offset += int(topicLen)

		if err := utils.ValidateTopicFilter(topicFilter); err != nil {
			return err
		}

		if offset >= len(raw) {
			return &er.Err{Context: "Subscribe, QoS", Message: er.ErrMissingQoSByte}
		}
		qosByte := raw[offset]
		if (qosByte & 0xFC) != 0 {
			return &er.Err{Context: "Subscribe, QoS", Message: er.ErrInvalidQoSReservedBits}
		}
		qos := QoSLevel(qosByte & 0x03)
		if qos > QoSExactlyOnce {
			return &er.Err{Context: "Subscribe, QoS", Message: er.ErrInvalidQoSLevel}
		}
		offset++

		sp.Filters = append(sp.Filters, SubscribeFilter{Topic: topicFilter, QoS: qos})
	}

	if len(sp.Filters) == 0 {
		return &er.Err{Context: "Subscribe", Message: er.ErrNoTopicFilters}
	}

	return nil
}
