package packet

import "github.com/pyr33x/goqtt/pkg/er"

// Parse determines the packet type from the fixed header and decodes the
// matching payload into ParsedPacket.
func Parse(raw []byte) (*ParsedPacket, error) {
	if len(raw) < 1 {
		return nil, &er.Err{Context: "Parse", Message: er.ErrShortBuffer}
	}

	packetType := PacketType(raw[0] & 0xF0)
	result := &ParsedPacket{Type: packetType, Raw: raw}

	switch packetType {
	case CONNECT:
		cp := &ConnectPacket{}
		if err := cp.Parse(raw); err != nil {
			return nil, err
		}
		result.Connect = cp

	case PUBLISH:
		pp := &PublishPacket{}
		if err := pp.Parse(raw); err != nil {
			return nil, err
		}
		result.Publish = pp

	case PUBACK:
		ap, err := ParsePuback(raw)
		if err != nil {
			return nil, err
		}
		result.Puback = ap

	case PUBREC:
		ap, err := ParsePubrec(raw)
		if err != nil {
			return nil, err
		}
		result.Pubrec = ap

	case PUBREL:
		ap, err := ParsePubrel(raw)
		if err != nil {
			return nil, err
		}
		result.Pubrel = ap

	case PUBCOMP:
		ap, err := ParsePubcomp(raw)
		if err != nil {
			return nil, err
		}
		result.Pubcomp = ap

	case SUBSCRIBE:
		sp := &SubscribePacket{}
		if err := sp.Parse(raw); err != nil {
			return nil, err
		}
		result.Subscribe = sp

	case UNSUBSCRIBE:
		up := &UnsubscribePacket{}
		if err := up.Parse(raw); err != nil {
			return nil, err
		}
		result.Unsubscribe = up

	case PINGREQ:
		pr := &PingreqPacket{}
		if err := pr.ParsePingreq(raw); err != nil {
			return nil, err
		}
		result.Pingreq = pr

	case DISCONNECT:
		dp := &DisconnectPacket{}
		if err := dp.Parse(raw); err != nil {
			return nil, err
		}
		result.Disconnect = dp

	default:
		return nil, &er.Err{Context: "Parse", Message: er.ErrInvalidPacketType}
	}

	return result, nil
}
