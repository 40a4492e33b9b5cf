package packet

// NewPubAck builds a PUBACK packet acknowledging a QoS 1 PUBLISH.
func NewPubAck(packetID uint16) []byte {
	return (&AckPacket{Type: PUBACK, PacketID: packetID}).Encode()
}

// NewPubRec builds a PUBREC packet, step one of the QoS 2 handshake.
func NewPubRec(packetID uint16) []byte {
	return (&AckPacket{Type: PUBREC, PacketID: packetID}).Encode()
}

// NewPubRel builds a PUBREL packet, step two of the QoS 2 handshake.
func NewPubRel(packetID uint16) []byte {
	return (&AckPacket{Type: PUBREL, PacketID: packetID}).Encode()
}

// NewPubComp builds a PUBCOMP packet, closing the QoS 2 handshake.
func NewPubComp(packetID uint16) []byte {
	return (&AckPacket{Type: PUBCOMP, PacketID: packetID}).Encode()
}

// ParsePuback parses a PUBACK packet from raw bytes.
func ParsePuback(raw []byte) (*AckPacket, error) { return parseAck(raw, PUBACK) }

// ParsePubrec parses a PUBREC packet from raw bytes.
func ParsePubrec(raw []byte) (*AckPacket, error) { return parseAck(raw, PUBREC) }

// ParsePubrel parses a PUBREL packet from raw bytes.
func ParsePubrel(raw []byte) (*AckPacket, error) { return parseAck(raw, PUBREL) }

// ParsePubcomp parses a PUBCOMP packet from raw bytes.
func ParsePubcomp(raw []byte) (*AckPacket, error) { return parseAck(raw, PUBCOMP) }
