package broker

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/pyr33x/goqtt/internal/auth"
	"github.com/pyr33x/goqtt/internal/logger"
	"github.com/pyr33x/goqtt/internal/packet"
	"github.com/pyr33x/goqtt/pkg/er"
)

// ServeConn drives one client connection end to end: admission checks,
// the CONNECT handshake, the steady-state packet dispatch loop, and
// teardown. It returns once the connection is closed for any reason.
func (b *Broker) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if level := b.Mem.Check(); level == MemCritical {
		b.log.Warn("memory critical, rejecting connection")
		conn.Write(packet.NewConnAck(false, packet.ServerUnavailable))
		return
	} else if level == MemLow {
		b.log.Warn("memory low, trimming session queues")
		b.Mem.TrimQueues(b.allSessions())
	}

	if len(b.allSessions()) >= b.cfg.MaxClients {
		b.log.Warn("max clients reached, rejecting connection")
		conn.Write(packet.NewConnAck(false, packet.ServerUnavailable))
		return
	}

	b.Stats.RecordConnection()

	reader := bufio.NewReader(conn)

	conn.SetReadDeadline(time.Now().Add(time.Duration(b.cfg.ConnectTimeout) * time.Second))
	raw, err := readPacket(reader)
	if err != nil {
		b.log.Debug("connect read error", logger.ErrorAttr(err))
		return
	}
	b.Stats.RecordMessageReceived(len(raw))

	if packet.PacketType(raw[0]&0xF0) != packet.CONNECT {
		b.log.Warn("first packet not CONNECT, closing")
		conn.Write(packet.NewConnAck(false, packet.UnacceptableProtocolVersion))
		return
	}

	cp := &packet.ConnectPacket{}
	if err := cp.Parse(raw); err != nil {
		conn.Write(packet.NewConnAck(false, connackCodeFor(err)))
		return
	}

	session := b.processConnect(cp, conn)
	if session == nil {
		return
	}

	b.log.Info("client connected", logger.ClientID(session.ClientID))

	for {
		timeout := b.cfg.KeepAliveTimeout(session.KeepAlive)
		conn.SetReadDeadline(time.Now().Add(timeout))

		raw, err := readPacket(reader)
		if err != nil {
			b.log.Debug("read error", logger.ClientID(session.ClientID), logger.ErrorAttr(err))
			break
		}

		b.Stats.RecordMessageReceived(len(raw))
		session.touch()

		if !b.dispatch(session, raw) {
			break
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}

	b.HandleDisconnect(session, false)
}

// dispatch handles one decoded frame, returning false when the connection
// loop should stop (DISCONNECT, or a protocol violation).
func (b *Broker) dispatch(s *Session, raw []byte) bool {
	packetType := packet.PacketType(raw[0] & 0xF0)

	switch packetType {
	case packet.PUBLISH:
		pp := &packet.PublishPacket{}
		if err := pp.Parse(raw); err != nil {
			b.log.Warn("invalid PUBLISH", logger.ClientID(s.ClientID), logger.ErrorAttr(err))
			return true
		}
		if ack := b.HandlePublish(s, pp); ack != nil {
			b.sendFrame(s, ack)
		}

	case packet.SUBSCRIBE:
		sp := &packet.SubscribePacket{}
		if err := sp.Parse(raw); err != nil {
			b.log.Warn("invalid SUBSCRIBE", logger.ClientID(s.ClientID), logger.ErrorAttr(err))
			return true
		}
		codes := b.HandleSubscribe(s, sp.Filters)
		b.sendFrame(s, packet.NewSubAck(sp.PacketID, codes).Encode())

	case packet.UNSUBSCRIBE:
		up := &packet.UnsubscribePacket{}
		if err := up.Parse(raw); err != nil {
			b.log.Warn("invalid UNSUBSCRIBE", logger.ClientID(s.ClientID), logger.ErrorAttr(err))
			return true
		}
		b.HandleUnsubscribe(s, up.TopicFilters)
		b.sendFrame(s, packet.NewUnsubAck(up.PacketID).Encode())

	case packet.PINGREQ:
		pr := &packet.PingreqPacket{}
		if err := pr.ParsePingreq(raw); err != nil {
			return true
		}
		b.sendFrame(s, packet.CreatePingresp().Encode())

	case packet.DISCONNECT:
		dp := &packet.DisconnectPacket{}
		if err := dp.Parse(raw); err == nil {
			s.mu.Lock()
			s.HasWill = false
			s.mu.Unlock()
			b.HandleDisconnect(s, true)
		}
		return false

	case packet.CONNECT:
		b.log.Warn("second CONNECT on established session", logger.ClientID(s.ClientID))
		return false

	case packet.PUBACK:
		ap, err := packet.ParsePuback(raw)
		if err == nil {
			b.QoS.HandlePubAck(s, ap.PacketID)
		}

	case packet.PUBREC:
		ap, err := packet.ParsePubrec(raw)
		if err == nil {
			if frame, ok := b.QoS.HandlePubRec(s, ap.PacketID); ok {
				b.sendFrame(s, frame)
			}
		}

	case packet.PUBREL:
		ap, err := packet.ParsePubrel(raw)
		if err == nil {
			b.sendFrame(s, b.HandlePubRel(s, ap.PacketID))
		}

	case packet.PUBCOMP:
		ap, err := packet.ParsePubcomp(raw)
		if err == nil {
			b.QoS.HandlePubComp(s, ap.PacketID)
		}

		// Unrecognized packet types are ignored per MQTT 3.1.1.
	}

	return true
}

func (b *Broker) sendFrame(s *Session, frame []byte) {
	if err := s.Send(frame); err != nil {
		return
	}
	b.Stats.RecordMessageSent(len(frame))
}

// processConnect validates protocol fields, authenticates, evicts a
// duplicate client id, resumes or creates the session, and sends CONNACK.
// Returns nil if the connection was rejected (CONNACK already sent).
func (b *Broker) processConnect(cp *packet.ConnectPacket, conn net.Conn) *Session {
	if cp.ProtocolName != "MQTT" || cp.ProtocolLevel != 4 {
		conn.Write(packet.NewConnAck(false, packet.UnacceptableProtocolVersion))
		return nil
	}

	clientID := cp.ClientID
	if clientID == "" {
		if b.cfg.AllowZeroLengthClientID && cp.CleanSession {
			clientID = uuid.NewString()
		} else {
			conn.Write(packet.NewConnAck(false, packet.IdentifierRejected))
			return nil
		}
	}

	username := ""
	if cp.UsernameFlag && cp.Username != nil {
		username = *cp.Username
	}
	password := ""
	if cp.PasswordFlag && cp.Password != nil {
		password = *cp.Password
	}

	// allow_anonymous only gates the zero-config default (no auth provider
	// configured); once a real provider is wired, an anonymous attempt goes
	// through Authenticate like any other and is rejected with 0x04 on
	// failure, not 0x05.
	_, noProviderConfigured := b.auth.(auth.AllowAllProvider)
	if username == "" && noProviderConfigured && !b.cfg.AllowAnonymous {
		b.log.Warn("anonymous connection rejected", logger.ClientID(clientID))
		conn.Write(packet.NewConnAck(false, packet.NotAuthorized))
		return nil
	}
	if !b.auth.Authenticate(clientID, username, password) {
		b.log.Warn("auth failed", logger.ClientID(clientID))
		conn.Write(packet.NewConnAck(false, packet.BadUsernameOrPassword))
		return nil
	}

	if old, ok := b.GetSession(clientID); ok {
		old.mu.Lock()
		connected := old.Connected
		old.mu.Unlock()
		if connected {
			b.log.Info("disconnecting duplicate client", logger.ClientID(clientID))
			b.HandleDisconnect(old, false)
		}
	}

	sessionPresent := false
	var session *Session

	if cp.CleanSession {
		session = NewSession(clientID, true, cp.KeepAlive, conn)
	} else if existing, ok := b.GetSession(clientID); ok {
		session = existing
		sessionPresent = true
		session.mu.Lock()
		session.Conn = conn
		session.Connected = true
		session.KeepAlive = cp.KeepAlive
		session.mu.Unlock()
	} else {
		session = NewSession(clientID, false, cp.KeepAlive, conn)
	}

	if cp.WillFlag {
		session.mu.Lock()
		session.HasWill = true
		if cp.WillTopic != nil {
			session.WillTopic = *cp.WillTopic
		}
		if cp.WillMessage != nil {
			session.WillMessage = []byte(*cp.WillMessage)
		}
		session.WillQoS = packet.QoSLevel(cp.WillQoS)
		session.WillRetain = cp.WillRetain
		session.mu.Unlock()
	}
	if username != "" {
		session.mu.Lock()
		session.Username = username
		session.mu.Unlock()
	}

	b.storeSession(session)

	willTopic := ""
	if cp.WillFlag && cp.WillTopic != nil {
		willTopic = *cp.WillTopic
	}
	if !b.hooks.fireConnect(b.log.Logger, clientID, username, willTopic) {
		b.log.Info("on_connect hook rejected client", logger.ClientID(clientID))
		session.mu.Lock()
		session.HasWill = false
		session.Connected = false
		session.mu.Unlock()
		conn.Write(packet.NewConnAck(false, packet.NotAuthorized))
		b.auth.CleanupClient(clientID)
		b.deleteSession(clientID)
		return nil
	}

	conn.Write(packet.NewConnAck(sessionPresent, packet.ConnectionAccepted))
	b.Stats.RecordMessageSent(4)

	if sessionPresent && !cp.CleanSession {
		b.Router.DeliverQueued(session)
	}

	return session
}

// readPacket reads one complete MQTT frame: fixed header byte, the
// variable-length remaining-length field (max 4 bytes), and exactly that
// many remaining bytes.
func readPacket(r *bufio.Reader) ([]byte, error) {
	firstByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	var remLenBytes [4]byte
	remainingLength := 0
	multiplier := 1
	count := 0

	for {
		if count >= 4 {
			return nil, &er.Err{Context: "readPacket", Message: er.ErrRemainingLengthExceeded}
		}
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		remLenBytes[count] = b
		count++
		remainingLength += int(b&0x7F) * multiplier
		multiplier *= 128
		if b&0x80 == 0 {
			break
		}
	}

	total := 1 + count + remainingLength
	raw := make([]byte, total)
	raw[0] = firstByte
	copy(raw[1:1+count], remLenBytes[:count])

	if _, err := io.ReadFull(r, raw[1+count:]); err != nil {
		return nil, err
	}
	return raw, nil
}

// connackCodeFor maps a CONNECT parse error to the closest CONNACK return
// code so malformed packets still get a protocol-correct rejection.
func connackCodeFor(err error) byte {
	switch {
	case errors.Is(err, er.ErrUnsupportedProtocolLevel), errors.Is(err, er.ErrUnsupportedProtocolName):
		return packet.UnacceptableProtocolVersion
	case errors.Is(err, er.ErrIdentifierRejected), errors.Is(err, er.ErrInvalidUTF8ClientID):
		return packet.IdentifierRejected
	case errors.Is(err, er.ErrPasswordWithoutUsername),
		errors.Is(err, er.ErrMalformedUsernameField),
		errors.Is(err, er.ErrMalformedPasswordField):
		return packet.BadUsernameOrPassword
	default:
		return packet.ServerUnavailable
	}
}
