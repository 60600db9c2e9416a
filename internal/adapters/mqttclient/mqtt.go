// Package mqttclient is a broker-based transport: every participant publishes
// to its own topics under mimic/<session>/ and subscribes to the rest.
package mqttclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Mimic/internal/domain"
	"github.com/dkeye/Mimic/internal/transport"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

const (
	topicPresence = "presence"
	topicData     = "data"
	topicSpeaking = "speaking"

	qosUnreliable byte = 0
	qosReliable   byte = 1

	publishTimeout = 2 * time.Second
)

var ErrNotConnected = errors.New("mqtt not connected")

type presence struct {
	Metadata string `json:"metadata"`
}

// Topic builds mimic/<session>/<kind>/<participant>.
func Topic(session, kind string, id domain.ParticipantID) string {
	return fmt.Sprintf("mimic/%s/%s/%s", session, kind, id)
}

// ParseTopic is the inverse of Topic.
func ParseTopic(topic string) (session, kind string, id domain.ParticipantID, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "mimic" || parts[3] == "" {
		return "", "", "", false
	}
	return parts[1], parts[2], domain.ParticipantID(parts[3]), true
}

type Dialer struct {
	// NewClient defaults to mqtt.NewClient.
	NewClient func(*mqtt.ClientOptions) mqtt.Client
}

func NewDialer() *Dialer {
	return &Dialer{NewClient: mqtt.NewClient}
}

// Connect dials the broker at ep.URL, authenticating with the participant
// token, and announces presence. The presence topic is cleared by the broker
// through the last will if the connection drops.
func (d *Dialer) Connect(ctx context.Context, ep transport.Endpoint) (transport.Conn, error) {
	if ep.Session == "" || ep.Participant == "" {
		return nil, fmt.Errorf("%w: session and participant required", transport.ErrConnect)
	}
	c := &Conn{
		session: ep.Session,
		self:    ep.Participant,
		events:  transport.NewEventStream(64),
		known:   make(map[domain.ParticipantID]struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(ep.URL)
	opts.SetClientID("mimic-" + string(ep.Participant))
	opts.SetUsername(string(ep.Participant))
	opts.SetPassword(ep.Token)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetWill(c.topic(topicPresence), "", qosReliable, true)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("module", "mqttclient").Msg("connection lost")
		c.events.Fail(err)
	}

	newClient := d.NewClient
	if newClient == nil {
		newClient = mqtt.NewClient
	}
	c.client = newClient(opts)

	if err := wait(ctx, c.client.Connect()); err != nil {
		c.events.Close()
		return nil, fmt.Errorf("%w: %w", transport.ErrConnect, err)
	}
	filter := fmt.Sprintf("mimic/%s/+/+", ep.Session)
	if err := wait(ctx, c.client.Subscribe(filter, qosReliable, c.onMessage)); err != nil {
		c.client.Disconnect(250)
		c.events.Close()
		return nil, fmt.Errorf("%w: subscribe: %w", transport.ErrConnect, err)
	}
	if err := c.announce(""); err != nil {
		c.client.Disconnect(250)
		c.events.Close()
		return nil, fmt.Errorf("%w: %w", transport.ErrConnect, err)
	}
	log.Info().Str("module", "mqttclient").Str("session", ep.Session).Str("participant", string(ep.Participant)).Msg("connected")
	return c, nil
}

func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Conn struct {
	client  mqtt.Client
	session string
	self    domain.ParticipantID
	events  *transport.EventStream

	mu    sync.Mutex
	known map[domain.ParticipantID]struct{}

	closeOnce sync.Once
}

func (c *Conn) topic(kind string) string { return Topic(c.session, kind, c.self) }

func (c *Conn) LocalID() domain.ParticipantID { return c.self }

func (c *Conn) Events() <-chan transport.Event { return c.events.C() }

// Publish sends on QoS 0 without waiting, or on QoS 1 and waits for the
// broker acknowledgement when reliable.
func (c *Conn) Publish(payload []byte, opts transport.PublishOptions) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	if !opts.Reliable {
		c.client.Publish(c.topic(topicData), qosUnreliable, false, payload)
		return nil
	}
	tok := c.client.Publish(c.topic(topicData), qosReliable, false, payload)
	if !tok.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	return tok.Error()
}

func (c *Conn) SetMetadata(metadata string) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return c.announce(metadata)
}

func (c *Conn) announce(metadata string) error {
	b, err := json.Marshal(presence{Metadata: metadata})
	if err != nil {
		return err
	}
	tok := c.client.Publish(c.topic(topicPresence), qosReliable, true, b)
	if !tok.WaitTimeout(publishTimeout) {
		return fmt.Errorf("presence timeout")
	}
	return tok.Error()
}

func (c *Conn) PublishAudio(context.Context, transport.AudioSource) (transport.AudioPublication, error) {
	return nil, transport.ErrAudioUnsupported
}

// Close clears the retained presence and disconnects. Idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		if c.client.IsConnectionOpen() {
			tok := c.client.Publish(c.topic(topicPresence), qosReliable, true, []byte{})
			tok.WaitTimeout(publishTimeout)
			c.client.Disconnect(250)
		}
		c.events.Close()
		log.Info().Str("module", "mqttclient").Msg("disconnected")
	})
	return nil
}

func (c *Conn) onMessage(_ mqtt.Client, m mqtt.Message) {
	session, kind, id, ok := ParseTopic(m.Topic())
	if !ok || session != c.session || id == c.self {
		return
	}
	switch kind {
	case topicPresence:
		c.onPresence(id, m.Payload())
	case topicData:
		c.events.Emit(transport.Event{Kind: transport.DataReceived, Participant: id, Payload: m.Payload()})
	case topicSpeaking:
		speaking := strings.TrimSpace(string(m.Payload())) == "true"
		c.events.Emit(transport.Event{Kind: transport.SpeakingChanged, Participant: id, Speaking: speaking})
	default:
		log.Debug().Str("module", "mqttclient").Str("topic", m.Topic()).Msg("unknown topic")
	}
}

// onPresence maps retained presence to membership: an empty payload is a
// leave, the first announcement a join, later ones metadata changes.
func (c *Conn) onPresence(id domain.ParticipantID, payload []byte) {
	c.mu.Lock()
	_, seen := c.known[id]
	if len(payload) == 0 {
		delete(c.known, id)
		c.mu.Unlock()
		if seen {
			c.events.Emit(transport.Event{Kind: transport.ParticipantLeft, Participant: id})
		}
		return
	}
	c.known[id] = struct{}{}
	c.mu.Unlock()

	var p presence
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Debug().Err(err).Str("module", "mqttclient").Str("participant", string(id)).Msg("bad presence")
	}
	kind := transport.MetadataChanged
	if !seen {
		kind = transport.ParticipantJoined
	}
	c.events.Emit(transport.Event{Kind: kind, Participant: id, Metadata: p.Metadata})
}
