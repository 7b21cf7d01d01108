// Package events publishes job lifecycle events over MQTT so dashboards
// and other consumers can follow transcription progress live.
package events

import (
	"encoding/json"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const topicPrefix = "speacher/jobs/"

// Options configure the MQTT connection.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	Log       zerolog.Logger
}

// Publisher pushes job progress events to an MQTT broker. A nil
// *Publisher is valid and drops all events, so callers never need to
// branch on whether eventing is configured.
type Publisher struct {
	conn      mqtt.Client
	connected atomic.Bool
	log       zerolog.Logger
}

// Connect dials the broker and returns a publisher.
func Connect(opts Options) (*Publisher, error) {
	p := &Publisher{log: opts.Log}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	p.conn = mqtt.NewClient(clientOpts)
	token := p.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}
	return p, nil
}

// JobEvent is the payload published for every job state change.
type JobEvent struct {
	JobID       string  `json:"job_id"`
	OwnerID     string  `json:"user_id"`
	Provider    string  `json:"provider"`
	Status      string  `json:"status"`
	Progress    int     `json:"progress"`
	CurrentStep string  `json:"current_step"`
	Cost        float64 `json:"cost_estimate"`
}

// Publish sends a job event on speacher/jobs/<job_id>. Fire and forget:
// publish failures are logged, never returned, since eventing is
// observability and must not affect the pipeline.
func (p *Publisher) Publish(ev JobEvent) {
	if p == nil {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Str("job_id", ev.JobID).Msg("marshal job event")
		return
	}

	token := p.conn.Publish(topicPrefix+ev.JobID, 0, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			p.log.Warn().Err(err).Str("job_id", ev.JobID).Msg("publish job event failed")
		}
	}()
}

// IsConnected reports broker connectivity for health checks.
func (p *Publisher) IsConnected() bool {
	if p == nil {
		return false
	}
	return p.connected.Load()
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.log.Info().Msg("disconnecting mqtt publisher")
	p.conn.Disconnect(1000)
}

func (p *Publisher) onConnect(mqtt.Client) {
	p.connected.Store(true)
	p.log.Info().Msg("mqtt connected")
}

func (p *Publisher) onConnectionLost(_ mqtt.Client, err error) {
	p.connected.Store(false)
	p.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}
