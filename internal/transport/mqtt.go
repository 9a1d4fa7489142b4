package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTT connection constants.
const (
	mqttConnectTimeout    = 10 * time.Second
	mqttPublishTimeout    = 5 * time.Second
	mqttResponseTimeout   = 5 * time.Second
	mqttDisconnectQuiesce = 1000 // milliseconds
	mqttKeepAlive         = 60 * time.Second
	mqttTLSMinVersion     = tls.VersionTLS12
)

// MQTTConfig configures a request/response instrument connection over an
// MQTT broker, used for instruments behind a gateway rather than on a
// direct socket.
type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// BaseTopic is the instrument's topic prefix. Commands go to
	// <base>/cmd, responses come back on <base>/resp.
	BaseTopic string `yaml:"base_topic"`

	// QoS for command and response messages.
	QoS byte `yaml:"qos"`

	// ResponseTimeout bounds the wait for a correlated response.
	ResponseTimeout time.Duration `yaml:"response_timeout"`

	// ErrorQuery is the command used by CheckOperation. Defaults to
	// "SYST:ERR?".
	ErrorQuery string `yaml:"error_query"`

	// DisableErrorQuery makes CheckOperation a no-op.
	DisableErrorQuery bool `yaml:"disable_error_query"`
}

// commandMessage is the wire envelope published to <base>/cmd.
type commandMessage struct {
	ID      string `json:"id"`
	Command string `json:"cmd"`
	// Reply is false for fire-and-forget writes; the gateway skips the
	// response message.
	Reply bool `json:"reply"`
}

// responseMessage is the wire envelope received on <base>/resp.
type responseMessage struct {
	ID       string `json:"id"`
	Response string `json:"resp"`
	Error    string `json:"error,omitempty"`
}

// MQTTTransport implements Transport over an MQTT request/response pair
// of topics with correlation ids.
//
// All methods are safe for concurrent use; responses are matched to
// in-flight requests by id, so overlapping queries do not cross.
type MQTTTransport struct {
	cfg MQTTConfig

	mu      sync.Mutex
	client  pahomqtt.Client
	pending map[string]chan responseMessage
}

// NewMQTT creates a closed MQTT transport.
func NewMQTT(cfg MQTTConfig) *MQTTTransport {
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = mqttResponseTimeout
	}
	if cfg.ErrorQuery == "" {
		cfg.ErrorQuery = defaultErrorQuery
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "instrument-core-" + uuid.NewString()[:8]
	}
	return &MQTTTransport{
		cfg:     cfg,
		pending: make(map[string]chan responseMessage),
	}
}

// Open implements Transport: connect to the broker and subscribe to the
// instrument's response topic.
func (t *MQTTTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil && t.client.IsConnected() {
		return nil
	}

	opts := t.buildOptions()
	client := pahomqtt.NewClient(opts)

	token := client.Connect()
	if !waitToken(ctx, token, mqttConnectTimeout) {
		return fmt.Errorf("connecting to broker %s:%d: timeout", t.cfg.Host, t.cfg.Port)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to broker %s:%d: %w", t.cfg.Host, t.cfg.Port, err)
	}

	respTopic := t.cfg.BaseTopic + "/resp"
	sub := client.Subscribe(respTopic, t.cfg.QoS, t.handleResponse)
	if !waitToken(ctx, sub, mqttConnectTimeout) || sub.Error() != nil {
		client.Disconnect(mqttDisconnectQuiesce)
		return fmt.Errorf("subscribing to %s: %v", respTopic, sub.Error())
	}

	t.client = client
	return nil
}

func (t *MQTTTransport) buildOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if t.cfg.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: mqttTLSMinVersion})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, t.cfg.Host, t.cfg.Port))
	opts.SetClientID(t.cfg.ClientID)
	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
		opts.SetPassword(t.cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetKeepAlive(mqttKeepAlive)

	// Responses for requests in flight across a reconnect are lost; the
	// property retry machinery reissues the command.
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		c.Subscribe(t.cfg.BaseTopic+"/resp", t.cfg.QoS, t.handleResponse)
	})

	return opts
}

// handleResponse routes a response message to its waiting request.
func (t *MQTTTransport) handleResponse(_ pahomqtt.Client, msg pahomqtt.Message) {
	var resp responseMessage
	if err := json.Unmarshal(msg.Payload(), &resp); err != nil || resp.ID == "" {
		return
	}

	t.mu.Lock()
	ch, ok := t.pending[resp.ID]
	if ok {
		delete(t.pending, resp.ID)
	}
	t.mu.Unlock()

	if ok {
		ch <- resp
	}
}

// Close implements Transport.
func (t *MQTTTransport) Close(context.Context) error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.pending = make(map[string]chan responseMessage)
	t.mu.Unlock()

	if client != nil {
		client.Disconnect(mqttDisconnectQuiesce)
	}
	return nil
}

// Reopen implements Transport.
func (t *MQTTTransport) Reopen(ctx context.Context) error {
	if err := t.Close(ctx); err != nil {
		return err
	}
	return t.Open(ctx)
}

// Connected implements Transport.
func (t *MQTTTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client != nil && t.client.IsConnected()
}

// Query implements Transport: publish the command with a correlation id
// and wait for the matching response.
func (t *MQTTTransport) Query(ctx context.Context, cmd string) (string, error) {
	id := uuid.NewString()
	ch := make(chan responseMessage, 1)

	t.mu.Lock()
	client := t.client
	if client != nil {
		t.pending[id] = ch
	}
	t.mu.Unlock()
	if client == nil {
		return "", ErrClosed
	}

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if err := t.publish(ctx, client, commandMessage{ID: id, Command: cmd, Reply: true}); err != nil {
		return "", err
	}

	timer := time.NewTimer(t.cfg.ResponseTimeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if resp.Error != "" {
			return "", fmt.Errorf("gateway error for %q: %s", cmd, resp.Error)
		}
		return resp.Response, nil
	case <-timer.C:
		return "", fmt.Errorf("no response to %q within %v", cmd, t.cfg.ResponseTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Send implements Transport: publish the command fire-and-forget.
func (t *MQTTTransport) Send(ctx context.Context, line string) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return ErrClosed
	}
	return t.publish(ctx, client, commandMessage{ID: uuid.NewString(), Command: line})
}

// CheckOperation implements Transport.
func (t *MQTTTransport) CheckOperation(ctx context.Context) (string, error) {
	if t.cfg.DisableErrorQuery {
		return "", nil
	}
	resp, err := t.Query(ctx, t.cfg.ErrorQuery)
	if err != nil {
		return "", err
	}
	return ParseErrorResponse(resp), nil
}

func (t *MQTTTransport) publish(ctx context.Context, client pahomqtt.Client, msg commandMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}

	token := client.Publish(t.cfg.BaseTopic+"/cmd", t.cfg.QoS, false, payload)
	if !waitToken(ctx, token, mqttPublishTimeout) {
		return fmt.Errorf("publishing %q: timeout", msg.Command)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing %q: %w", msg.Command, err)
	}
	return nil
}

// waitToken waits for a paho token while honouring context cancellation.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return token.WaitTimeout(time.Until(deadline))
}
