package emitter

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"nnfoam/model"
)

type fakeToken struct {
	err     error
	pending bool
}

func (t *fakeToken) Wait() bool                     { return !t.pending }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.pending }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

// 只实现用到的方法
type fakeClient struct {
	mqtt.Client
	open     bool
	err      error
	topics   []string
	payloads [][]byte

	connect     *fakeToken
	disconnects int
}

func (c *fakeClient) Connect() mqtt.Token { return c.connect }
func (c *fakeClient) Disconnect(uint)     { c.disconnects++ }

func (c *fakeClient) IsConnectionOpen() bool { return c.open }
func (c *fakeClient) IsConnected() bool      { return c.open }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload.([]byte))
	return &fakeToken{err: c.err}
}

func TestSend(t *testing.T) {
	e := NewMQTTEmitter(model.MqttCfg{Broker: "localhost:1883"}, "run-1")
	client := &fakeClient{open: true}
	e.Client = client

	if err := e.Send(&model.StepReport{RunID: "run-1", Step: 3, Time: "0.015", Success: true}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(client.topics) != 1 || client.topics[0] != "nnfoam/steps/run-1" {
		t.Fatalf("unexpected topics %v", client.topics)
	}
	var report model.StepReport
	if err := json.Unmarshal(client.payloads[0], &report); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if report.Step != 3 || report.Time != "0.015" {
		t.Fatalf("unexpected payload %+v", report)
	}
	published, failed := e.Stats()
	if published != 1 || failed != 0 {
		t.Fatalf("stats: %d published, %d failed", published, failed)
	}
}

func TestSendFailures(t *testing.T) {
	e := NewMQTTEmitter(model.MqttCfg{Topic: "cfd"}, "run-2")
	if err := e.Send(&model.StepReport{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	broken := errors.New("broker gone")
	e.Client = &fakeClient{open: true, err: broken}
	if err := e.Send(&model.StepReport{}); !errors.Is(err, broken) {
		t.Fatalf("expected publish error, got %v", err)
	}

	e.Client = &fakeClient{open: false}
	e.Publish(&model.StepReport{Time: "1"})

	published, failed := e.Stats()
	if published != 0 || failed != 3 {
		t.Fatalf("stats: %d published, %d failed", published, failed)
	}
	if e.Topic() != "cfd/run-2" {
		t.Fatalf("unexpected topic %s", e.Topic())
	}
}

func TestConnectFailureStopsRetry(t *testing.T) {
	cases := map[string]*fakeToken{
		"timeout": {pending: true},
		"refused": {err: errors.New("connection refused")},
	}
	for name, token := range cases {
		e := NewMQTTEmitter(model.MqttCfg{Broker: "127.0.0.1:1"}, "run-3")
		client := &fakeClient{connect: token}
		e.newClient = func(*mqtt.ClientOptions) mqtt.Client { return client }

		if err := e.Connect(); err == nil {
			t.Fatalf("%s: expected connect error", name)
		}
		if client.disconnects != 1 {
			t.Errorf("%s: client disconnected %d times, want 1", name, client.disconnects)
		}
		if e.Client != nil {
			t.Errorf("%s: failed client kept on emitter", name)
		}
		if err := e.Send(&model.StepReport{}); !errors.Is(err, ErrNotConnected) {
			t.Errorf("%s: expected ErrNotConnected, got %v", name, err)
		}
	}
}

func TestConnectUnreachableBroker(t *testing.T) {
	e := NewMQTTEmitter(model.MqttCfg{Broker: "127.0.0.1:1"}, "run-4")
	e.connectTimeout = 200 * time.Millisecond
	start := time.Now()
	if err := e.Connect(); err == nil {
		t.Fatal("expected connect error")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("connect took %v", time.Since(start))
	}
	if e.Client != nil {
		t.Error("failed client kept on emitter")
	}
}

func TestConnectSuccess(t *testing.T) {
	e := NewMQTTEmitter(model.MqttCfg{Broker: "localhost:1883"}, "run-5")
	client := &fakeClient{open: true, connect: &fakeToken{}}
	e.newClient = func(*mqtt.ClientOptions) mqtt.Client { return client }
	if err := e.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if e.Client != client || client.disconnects != 0 {
		t.Fatalf("unexpected client state: %d disconnects", client.disconnects)
	}
	e.Disconnect()
	if client.disconnects != 1 {
		t.Errorf("Disconnect did not reach client")
	}
}
