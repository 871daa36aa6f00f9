// Package emitter 把每个时间步的推理报告发布到 MQTT broker
package emitter

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"nnfoam/model"
)

var ErrNotConnected = errors.New("emitter: mqtt not connected")

// MQTTEmitter 报告发布到 <topic>/<runId>
type MQTTEmitter struct {
	cfg    model.MqttCfg
	runID  string
	Client mqtt.Client

	connectTimeout time.Duration
	newClient      func(*mqtt.ClientOptions) mqtt.Client

	mu        sync.Mutex
	published uint64
	errors    uint64
}

func NewMQTTEmitter(cfg model.MqttCfg, runID string) *MQTTEmitter {
	if cfg.Topic == "" {
		cfg.Topic = model.DefaultMqttTopic
	}
	return &MQTTEmitter{
		cfg:            cfg,
		runID:          runID,
		connectTimeout: 5 * time.Second,
		newClient:      mqtt.NewClient,
	}
}

func (e *MQTTEmitter) Topic() string {
	return fmt.Sprintf("%s/%s", e.cfg.Topic, e.runID)
}

// Connect 连接 broker，断线后由客户端自动重连。
// 首次连接超时或失败时停止客户端的后台重试，之后 Send 返回 ErrNotConnected。
func (e *MQTTEmitter) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID("nnfoam-" + e.runID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		log.WithFields(log.Fields{
			"broker": e.cfg.Broker,
			"error":  err,
		}).Warn("mqtt 连接断开，等待自动重连")
	}

	client := e.newClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(e.connectTimeout) {
		client.Disconnect(0)
		return fmt.Errorf("emitter: connect %s: timeout", e.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("emitter: connect %s: %w", e.cfg.Broker, err)
	}
	e.Client = client
	log.WithFields(log.Fields{
		"broker": e.cfg.Broker,
		"topic":  e.Topic(),
	}).Info("mqtt 连接成功")
	return nil
}

// Publish 实现 coupler.Sink，发布失败只记录，不影响计算
func (e *MQTTEmitter) Publish(report *model.StepReport) {
	if err := e.Send(report); err != nil {
		log.WithError(err).WithField("timeName", report.Time).Warn("发布推理报告失败")
	}
}

func (e *MQTTEmitter) Send(report *model.StepReport) error {
	if e.Client == nil || !e.Client.IsConnectionOpen() {
		e.countError()
		return ErrNotConnected
	}
	payload, err := json.Marshal(report)
	if err != nil {
		e.countError()
		return fmt.Errorf("emitter: marshal report: %w", err)
	}

	token := e.Client.Publish(e.Topic(), e.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return errors.New("emitter: publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("emitter: publish: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()
	log.WithFields(log.Fields{
		"topic": e.Topic(),
		"size":  len(payload),
	}).Debug("推理报告已发布")
	return nil
}

// Stats 已发布和失败的条数
func (e *MQTTEmitter) Stats() (published, failed uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.published, e.errors
}

func (e *MQTTEmitter) Disconnect() {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250)
	}
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
