package notifier

import (
	"fmt"

	"glucowatch/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTPublisher 状态显示设备推送（运动员佩戴/桌面显示硬件订阅自己的 topic）
type MQTTPublisher struct {
	client mqtt.Client
	cfg    *config.MQTTConfig
	logger *zap.Logger
}

// NewMQTTPublisher 创建并连接 MQTT 发布器
func NewMQTTPublisher(cfg *config.MQTTConfig, logger *zap.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &MQTTPublisher{
		client: client,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// PublishStatus 发布最新状态（retained，设备上线即可拿到最近一条）
func (p *MQTTPublisher) PublishStatus(athleteID string, payload []byte) error {
	topic := p.cfg.TopicPrefix + athleteID + "/status"

	token := p.client.Publish(topic, p.cfg.QoS, true, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Disconnect 断开连接
func (p *MQTTPublisher) Disconnect() {
	p.client.Disconnect(250)
}
