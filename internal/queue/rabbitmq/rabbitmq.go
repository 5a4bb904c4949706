package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type RabbitMQExchange struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Kind       string
}

type RabbitMQConfig struct {
	Username  string
	Password  string
	Url       string
	Secure    bool
	Exchanges []*RabbitMQExchange
}

type RabbitMQ struct {
	logger     *zap.Logger
	config     *RabbitMQConfig
	connection *amqp.Connection
	channel    *amqp.Channel
}

func NewRabbitMQ(config *RabbitMQConfig, l *zap.Logger) *RabbitMQ {
	return &RabbitMQ{
		config: config,
		logger: l,
	}
}

func (r *RabbitMQ) Connect() (*amqp.Connection, error) {
	r.logger.Sugar().Debugw("Connecting to RabbitMQ", zap.String("url", r.config.Url))
	conn, err := amqp.Dial(buildConnectionUrl(r.config))
	if err != nil {
		r.logger.Sugar().Errorw("Failed to connect to RabbitMQ", zap.Error(err))
		return nil, err
	}
	r.connection = conn

	ch, err := conn.Channel()
	if err != nil {
		r.logger.Sugar().Errorw("Failed to open a channel", zap.Error(err))
		return nil, err
	}
	r.channel = ch

	for _, e := range r.config.Exchanges {
		r.logger.Sugar().Debugw("Declaring exchange", zap.String("exchange", e.Name), zap.String("kind", e.Kind))
		err = r.channel.ExchangeDeclare(e.Name, e.Kind, e.Durable, e.AutoDelete, false, false, nil)
		if err != nil {
			return nil, err
		}
	}
	return conn, nil
}

func (r *RabbitMQ) Publish(ctx context.Context, exchangeName string, routingKey string, publishing amqp.Publishing) error {
	if r.channel == nil {
		return fmt.Errorf("rabbitmq channel is not open")
	}
	return r.channel.PublishWithContext(ctx, exchangeName, routingKey, false, false, publishing)
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.logger.Sugar().Warnw("Failed to close channel", zap.Error(err))
		}
	}
	if r.connection != nil {
		return r.connection.Close()
	}
	return nil
}

func buildConnectionUrl(cfg *RabbitMQConfig) string {
	protocol := "amqp"
	if cfg.Secure {
		protocol = "amqps"
	}
	return fmt.Sprintf("%s://%s:%s@%s", protocol, cfg.Username, cfg.Password, cfg.Url)
}
