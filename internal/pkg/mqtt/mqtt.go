package mqtt

import (
	"context"
	"errors"
	"sync"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var ErrPublishTimeout = errors.New("mqtt publish timed out")

type service struct {
	client paho_mqtt.Client
	prefix string
	logger *zap.Logger

	// identifier -> model.RegisterDevice
	devices sync.Map
	// config topics already announced
	configured sync.Map
}

func WithDiscoveryPrefix(prefix string) func(*service) {
	return func(s *service) {
		s.prefix = prefix
	}
}

func WithLogger(l *zap.Logger) func(*service) {
	return func(s *service) {
		s.logger = l
	}
}

func New(client paho_mqtt.Client, opts ...func(*service)) *service {
	s := &service{
		client: client,
		prefix: "homeassistant",
		logger: zap.L(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewClient builds a paho client that reconnects on its own.
func NewClient(broker, clientID, username, password string) paho_mqtt.Client {
	opts := paho_mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetUsername(username).
		SetPassword(password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	return paho_mqtt.NewClient(opts)
}

func (s *service) Connect() error {
	token := s.client.Connect()
	res := token.WaitTimeout(time.Second * 5)
	if res {
		return token.Error()
	}
	if err := token.Error(); err != nil {
		return err
	}
	return errors.New("unable to connect in time")
}

func (s *service) Close() {
	s.client.Disconnect(250)
}

func wait(ctx context.Context, token paho_mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return errors.Join(ErrPublishTimeout, ctx.Err())
	}
}
