package broker

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gridbot/internal/config"
	"gridbot/internal/models"
)

// SupportedBrokers - список поддерживаемых типов брокеров
var SupportedBrokers = []string{
	TypeStreaming,
	TypeBridge,
}

// NewBroker создаёт брокера по типу из расшифрованных учётных данных
func NewBroker(cfg *config.BrokerConfig, cred *models.Credential, logger *zap.Logger) (Broker, error) {
	switch strings.ToLower(cred.Broker) {
	case TypeStreaming:
		if cred.BrokerToken == "" {
			return nil, ErrEmptyToken
		}
		return NewStreamingBroker(cfg.StreamingURL, cfg.StreamingAppID, cred.BrokerToken, logger), nil
	case TypeBridge:
		return NewBridgeBroker(cfg.BridgeURL, cred.BrokerLogin, cfg.BridgeTimeout, logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBroker, cred.Broker)
	}
}

// IsSupported проверяет, поддерживается ли тип брокера
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, supported := range SupportedBrokers {
		if name == supported {
			return true
		}
	}
	return false
}
