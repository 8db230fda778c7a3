package ganglion

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/ganglion/internal/device"
	"github.com/srg/ganglion/internal/devicefactory"
	"github.com/srg/ganglion/pkg/config"
)

// NewTransport builds the transport selected by cfg.
func NewTransport(cfg *config.Config, logger *logrus.Logger) (device.Transport, error) {
	return devicefactory.NewTransport(cfg, logger)
}

// Open validates cfg, builds its transport and returns a session over it.
func Open(cfg *config.Config, logger *logrus.Logger) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = cfg.NewLogger()
	}
	transport, err := NewTransport(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewSession(transport, cfg, logger), nil
}
