// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"fmt"

	"github.com/overwatch-ops/overwatch/lib/escalation"
	"github.com/overwatch-ops/overwatch/lib/notify"
)

// buildNotifier assembles the configured channels plus extra into one
// notifier. It returns nil when no channel is configured.
func (s *Service) buildNotifier(extra []escalation.Notifier) (escalation.Notifier, error) {
	settings := s.cfg.Notify
	var channels notify.Multi

	if settings.Log {
		channels = append(channels, notify.Log{Logger: s.logger})
	}
	if settings.SMTP.Enabled {
		var username, password string
		if path := settings.SMTP.CredentialsFile; path != "" {
			var err error
			username, password, err = notify.LoadCredentials(path)
			if err != nil {
				return nil, fmt.Errorf("service: %w", err)
			}
		}
		mailer, err := notify.NewSMTP(notify.SMTPConfig{
			Host:      settings.SMTP.Host,
			Port:      settings.SMTP.Port,
			From:      settings.SMTP.From,
			Username:  username,
			Password:  password,
			Addresses: settings.SMTP.Addresses,
			Clock:     s.clock,
		})
		if err != nil {
			return nil, fmt.Errorf("service: %w", err)
		}
		channels = append(channels, mailer)
	}
	if settings.Kafka.Enabled {
		publisher, err := notify.NewKafka(notify.KafkaConfig{
			Brokers: settings.Kafka.Brokers,
			Topic:   settings.Kafka.Topic,
			Clock:   s.clock,
		})
		if err != nil {
			return nil, fmt.Errorf("service: %w", err)
		}
		s.closers = append(s.closers, publisher)
		channels = append(channels, publisher)
	}
	channels = append(channels, extra...)

	switch len(channels) {
	case 0:
		return nil, nil
	case 1:
		return channels[0], nil
	}
	return channels, nil
}
