// Package events broadcasts slot transitions over Redis pub/sub so other
// services can react without polling the database.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rijexamenmeldingen/sbat-monitor/internal/model"
)

const ChannelSlotChanged = "EVENT_SLOT_CHANGED"

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type Publisher struct {
	rdb redisPublisher
}

func NewPublisher(rdb redisPublisher) *Publisher {
	return &Publisher{rdb: rdb}
}

// Publish sends ev on ChannelSlotChanged.
func (p *Publisher) Publish(ctx context.Context, ev model.SlotEvent) error {
	payload, err := encode(ev)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, ChannelSlotChanged, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ChannelSlotChanged, err)
	}
	return nil
}

type envelope struct {
	Type string `json:"type"`
	model.SlotEvent
}

func encode(ev model.SlotEvent) ([]byte, error) {
	payload, err := json.Marshal(envelope{Type: ChannelSlotChanged, SlotEvent: ev})
	if err != nil {
		return nil, fmt.Errorf("encode slot event: %w", err)
	}
	return payload, nil
}
