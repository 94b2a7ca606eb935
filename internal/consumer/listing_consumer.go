package consumer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fjod/go_marketplace/internal/metrics"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	TopicListingUpdates = "listing-updates"
	groupID             = "marketplace-listing-cache"
)

// ListingUpdate is published by the catalog whenever a listing or seller changes.
// Either id may be empty.
type ListingUpdate struct {
	ProductID string `json:"product_id"`
	SellerID  string `json:"seller_id"`
}

// Invalidator drops cached catalog entries. listing.Reader implements it.
type Invalidator interface {
	InvalidateProduct(productID string)
	InvalidateSeller(sellerID string)
}

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Consumer struct {
	cache  Invalidator
	reader Reader
	log    *zap.Logger
}

func NewKafkaReader(brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    TopicListingUpdates,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
}

func NewConsumer(cache Invalidator, reader Reader, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{cache: cache, reader: reader, log: log}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx)
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Warn("error closing kafka reader", zap.Error(err))
	}
}

func (c *Consumer) processMessage(ctx context.Context) {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		metrics.ListingUpdatesConsumed.WithLabelValues("read_error").Inc()
		c.log.Error("error reading message", zap.Error(err))
		return
	}

	var update ListingUpdate
	if err := json.Unmarshal(m.Value, &update); err != nil {
		metrics.ListingUpdatesConsumed.WithLabelValues("invalid").Inc()
		c.log.Warn("error parsing listing update",
			zap.Int64("offset", m.Offset),
			zap.Error(err),
		)
		return
	}
	if update.ProductID == "" && update.SellerID == "" {
		metrics.ListingUpdatesConsumed.WithLabelValues("invalid").Inc()
		c.log.Warn("listing update names no product or seller", zap.Int64("offset", m.Offset))
		return
	}

	if update.ProductID != "" {
		c.cache.InvalidateProduct(update.ProductID)
	}
	if update.SellerID != "" {
		c.cache.InvalidateSeller(update.SellerID)
	}
	metrics.ListingUpdatesConsumed.WithLabelValues("ok").Inc()
	c.log.Debug("listing update applied",
		zap.String("product_id", update.ProductID),
		zap.String("seller_id", update.SellerID),
	)
}
