package kafka

import (
	"encoding/json"
	"strings"
	"time"

	"IMCore/logger"
	"IMCore/module/chat/model"

	"github.com/Shopify/sarama"
)

// Archive dispatch: every durably persisted batch is mirrored to a
// Kafka topic for downstream consumers (analytics, offline push).
// Best effort: producer errors are logged, the flush result stands.

const ArchiveTopic = "im.message.archive"

var (
	KafkaClient sarama.Client
	Producer    sarama.SyncProducer
)

type Config struct {
	Brokers             []string
	ProducerRetries     int
	ProducerCompression string // snappy/lz4/zstd/none
}

func BuildBaseConfig(c Config) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_0_0

	// Producer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	retries := c.ProducerRetries
	if retries <= 0 {
		retries = 1
	}
	cfg.Producer.Retry.Max = retries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // key controls the partition

	switch strings.ToLower(c.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	// Net
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

func InitKafkaClient(c Config) error {
	cfg := BuildBaseConfig(c)
	cli, err := sarama.NewClient(c.Brokers, cfg)
	if err != nil {
		return err
	}
	KafkaClient = cli
	return nil
}

func InitSyncProducerFromClient() error {
	p, err := sarama.NewSyncProducerFromClient(KafkaClient)
	if err != nil {
		return err
	}
	Producer = p
	return nil
}

func CloseProducer() {
	if Producer != nil {
		_ = Producer.Close()
	}
	if KafkaClient != nil {
		_ = KafkaClient.Close()
	}
}

type archiveRecord struct {
	ConvKey  string           `json:"conv_key"`
	Messages []*model.Message `json:"messages"`
	FlushTS  int64            `json:"flush_ts"`
}

// ArchiveBatch publishes one persisted batch keyed by conversation so
// a conversation's batches land on one partition in order.
func ArchiveBatch(convKey string, msgs []*model.Message) {
	if Producer == nil {
		return
	}
	b, err := json.Marshal(archiveRecord{ConvKey: convKey, Messages: msgs, FlushTS: time.Now().UnixMilli()})
	if err != nil {
		logger.Errorf("[kafka] marshal archive conv=%s: %v", convKey, err)
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: ArchiveTopic,
		Key:   sarama.StringEncoder(convKey),
		Value: sarama.ByteEncoder(b),
	}
	if _, _, err := Producer.SendMessage(msg); err != nil {
		logger.Errorf("[kafka] archive send conv=%s n=%d: %v", convKey, len(msgs), err)
	}
}
