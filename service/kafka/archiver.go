package kafka

import (
	"encoding/json"
	"fmt"
	"hash/crc32"

	"github.com/Shopify/sarama"

	"socialgw/logger"
	"socialgw/service/relay"
	"socialgw/tools/errs"
	"socialgw/tools/safe"
)

// GenTopics 按模板展开归档 topic 列表，如 im.archive-%02d x 8
func GenTopics(pattern string, count int) []string {
	if count <= 0 {
		count = 1
	}
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, fmt.Sprintf(pattern, i))
	}
	return out
}

// SelectTopic 同一会话固定落同一 topic，保证会话内归档有序
func SelectTopic(roomID string, topics []string) string {
	if len(topics) == 1 {
		return topics[0]
	}
	h := crc32.ChecksumIEEE([]byte(roomID))
	return topics[int(h)%len(topics)]
}

// Archiver 消息异步归档生产者，实现 relay.Archiver
// 归档失败只记日志，绝不反压在线转发路径
type Archiver struct {
	producer sarama.AsyncProducer
	topics   []string
}

func NewArchiver(brokers []string, topicPattern string, topicCount int) (*Archiver, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "create kafka producer")
	}
	a := &Archiver{
		producer: producer,
		topics:   GenTopics(topicPattern, topicCount),
	}
	safe.Go("kafka-archiver-errors", func() {
		for e := range producer.Errors() {
			logger.Errorf("[kafka] archive failed: topic=%s err=%v", e.Msg.Topic, e.Err)
		}
	})
	return a, nil
}

// Archive 非阻塞投递；输入队列满直接丢弃本条归档
func (a *Archiver) Archive(msg *relay.StoredMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("[kafka] marshal archive failed: %v", err)
		return
	}
	pm := &sarama.ProducerMessage{
		Topic: SelectTopic(msg.RoomID, a.topics),
		Key:   sarama.StringEncoder(msg.RoomID),
		Value: sarama.ByteEncoder(body),
	}
	select {
	case a.producer.Input() <- pm:
	default:
		logger.Warnf("[kafka] input full, drop archive: msg=%s", msg.ID)
	}
}

func (a *Archiver) Close() error {
	return a.producer.Close()
}
