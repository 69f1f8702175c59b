package interfaces

type ProducerHandler interface {
	PublishMessage(key, value []byte) error
	Close() error
}
