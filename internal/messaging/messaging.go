package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TrainQueue      = "train_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// TrainTaskPayload asks a worker to run the fine-tuning experiment stored
// with the run.
type TrainTaskPayload struct {
	RunId uuid.UUID
}

type Publisher interface {
	PublishTrainTask(ctx context.Context, payload TrainTaskPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}

var (
	_ Publisher = (*InMemoryQueue)(nil)
	_ Reciever  = (*InMemoryQueue)(nil)
	_ Publisher = (*RabbitMQPublisher)(nil)
	_ Reciever  = (*RabbitMQReceiver)(nil)
)
