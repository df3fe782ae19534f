package integrationtests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"sentiment-backend/internal/messaging"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRabbitMQ(t *testing.T) {
	skipInShortMode(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	publisher, receiver := setupRabbitMQContainer(t, ctx)

	t.Run("Publish and Receive TrainTask", func(t *testing.T) {
		payload := messaging.TrainTaskPayload{RunId: uuid.New()}
		err := publisher.PublishTrainTask(ctx, payload)
		require.NoError(t, err)

		select {
		case task := <-receiver.Tasks():
			assert.Equal(t, messaging.TrainQueue, task.Type())

			var receivedPayload messaging.TrainTaskPayload
			err := json.Unmarshal(task.Payload(), &receivedPayload)
			require.NoError(t, err)
			assert.Equal(t, payload, receivedPayload)

			err = task.Ack()
			require.NoError(t, err)
		case <-time.After(4 * time.Second):
			t.Fatal("Timed out waiting for task")
		}
	})

	t.Run("Tasks Are Delivered In Order", func(t *testing.T) {
		payloads := []messaging.TrainTaskPayload{{RunId: uuid.New()}, {RunId: uuid.New()}, {RunId: uuid.New()}}
		for _, payload := range payloads {
			require.NoError(t, publisher.PublishTrainTask(ctx, payload))
		}

		for _, want := range payloads {
			select {
			case task := <-receiver.Tasks():
				var got messaging.TrainTaskPayload
				require.NoError(t, json.Unmarshal(task.Payload(), &got))
				assert.Equal(t, want, got)
				require.NoError(t, task.Ack())
			case <-time.After(4 * time.Second):
				t.Fatal("Timed out waiting for task")
			}
		}
	})
}
