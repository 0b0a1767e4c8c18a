package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueuePrerender schedules a job once; a duplicate job id is rejected by
// asynq with asynq.ErrTaskIDConflict.
func (c *Client) EnqueuePrerender(ctx context.Context, payload PrerenderPayload) (*asynq.TaskInfo, error) {
	task, err := NewPrerenderTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
