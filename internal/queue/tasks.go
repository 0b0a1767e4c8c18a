package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypePrerender = "image:prerender"

type PrerenderPayload struct {
	JobID       string    `json:"job_id"`
	Paths       []string  `json:"paths"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewPrerenderTask(payload PrerenderPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal prerender payload: %w", err)
	}
	return asynq.NewTask(TypePrerender, body), nil
}

func ParsePrerenderPayload(task *asynq.Task) (PrerenderPayload, error) {
	var payload PrerenderPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return PrerenderPayload{}, fmt.Errorf("unmarshal prerender payload: %w", err)
	}
	if payload.JobID == "" {
		return PrerenderPayload{}, fmt.Errorf("prerender payload without job_id")
	}
	return payload, nil
}
