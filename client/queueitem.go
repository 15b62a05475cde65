package client

import (
	"sync"

	"github.com/richinsley/comfytryon/graphapi"
)

type QueueItem struct {
	PromptID   string                 `json:"prompt_id"`
	Number     int                    `json:"number"`
	NodeErrors map[string]interface{} `json:"node_errors"`
	Messages   chan PromptMessage     `json:"-"`
	Prompt     *graphapi.Prompt       `json:"-"`

	client   *ComfyClient
	done     chan struct{}
	doneOnce sync.Once
}

func newQueueItem(c *ComfyClient, prompt *graphapi.Prompt) *QueueItem {
	return &QueueItem{
		client:   c,
		Prompt:   prompt,
		Messages: make(chan PromptMessage),
		done:     make(chan struct{}),
	}
}

// send delivers a message unless the consumer has abandoned the item
func (qi *QueueItem) send(m PromptMessage) {
	select {
	case qi.Messages <- m:
	case <-qi.done:
	}
}

// abandon stops further delivery of messages to Messages
func (qi *QueueItem) abandon() {
	qi.doneOnce.Do(func() {
		close(qi.done)
	})
}
