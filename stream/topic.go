package stream

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xraph/delayed/job"
)

// Topic names:
//
//	job:<jobID>    events for one job
//	queue:<name>   job events for one queue
//	jobs           every job event
//	firehose       everything, sweeps included
const (
	TopicJobs     = "jobs"
	TopicFirehose = "firehose"
)

// JobTopic returns the topic name for a specific job.
func JobTopic(jobID string) string { return "job:" + jobID }

// QueueTopic returns the topic name for a queue.
func QueueTopic(q job.Queue) string { return "queue:" + string(q) }

// ValidateTopic checks whether a topic string is valid.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicJobs, TopicFirehose:
		return nil
	}

	kind, ident, ok := strings.Cut(topic, ":")
	if !ok || ident == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}
	switch kind {
	case "job":
		return nil
	case "queue":
		if _, err := job.ParseQueue(ident); err != nil {
			return fmt.Errorf("stream: invalid topic %q: %w", topic, err)
		}
		return nil
	default:
		return fmt.Errorf("stream: unknown topic kind %q", kind)
	}
}

// topicsFor lists every topic evt is delivered on.
func topicsFor(evt *Event, q job.Queue) []string {
	topics := []string{TopicFirehose}
	if strings.HasPrefix(string(evt.Type), "job.") {
		topics = append(topics, TopicJobs)
	}
	if q != "" {
		topics = append(topics, QueueTopic(q))
	}
	if evt.Topic != "" {
		topics = append(topics, evt.Topic)
	}
	return topics
}

// topicRegistry maps topics to subscriber sets. It is safe for concurrent
// use.
type topicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber // topic → subscriberID → subscriber
}

func newTopicRegistry() *topicRegistry {
	return &topicRegistry{topics: make(map[string]map[string]*Subscriber)}
}

func (tr *topicRegistry) subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
}

// remove drops a subscriber from every topic and cleans up empty topics.
func (tr *topicRegistry) remove(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for topic, subs := range tr.topics {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(tr.topics, topic)
		}
	}
}

// broadcast delivers evt once to every subscriber of any of topics and
// returns how many deliveries succeeded and how many were dropped.
func (tr *topicRegistry) broadcast(topics []string, evt *Event) (delivered, dropped int) {
	tr.mu.RLock()
	seen := make(map[string]*Subscriber)
	for _, topic := range topics {
		for subID, sub := range tr.topics[topic] {
			seen[subID] = sub
		}
	}
	tr.mu.RUnlock()

	for _, sub := range seen {
		if sub.send(evt) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

func (tr *topicRegistry) count() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}
