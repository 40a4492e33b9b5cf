package broker

import (
	"container/list"
	"strings"
	"sync"

	"github.com/pyr33x/goqtt/internal/packet"
)

type retainedRecord struct {
	Topic   string
	Payload []byte
	QoS     packet.QoSLevel
}

// RetainedStore holds the broker's retained messages with LRU eviction:
// when max_retained_messages is exceeded, the least-recently-touched topic
// is dropped to make room for the new one, mirroring the original's
// _touch_lru/_remove_lru pair (most-recently-used kept at the list tail).
type RetainedStore struct {
	mu      sync.RWMutex
	cap     int
	order   *list.List // list.Element.Value == *retainedRecord, MRU at Back
	byTopic map[string]*list.Element
}

func NewRetainedStore(capacity int) *RetainedStore {
	return &RetainedStore{
		cap:     capacity,
		order:   list.New(),
		byTopic: make(map[string]*list.Element),
	}
}

// Set stores a retained message, or clears it when payload is empty.
func (r *RetainedStore) Set(topic string, payload []byte, qos packet.QoSLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if elem, ok := r.byTopic[topic]; ok {
		if len(payload) == 0 {
			r.order.Remove(elem)
			delete(r.byTopic, topic)
			return
		}
		rec := elem.Value.(*retainedRecord)
		rec.Payload = payload
		rec.QoS = qos
		r.order.MoveToBack(elem)
		return
	}

	if len(payload) == 0 {
		return
	}

	if r.cap > 0 && len(r.byTopic) >= r.cap {
		front := r.order.Front()
		if front != nil {
			evicted := front.Value.(*retainedRecord)
			r.order.Remove(front)
			delete(r.byTopic, evicted.Topic)
		}
	}

	elem := r.order.PushBack(&retainedRecord{Topic: topic, Payload: payload, QoS: qos})
	r.byTopic[topic] = elem
}

// GetMatching returns every retained message whose topic matches filter,
// touching each as most-recently-used.
func (r *RetainedStore) GetMatching(filter string) []retainedRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []retainedRecord
	for topic, elem := range r.byTopic {
		if TopicMatches(filter, topic) {
			rec := elem.Value.(*retainedRecord)
			out = append(out, *rec)
			r.order.MoveToBack(elem)
		}
	}
	return out
}

// Clear removes every retained message.
func (r *RetainedStore) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order.Init()
	r.byTopic = make(map[string]*list.Element)
}

// Count returns the number of retained messages currently stored.
func (r *RetainedStore) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTopic)
}

// TopicMatches reports whether topic matches filter under MQTT 3.1.1
// wildcard rules, including the '$'-prefix suppression: a filter whose
// first level is '+' or '#' never matches a topic beginning with '$'.
func TopicMatches(filter, topic string) bool {
	filterLevels := splitLevels(filter)
	topicLevels := splitLevels(topic)

	if len(topicLevels) > 0 && strings.HasPrefix(topicLevels[0], "$") {
		if len(filterLevels) > 0 && (filterLevels[0] == "+" || filterLevels[0] == "#") {
			return false
		}
	}

	fi, ti := 0, 0
	for fi < len(filterLevels) {
		level := filterLevels[fi]

		if level == "#" {
			return true
		}

		if ti >= len(topicLevels) {
			return false
		}

		if level != "+" && level != topicLevels[ti] {
			return false
		}

		fi++
		ti++
	}

	return ti == len(topicLevels)
}
