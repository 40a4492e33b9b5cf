package broker

import (
	"strings"
	"sync"

	"github.com/pyr33x/goqtt/internal/packet"
)

// topicNode is one level of the subscription trie. Children are allocated
// lazily: a leaf topic with no further levels never gets a children map.
type topicNode struct {
	children    map[string]*topicNode
	subscribers map[string]packet.QoSLevel // clientID -> granted QoS
}

func newTopicNode() *topicNode {
	return &topicNode{}
}

// TopicTree is the broker's subscription index. All traversals are
// iterative (explicit stack) so a pathological topic depth can't blow the
// goroutine stack the way recursion would.
type TopicTree struct {
	mu   sync.RWMutex
	root *topicNode
}

func NewTopicTree() *TopicTree {
	return &TopicTree{root: newTopicNode()}
}

func splitLevels(topic string) []string {
	return strings.Split(topic, "/")
}

// Subscribe records clientID's interest in filter at the given QoS,
// creating intermediate nodes as needed.
func (t *TopicTree) Subscribe(clientID, filter string, qos packet.QoSLevel) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node := t.root
	for _, level := range splitLevels(filter) {
		if node.children == nil {
			node.children = make(map[string]*topicNode)
		}
		child, ok := node.children[level]
		if !ok {
			child = newTopicNode()
			node.children[level] = child
		}
		node = child
	}
	if node.subscribers == nil {
		node.subscribers = make(map[string]packet.QoSLevel)
	}
	node.subscribers[clientID] = qos
}

// Unsubscribe removes clientID's subscription to filter, if any.
func (t *TopicTree) Unsubscribe(clientID, filter string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node := t.root
	for _, level := range splitLevels(filter) {
		if node.children == nil {
			return
		}
		child, ok := node.children[level]
		if !ok {
			return
		}
		node = child
	}
	delete(node.subscribers, clientID)
}

// stackFrame is a (node, remaining levels) pair used by the iterative
// match traversal.
type stackFrame struct {
	node   *topicNode
	levels []string
}

// UnsubscribeAll removes clientID from every node in the tree. Iterative
// pre-order DFS over the whole trie.
func (t *TopicTree) UnsubscribeAll(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stack := []*topicNode{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if n.subscribers != nil {
			delete(n.subscribers, clientID)
		}
		for _, child := range n.children {
			stack = append(stack, child)
		}
	}
}

// Match returns, for every client subscribed to a filter matching topic,
// the granted QoS — the MAXIMUM granted QoS across all matching filters
// when a client has more than one (spec's documented tie-break). Uses an
// iterative stack DFS honoring '+' and '#' wildcards and the '$'-prefix
// suppression of wildcard matching at the top level.
func (t *TopicTree) Match(topic string) map[string]packet.QoSLevel {
	t.mu.RLock()
	defer t.mu.RUnlock()

	levels := splitLevels(topic)
	result := make(map[string]packet.QoSLevel)
	merge := func(subs map[string]packet.QoSLevel) {
		for client, qos := range subs {
			if existing, ok := result[client]; !ok || qos > existing {
				result[client] = qos
			}
		}
	}

	dollarTopic := len(levels) > 0 && strings.HasPrefix(levels[0], "$")

	stack := []stackFrame{{node: t.root, levels: levels}}
	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := frame.node

		if len(frame.levels) == 0 {
			merge(node.subscribers)
			// '#' matches zero or more levels, so a filter "foo/#" must also
			// match the topic "foo" itself, not just its descendants.
			if node.children != nil {
				if child, ok := node.children["#"]; ok {
					merge(child.subscribers)
				}
			}
			continue
		}

		if node.children == nil {
			continue
		}

		level := frame.levels[0]
		rest := frame.levels[1:]

		if child, ok := node.children[level]; ok {
			stack = append(stack, stackFrame{node: child, levels: rest})
		}

		// '$'-prefixed topics only match subscriptions that spell out the
		// leading '$...' level explicitly, never a wildcard there.
		atTopLevel := len(frame.levels) == len(levels)
		allowWildcard := !(dollarTopic && atTopLevel)
		if allowWildcard {
			if child, ok := node.children["+"]; ok {
				stack = append(stack, stackFrame{node: child, levels: rest})
			}
			if child, ok := node.children["#"]; ok {
				merge(child.subscribers)
			}
		}
	}

	return result
}

// GetSubscriptionCount walks the whole tree counting subscriber entries.
func (t *TopicTree) GetSubscriptionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	stack := []*topicNode{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count += len(n.subscribers)
		for _, child := range n.children {
			stack = append(stack, child)
		}
	}
	return count
}

// Prune removes empty leaf nodes (no subscribers, no children) bottom-up,
// via an iterative post-order traversal built from a reversed pre-order
// stack — avoiding recursion the way the original's prune() does.
func (t *TopicTree) Prune() {
	t.mu.Lock()
	defer t.mu.Unlock()
	pruneNode(t.root)
}

func pruneNode(n *topicNode) {
	type frame struct {
		node   *topicNode
		name   string
		parent *topicNode
	}

	var preOrder []frame
	stack := []frame{{node: n}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		preOrder = append(preOrder, f)
		for name, child := range f.node.children {
			stack = append(stack, frame{node: child, name: name, parent: f.node})
		}
	}

	for i := len(preOrder) - 1; i >= 0; i-- {
		f := preOrder[i]
		if f.parent == nil {
			continue
		}
		empty := len(f.node.children) == 0 && len(f.node.subscribers) == 0
		if empty {
			delete(f.parent.children, f.name)
			if len(f.parent.children) == 0 {
				f.parent.children = nil
			}
		}
	}
}
