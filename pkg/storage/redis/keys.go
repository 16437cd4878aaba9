package redis

import "strings"

// DefaultPrefix namespaces every key of the store.
const DefaultPrefix = "flowq"

// queueKey returns the namespace of a queue: flowq:{queue}:
func (s *Store) queueKey(queue string) string {
	return s.prefix + ":" + queue + ":"
}

// jobKey returns the hash key of a job: flowq:{queue}:{id}
func (s *Store) jobKey(queue, id string) string {
	return s.queueKey(queue) + id
}

func (s *Store) lockKey(queue, id string) string {
	return s.jobKey(queue, id) + ":lock"
}

func (s *Store) dependenciesKey(queue, id string) string {
	return s.jobKey(queue, id) + ":dependencies"
}

func (s *Store) processedKey(queue, id string) string {
	return s.jobKey(queue, id) + ":processed"
}

func (s *Store) tombstoneKey(queue, id string) string {
	return s.jobKey(queue, id) + ":tombstone"
}

func (s *Store) eventsChannel(queue string) string {
	return s.queueKey(queue) + "events"
}

// stateKey returns the list or sorted set holding jobs in state.
func (s *Store) stateKey(queue, state string) string {
	if state == "waiting" {
		state = "wait"
	}
	return s.queueKey(queue) + state
}

// parseJobKey splits a full job key back into queue and id.
func (s *Store) parseJobKey(key string) (queue, id string, ok bool) {
	rest, found := strings.CutPrefix(key, s.prefix+":")
	if !found {
		return "", "", false
	}
	queue, id, ok = strings.Cut(rest, ":")
	return queue, id, ok
}
