package queue

import "fmt"

// keys names every Redis structure of one queue.
type keys struct {
	wait      string // LIST, LPUSH in, RPOP out
	delayed   string // ZSET, score = due time in ms
	active    string // ZSET, score = lock expiry in ms
	completed string // ZSET, score = finish time in ms
	dead      string // ZSET, score = finish time in ms
	jobPrefix string // HASH per job: <jobPrefix><id>
}

func queueKeys(prefix, name string) keys {
	base := fmt.Sprintf("%s:%s:", prefix, name)
	return keys{
		wait:      base + "wait",
		delayed:   base + "delayed",
		active:    base + "active",
		completed: base + "completed",
		dead:      base + "dead",
		jobPrefix: base + "job:",
	}
}

func (k keys) job(id string) string {
	return k.jobPrefix + id
}
