// Package queue guarantees that work belonging to the same conversation is
// processed strictly one-at-a-time in arrival order, while unrelated
// conversations proceed concurrently. The registry creates queues lazily per
// conversation key and keeps them for the process lifetime.
package queue
