package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"todo-api/domain"
)

// The event publisher fans task events out to the sink through a bounded
// worker pool. Publishing is best effort: a saturated pool falls back to an
// inline send, and failures are logged, never surfaced to the client.

type publishJob struct {
	owner  string
	events []domain.TaskEvent
}

var (
	once           sync.Once
	jobs           chan publishJob
	workerCount    int
	jobBuf         int
	publishTimeout time.Duration
	handoffTimeout time.Duration
	bg             = context.Background()
	globalSink     EventSink
	globalLog      *log.Logger
	workerWG       sync.WaitGroup
)

// shutdownEventPublisher stops worker goroutines and clears shared state. It
// is intended for tests.
func shutdownEventPublisher() {
	if jobs != nil {
		close(jobs)
		jobs = nil
	}

	workerWG.Wait()

	globalSink = nil
	globalLog = nil
	workerCount = 0
	jobBuf = 0
	publishTimeout = 0
	handoffTimeout = 0
	once = sync.Once{}
	workerWG = sync.WaitGroup{}
}

func initEventPublisher(sink EventSink, logger *log.Logger) {
	once.Do(func() {
		if sink == nil {
			panic("event sink is required")
		}
		if logger == nil {
			panic("logger is required")
		}
		globalSink = sink
		globalLog = logger

		workerCount = envInt("PUBLISH_WORKERS", 8)
		jobBuf = envInt("PUBLISH_BUFFER", 1024)
		publishTimeout = envDur("PUBLISH_TIMEOUT", 30*time.Second)
		handoffTimeout = envDur("PUBLISH_HANDOFF_TIMEOUT", 15*time.Millisecond)

		jobs = make(chan publishJob, jobBuf)
		for i := 0; i < workerCount; i++ {
			workerWG.Add(1)
			go worker(i, jobs)
		}
		globalLog.Infof("event publisher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", workerCount, jobBuf, publishTimeout, handoffTimeout)
	})
}

func worker(id int, jobCh <-chan publishJob) {
	defer workerWG.Done()
	for j := range jobCh {
		ctx, cancel := context.WithTimeout(bg, publishTimeout)
		err := globalSink.PublishEvents(ctx, j.owner, j.events)
		cancel()

		if err != nil {
			globalLog.Errorf("event publish failed, err: %v, owner: %q, count: %d, worker: %d", err, j.owner, len(j.events), id)
		}
	}
}

// newTaskEvent stamps a fresh event for the given task.
func newTaskEvent(taskID, eventType string, data []byte) domain.TaskEvent {
	return domain.TaskEvent{
		ID:         uuid.NewString(),
		EntityID:   taskID,
		EntityType: "task",
		Type:       eventType,
		Data:       data,
		Timestamp:  nextTimestamp(),
	}
}

// publishTaskEvents hands events to the pool, falling back to an inline
// publish when the buffer is saturated or the pool is not running.
func publishTaskEvents(owner string, events []domain.TaskEvent) {
	if len(events) == 0 {
		return
	}

	job := publishJob{owner: owner, events: events}
	if tryPublishJob(job) {
		return
	}

	if globalLog != nil {
		globalLog.Warn("publish buffer saturated; publishing inline")
	}
	sink := globalSink
	if sink == nil {
		return
	}

	timeout := publishTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(bg, timeout)
	defer cancel()
	if err := sink.PublishEvents(ctx, owner, events); err != nil && globalLog != nil {
		globalLog.Errorf("inline event publish failed, err: %v, owner: %q, count: %d", err, owner, len(events))
	}
}

func tryPublishJob(job publishJob) bool {
	if jobs == nil {
		return false
	}

	if ok, closed := trySendNonBlocking(jobs, job); closed {
		return false
	} else if ok {
		return true
	}

	if handoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(handoffTimeout)
	defer timer.Stop()

	ok, closed := sendWithTimer(jobs, job, timer.C)
	if closed {
		return false
	}
	return ok
}

func trySendNonBlocking(ch chan publishJob, job publishJob) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan publishJob, job publishJob, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	case <-timer:
		return false, false
	}
}
