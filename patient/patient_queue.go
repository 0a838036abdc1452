package patient

import (
	"context"
	"time"

	"github.com/enriquebris/goconcurrentqueue"
	"go.uber.org/zap"
)

const queuePollInterval = 2 * time.Second

// SummaryQueue decouples summary pushes from the ingest request. Enqueued
// summaries are forwarded to target by Run.
type SummaryQueue struct {
	queue  *goconcurrentqueue.FIFO
	target SummaryRecorder
	logger *zap.Logger
}

func NewSummaryQueue(target SummaryRecorder, logger *zap.Logger) *SummaryQueue {
	return &SummaryQueue{
		queue:  goconcurrentqueue.NewFIFO(),
		target: target,
		logger: logger,
	}
}

// RecordExamination only enqueues.
func (q *SummaryQueue) RecordExamination(_ context.Context, summary Summary) error {
	return q.queue.Enqueue(summary)
}

func (q *SummaryQueue) Len() int {
	return q.queue.GetLen()
}

// Run forwards queued summaries until ctx is done, then drains what is left.
func (q *SummaryQueue) Run(ctx context.Context) {
	for {
		if q.queue.GetLen() > 0 {
			q.forwardNext(ctx)
			continue
		}
		select {
		case <-ctx.Done():
			q.Drain(context.Background())
			return
		case <-time.After(queuePollInterval):
		}
	}
}

// Drain forwards everything currently queued.
func (q *SummaryQueue) Drain(ctx context.Context) {
	for q.queue.GetLen() > 0 {
		q.forwardNext(ctx)
	}
}

func (q *SummaryQueue) forwardNext(ctx context.Context) {
	item, err := q.queue.Dequeue()
	if err != nil || item == nil {
		return
	}
	summary := item.(Summary)
	if err := q.target.RecordExamination(ctx, summary); err != nil {
		q.logger.Warn("patient summary not recorded",
			zap.String("patient_id", summary.PatientID),
			zap.String("image_id", summary.ImageID),
			zap.Error(err))
	}
}
