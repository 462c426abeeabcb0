package telegram

import (
	"context"
	"log/slog"
	"sync"
)

type MessageJob struct {
	OrderID   int64
	PaymentID int64
	Text      string
}

type Worker struct {
	ID         int
	WorkerPool chan chan MessageJob
	JobChannel chan MessageJob
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan MessageJob, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan MessageJob),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(MessageJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				w.Logger.Debug("telegram worker shutting down", "worker_id", w.ID)
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("telegram worker processing job", "worker_id", w.ID, "order_id", job.OrderID)
				processFunc(job)
			case <-ctx.Done():
				w.Logger.Debug("telegram worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}
