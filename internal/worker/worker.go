package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/rs/zerolog"

	"campusbot/internal/conversation"
	"campusbot/internal/metrics"
	"campusbot/internal/queue"
)

const (
	pendingText  = "I'm still working on your previous question. One moment!"
	failureText  = "Sorry, I had an error processing that. Please try again."
	maxReplyRune = 4000
)

var errSendFailed = errors.New("send reply failed")

type Sessions interface {
	Get(ctx context.Context, key string) (*conversation.Controller, error)
}

// Replier delivers the assistant's answer back to the chat.
type Replier interface {
	Reply(ctx context.Context, chatID, replyTo int64, text string) error
}

type TelegramReplier struct {
	Bot *gotgbot.Bot
}

func (t TelegramReplier) Reply(ctx context.Context, chatID, replyTo int64, text string) error {
	opts := &gotgbot.SendMessageOpts{}
	if replyTo > 0 {
		opts.ReplyParameters = &gotgbot.ReplyParameters{MessageId: replyTo, AllowSendingWithoutReply: true}
	}
	_, err := t.Bot.SendMessageWithContext(ctx, chatID, text, opts)
	return err
}

type Worker struct {
	queue         *queue.StreamQueue
	sessions      Sessions
	replier       Replier
	maxJobRetries int
	logger        zerolog.Logger
	metrics       *metrics.Metrics
}

type Config struct {
	Queue         *queue.StreamQueue
	Sessions      Sessions
	Replier       Replier
	MaxJobRetries int
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

func New(cfg Config) *Worker {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.MaxJobRetries < 0 {
		cfg.MaxJobRetries = 0
	}
	return &Worker{
		queue:         cfg.Queue,
		sessions:      cfg.Sessions,
		replier:       cfg.Replier,
		maxJobRetries: cfg.MaxJobRetries,
		logger:        cfg.Logger.With().Str("component", "worker").Logger(),
		metrics:       m,
	}
}

func (w *Worker) Start(ctx context.Context, concurrency int) error {
	if err := w.queue.EnsureGroup(ctx); err != nil {
		return err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	wg := sync.WaitGroup{}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consumeLoop(ctx, slot)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (w *Worker) consumeLoop(ctx context.Context, slot int) {
	log := w.logger.With().Int("slot", slot).Logger()
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		messages, err := w.queue.Read(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to read queue")
			time.Sleep(1 * time.Second)
			continue
		}

		for _, msg := range messages {
			err := w.processJob(ctx, msg.Job)
			if err == nil {
				w.metrics.ProcessedJobs.Inc()
				if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
					log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack message")
				}
				continue
			}

			w.metrics.FailedJobs.Inc()
			log.Error().Err(err).Str("job_id", msg.Job.JobID).Int("attempt", msg.Job.Attempts).Msg("job failed")

			// a turn that already ran must not run again just because the reply was lost
			if !errors.Is(err, errSendFailed) && msg.Job.Attempts < w.maxJobRetries {
				msg.Job.Attempts++
				if _, enqueueErr := w.queue.Enqueue(ctx, msg.Job); enqueueErr != nil {
					log.Error().Err(enqueueErr).Str("job_id", msg.Job.JobID).Msg("failed to re-enqueue failed job")
					continue
				}
				if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
					log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack after re-enqueue")
				}
				continue
			}

			if !errors.Is(err, errSendFailed) {
				_ = w.replier.Reply(ctx, msg.Job.ChatID, msg.Job.MessageID, failureText)
			}
			if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
				log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack terminal failed message")
			}
		}
	}
}

func (w *Worker) processJob(ctx context.Context, job queue.TurnJob) error {
	ctrl, err := w.sessions.Get(ctx, job.Session)
	if err != nil {
		return fmt.Errorf("open session %s: %w", job.Session, err)
	}

	text := ""
	reply, err := ctrl.ProcessTurn(ctx, job.Text)
	switch {
	case errors.Is(err, conversation.ErrBlankUtterance):
		return nil
	case errors.Is(err, conversation.ErrTurnPending):
		text = pendingText
	case err != nil:
		return fmt.Errorf("process turn: %w", err)
	default:
		text = reply.Message.Text
	}

	if r := []rune(text); len(r) > maxReplyRune {
		text = string(r[:maxReplyRune])
	}
	if err := w.replier.Reply(ctx, job.ChatID, job.MessageID, text); err != nil {
		return fmt.Errorf("%w: %w", errSendFailed, err)
	}
	return nil
}
