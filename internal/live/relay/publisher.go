package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/deveshsawant05/QuizZone-sub000/internal/live/events"
)

// Config holds JetStream relay configuration.
type Config struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // How long to keep messages
	MaxMsgs         int64         // Max number of messages to keep
	Replicas        int           // Number of replicas for the stream
	DuplicateWindow time.Duration // Window for duplicate detection
	BufferSize      int           // Pending events before the relay drops
	PublishTimeout  time.Duration
}

// DefaultConfig returns default relay configuration.
func DefaultConfig() Config {
	return Config{
		URL:             nats.DefaultURL,
		StreamName:      "QUIZ_EVENTS",
		SubjectPrefix:   "quiz.events",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          24 * time.Hour,
		MaxMsgs:         -1, // No limit
		Replicas:        1,
		DuplicateWindow: 2 * time.Hour,
		BufferSize:      1024,
		PublishTimeout:  5 * time.Second,
	}
}

// Publisher mirrors room events onto JetStream subjects for out-of-process
// consumers. It implements events.Sink with a buffered pipeline: sessions
// never block on the relay, and a saturated buffer drops with a log.
type Publisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	config  Config
	pending chan events.Event
}

// NewPublisher connects to NATS and ensures the event stream exists.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultConfig().PublishTimeout
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &Publisher{
		nc:      nc,
		js:      js,
		config:  cfg,
		pending: make(chan events.Event, cfg.BufferSize),
	}

	if err := p.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return p, nil
}

func (p *Publisher) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        p.config.StreamName,
		Description: "Live quiz room event stream",
		Subjects:    []string{fmt.Sprintf("%s.>", p.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      p.config.MaxAge,
		MaxMsgs:     p.config.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    p.config.Replicas,
		Duplicates:  p.config.DuplicateWindow,
	}

	stream, err := p.js.Stream(ctx, p.config.StreamName)
	if err != nil {
		if _, err = p.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().
			Str("stream", p.config.StreamName).
			Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !streamConfigEqual(info.Config, sc) {
		if _, err = p.js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().
			Str("stream", p.config.StreamName).
			Msg("updated JetStream stream")
	}
	return nil
}

// Publish implements events.Sink. Never blocks the emitting session.
func (p *Publisher) Publish(evt events.Event) {
	select {
	case p.pending <- evt:
	default:
		log.Warn().
			Str("event_id", evt.ID).
			Str("event_type", string(evt.Type)).
			Msg("relay buffer full, dropping event")
	}
}

// Run drains the pipeline until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	log.Info().
		Str("stream", p.config.StreamName).
		Str("subject_prefix", p.config.SubjectPrefix).
		Msg("event relay started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event relay shutting down")
			return
		case evt := <-p.pending:
			publishCtx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
			err := p.publishOne(publishCtx, evt)
			cancel()
			if err != nil {
				log.Error().
					Err(err).
					Str("event_id", evt.ID).
					Str("event_type", string(evt.Type)).
					Msg("failed to publish event to JetStream")
			}
		}
	}
}

// publishOne publishes a single event, using the event ID as the JetStream
// message ID so redeliveries inside the duplicate window collapse.
func (p *Publisher) publishOne(ctx context.Context, evt events.Event) error {
	subject := fmt.Sprintf("%s.%s", p.config.SubjectPrefix, evt.Type)

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ack, err := p.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(evt.Type)},
			"Room-ID":    []string{evt.RoomID.String()},
			"Event-ID":   []string{evt.ID},
		},
	},
		jetstream.WithMsgID(evt.ID),
		jetstream.WithExpectStream(p.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", evt.ID).
		Uint64("sequence", ack.Sequence).
		Msg("event relayed to JetStream")
	return nil
}

// Close terminates the NATS connection. Pending events are dropped.
func (p *Publisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

func streamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgs == b.MaxMsgs &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates
}
