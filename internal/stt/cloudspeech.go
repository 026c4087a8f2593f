package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	"cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const speechAPIEndpointPort = 443

// CloudSpeechConfig holds configuration for Google Cloud Speech-to-Text v2.
type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Location        string // "global" or a region such as "us-central1"
	Model           string // e.g., "long"
	// LanguageCodes maps short codes to BCP-47 tags, e.g. "en" to "en-US".
	LanguageCodes map[string]string
	Log           zerolog.Logger
}

// CloudSpeechRecognizer opens Cloud Speech streaming sessions.
type CloudSpeechRecognizer struct {
	cfg CloudSpeechConfig
	log zerolog.Logger
}

// NewCloudSpeechRecognizer creates a recognizer backed by Cloud Speech.
func NewCloudSpeechRecognizer(cfg CloudSpeechConfig) *CloudSpeechRecognizer {
	cfg.Location = strings.TrimSpace(cfg.Location)
	if cfg.Location == "" {
		cfg.Location = "global"
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = "long"
	}
	return &CloudSpeechRecognizer{
		cfg: cfg,
		log: cfg.Log.With().Str("component", "cloudspeech").Logger(),
	}
}

func (r *CloudSpeechRecognizer) languageCode(code string) string {
	if tag, ok := r.cfg.LanguageCodes[code]; ok {
		return tag
	}
	return code
}

func (r *CloudSpeechRecognizer) recognizerName() string {
	return fmt.Sprintf("projects/%s/locations/%s/recognizers/_", r.cfg.ProjectID, r.cfg.Location)
}

func (r *CloudSpeechRecognizer) streamingConfig(sc SessionConfig) *speechpb.StreamingRecognizeRequest {
	encoding := speechpb.ExplicitDecodingConfig_LINEAR16
	switch strings.ToLower(sc.Encoding) {
	case "mulaw":
		encoding = speechpb.ExplicitDecodingConfig_MULAW
	case "alaw":
		encoding = speechpb.ExplicitDecodingConfig_ALAW
	}

	return &speechpb.StreamingRecognizeRequest{
		Recognizer: r.recognizerName(),
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Model:         r.cfg.Model,
					LanguageCodes: []string{r.languageCode(sc.Language)},
					DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
						ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
							Encoding:          encoding,
							SampleRateHertz:   int32(sc.SampleRate),
							AudioChannelCount: int32(sc.Channels),
						},
					},
					Features: &speechpb.RecognitionFeatures{
						EnableAutomaticPunctuation: sc.Tuning.PunctuationOverrides > 0,
					},
				},
				StreamingFeatures: &speechpb.StreamingRecognitionFeatures{InterimResults: true},
			},
		},
	}
}

// Open starts a streaming recognize call.
func (r *CloudSpeechRecognizer) Open(ctx context.Context, sc SessionConfig) (Stream, error) {
	sc = sc.withDefaults()
	r.log.Info().Str("location", r.cfg.Location).Str("language", sc.Language).Str("model", r.cfg.Model).Msg("cloudspeech: starting stream")

	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(r.cfg.CredentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}

	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if r.cfg.Location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", r.cfg.Location, speechAPIEndpointPort)))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}

	config := r.streamingConfig(sc)
	open := func() (speechpb.Speech_StreamingRecognizeClient, error) {
		next, err := client.StreamingRecognize(ctx)
		if err != nil {
			return nil, err
		}
		if err := next.Send(config); err != nil {
			_ = next.CloseSend()
			return nil, err
		}
		return next, nil
	}

	first, err := open()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("start streaming recognize: %w", err)
	}

	s := &cloudSpeechStream{
		stream:  first,
		open:    open,
		closeFn: client.Close,
		events:  make(chan Event, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		log:     r.log,
	}
	s.startReceiver(first)
	return s, nil
}

type cloudSpeechStream struct {
	mu      sync.Mutex
	closed  bool
	stream  speechpb.Speech_StreamingRecognizeClient
	open    func() (speechpb.Speech_StreamingRecognizeClient, error)
	closeFn func() error

	events    chan Event
	errors    chan error
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	log       zerolog.Logger
}

func (s *cloudSpeechStream) Write(_ context.Context, audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	req := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{Audio: audio},
	}
	if err := s.stream.Send(req); err != nil {
		if !isReconnectableStreamError(err) {
			return err
		}
		s.log.Warn().Err(err).Msg("cloudspeech: send failed, reconnecting")
		if err := s.reconnectLocked(); err != nil {
			return fmt.Errorf("reconnect stream: %w", err)
		}
		return s.stream.Send(req)
	}
	return nil
}

func (s *cloudSpeechStream) Events() <-chan Event { return s.events }

func (s *cloudSpeechStream) Errors() <-chan error { return s.errors }

func (s *cloudSpeechStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.done)
		if cerr := s.stream.CloseSend(); cerr != nil {
			err = cerr
		}
		s.mu.Unlock()

		if cerr := s.closeFn(); cerr != nil && err == nil {
			err = cerr
		}
		s.wg.Wait()
		close(s.events)
		close(s.errors)
	})
	return err
}

func (s *cloudSpeechStream) reconnectLocked() error {
	_ = s.stream.CloseSend()
	next, err := s.open()
	if err != nil {
		s.log.Error().Err(err).Msg("cloudspeech: reconnect failed")
		return err
	}
	s.stream = next
	s.startReceiver(next)
	s.log.Info().Msg("cloudspeech: stream reconnected")
	return nil
}

func (s *cloudSpeechStream) startReceiver(stream speechpb.Speech_StreamingRecognizeClient) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled || isReconnectableStreamError(err) {
					s.log.Debug().Err(err).Msg("cloudspeech: receive loop stopped")
					return
				}
				select {
				case <-s.done:
				case s.errors <- fmt.Errorf("cloudspeech recv: %w", err):
				default:
				}
				return
			}
			for _, result := range resp.GetResults() {
				alts := result.GetAlternatives()
				if len(alts) == 0 || alts[0].GetTranscript() == "" {
					continue
				}
				ev := Event{
					Type:       EventInterim,
					Text:       alts[0].GetTranscript(),
					Confidence: float64(alts[0].GetConfidence()),
				}
				if result.GetIsFinal() {
					ev.Type = EventFinal
				}
				select {
				case <-s.done:
					return
				case s.events <- ev:
				}
			}
		}
	}()
}

// isReconnectableStreamError reports errors after which a fresh stream can
// carry on, such as the five minute streaming limit.
func isReconnectableStreamError(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Aborted {
		return false
	}
	msg := strings.ToLower(st.Message())
	return strings.Contains(msg, "max duration of 5 minutes") ||
		strings.Contains(msg, "stream timed out after receiving no more client requests")
}
