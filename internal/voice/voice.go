// Package voice renders radio transmissions to speech with Amazon Polly.
package voice

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
	"github.com/metalagman/pilotsim/internal/collab"
	"github.com/metalagman/pilotsim/internal/turn"
)

const (
	defaultRegion       = "us-east-1"
	defaultVoice        = "Matthew"
	defaultTrafficVoice = "Joanna"
	defaultEngine       = "neural"
	defaultTimeout      = 15 * time.Second

	// ContentType is the MIME type of synthesized audio.
	ContentType = "audio/mpeg"
)

var (
	// ErrEmpty is returned for a transmission without text.
	ErrEmpty = errors.New("nothing to synthesize")
	// ErrRejected is returned when the speech service refuses the input.
	ErrRejected = errors.New("speech request rejected")
	// ErrUnavailable is returned when the speech service is throttling or
	// failing. Callers may retry.
	ErrUnavailable = errors.New("speech service unavailable")
)

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// Config configures the synthesizer.
type Config struct {
	Region         string
	VoiceID        string
	TrafficVoiceID string
	Engine         string
	Timeout        time.Duration
}

// Synthesizer turns transmissions into MP3 audio. The AWS client is created
// lazily on first use from the default credential chain.
type Synthesizer struct {
	mu     sync.Mutex
	client synthClient
	cfg    Config
}

// New returns a synthesizer using the default AWS configuration.
func New(cfg Config) *Synthesizer {
	return NewWithClient(cfg, nil)
}

// NewWithClient returns a synthesizer on an explicit Polly client.
func NewWithClient(cfg Config, client synthClient) *Synthesizer {
	cfg.Region = defaultString(cfg.Region, defaultRegion)
	cfg.VoiceID = defaultString(cfg.VoiceID, defaultVoice)
	cfg.TrafficVoiceID = defaultString(cfg.TrafficVoiceID, defaultTrafficVoice)
	cfg.Engine = defaultString(cfg.Engine, defaultEngine)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Synthesizer{client: client, cfg: cfg}
}

// Speak synthesizes one transmission. Traffic calls use the traffic voice;
// the tone sets the prosody.
func (s *Synthesizer) Speak(ctx context.Context, tx turn.Transmission) ([]byte, error) {
	if strings.TrimSpace(tx.Text) == "" {
		return nil, ErrEmpty
	}
	client, err := s.resolveClient(ctx)
	if err != nil {
		return nil, err
	}

	voiceID := s.cfg.VoiceID
	if tx.IsTraffic() {
		voiceID = s.cfg.TrafficVoiceID
	}
	ssml, err := SSML(tx.Text, tx.Tone)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	out, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engineOf(s.cfg.Engine),
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         &ssml,
		TextType:     pollytypes.TextTypeSsml,
		VoiceId:      pollytypes.VoiceId(voiceID),
	})
	if err != nil {
		return nil, normalizeError(err)
	}
	if out == nil || out.AudioStream == nil {
		return nil, fmt.Errorf("synthesize speech: %w: empty audio", ErrUnavailable)
	}
	defer func() { _ = out.AudioStream.Close() }()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out.AudioStream); err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return buf.Bytes(), nil
}

// SSML wraps text in a prosody element for tone.
func SSML(text, tone string) (string, error) {
	var escaped strings.Builder
	if err := xml.EscapeText(&escaped, []byte(text)); err != nil {
		return "", fmt.Errorf("escape text: %w", err)
	}
	rate, volume := prosody(tone)
	return fmt.Sprintf(`<speak><prosody rate="%s" volume="%s">%s</prosody></speak>`, rate, volume, escaped.String()), nil
}

func prosody(tone string) (rate, volume string) {
	switch tone {
	case collab.ToneUrgent:
		return "fast", "loud"
	case collab.ToneCalm:
		return "slow", "soft"
	default:
		return "medium", "medium"
	}
}

func engineOf(name string) pollytypes.Engine {
	switch strings.ToLower(name) {
	case "standard":
		return pollytypes.EngineStandard
	case "long-form":
		return pollytypes.EngineLongForm
	case "generative":
		return pollytypes.EngineGenerative
	default:
		return pollytypes.EngineNeural
	}
}

func normalizeError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("synthesize speech: %w", err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException",
			"MarksNotSupportedForFormatException", "InvalidSampleRateException", "EngineNotSupportedException":
			return fmt.Errorf("synthesize speech: %w: %s", ErrRejected, apiErr.ErrorMessage())
		default:
			return fmt.Errorf("synthesize speech: %w: %s", ErrUnavailable, apiErr.ErrorCode())
		}
	}
	return fmt.Errorf("synthesize speech: %w: %w", ErrUnavailable, err)
}

func (s *Synthesizer) resolveClient(ctx context.Context) (synthClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	s.client = polly.NewFromConfig(awsCfg)
	return s.client, nil
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
