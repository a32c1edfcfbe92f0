package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/isdelr/tts-broker-be/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// SpeechEngine renders text to MP3 audio with an engine voice code.
type SpeechEngine interface {
	Synthesize(ctx context.Context, text, voiceCode string) ([]byte, error)
}

// ArtifactNotifier is told about artifacts that were paid for and are ready to download.
type ArtifactNotifier interface {
	NotifyArtifact(accountID string, artifact models.Artifact)
}

// SynthesisServiceProvider defines the interface for synthesis jobs.
type SynthesisServiceProvider interface {
	RunJob(ctx context.Context, accountID, text, voice string) (models.Artifact, error)
	Generate(ctx context.Context, accountID, text, voice string) (models.Artifact, int, error)
	Voices() []models.Voice
}

// SynthesisOptions tunes the job runner.
type SynthesisOptions struct {
	MaxConcurrent int64
	Timeout       time.Duration
}

// SynthesisService runs synthesis jobs on a bounded pool and charges for them after success.
type SynthesisService struct {
	engine    SpeechEngine
	ledger    LedgerServiceProvider
	artifacts ArtifactServiceProvider
	notifier  ArtifactNotifier

	voices  []models.Voice
	byLabel map[string]string
	byCode  map[string]struct{}

	pool    *semaphore.Weighted
	timeout time.Duration
}

// NewSynthesisService creates a new SynthesisService. notifier may be nil.
func NewSynthesisService(
	engine SpeechEngine,
	ledger LedgerServiceProvider,
	artifacts ArtifactServiceProvider,
	voices []models.Voice,
	opts SynthesisOptions,
	notifier ArtifactNotifier,
) *SynthesisService {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	s := &SynthesisService{
		engine:    engine,
		ledger:    ledger,
		artifacts: artifacts,
		notifier:  notifier,
		voices:    append([]models.Voice(nil), voices...),
		byLabel:   make(map[string]string, len(voices)),
		byCode:    make(map[string]struct{}, len(voices)),
		pool:      semaphore.NewWeighted(opts.MaxConcurrent),
		timeout:   opts.Timeout,
	}
	for _, v := range voices {
		s.byLabel[v.Label] = v.Code
		s.byCode[v.Code] = struct{}{}
	}
	return s
}

// Voices returns the voice catalog in configured order.
func (s *SynthesisService) Voices() []models.Voice {
	return append([]models.Voice(nil), s.voices...)
}

// ResolveVoice maps a catalog label or engine code to the engine code.
func (s *SynthesisService) ResolveVoice(voice string) (string, bool) {
	if code, ok := s.byLabel[voice]; ok {
		return code, true
	}
	if _, ok := s.byCode[voice]; ok {
		return voice, true
	}
	return "", false
}

// RunJob synthesizes text for accountID and stores the result as an artifact.
// It does not check or touch credit. Engine failures are logged in full and
// returned as ErrSynthesisFailed without the engine's detail.
func (s *SynthesisService) RunJob(ctx context.Context, accountID, text, voice string) (models.Artifact, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Artifact{}, fmt.Errorf("%w: text is required", ErrInvalidRequest)
	}
	voiceCode, ok := s.ResolveVoice(strings.TrimSpace(voice))
	if !ok {
		return models.Artifact{}, fmt.Errorf("%w: unsupported voice %q", ErrInvalidRequest, voice)
	}

	if err := s.pool.Acquire(ctx, 1); err != nil {
		log.Warn().Err(err).Str("account_id", accountID).Msg("Gave up waiting for a synthesis slot")
		return models.Artifact{}, fmt.Errorf("%w: no synthesis slot: %v", ErrSynthesisFailed, err)
	}
	defer s.pool.Release(1)

	// Fail before spending engine time if the artifact could not be stored.
	if err := s.artifacts.EnsureCapacity(); err != nil {
		log.Error().Err(err).Str("account_id", accountID).Msg("Artifact volume is out of space")
		return models.Artifact{}, err
	}

	jobCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	audio, err := s.engine.Synthesize(jobCtx, text, voiceCode)
	if err != nil {
		event := log.Error().Err(err).Str("account_id", accountID).Str("voice", voiceCode).Dur("elapsed", time.Since(start))
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			event.Msg("Synthesis timed out")
			return models.Artifact{}, fmt.Errorf("%w: engine timed out", ErrSynthesisFailed)
		}
		event.Msg("Synthesis failed")
		return models.Artifact{}, ErrSynthesisFailed
	}

	artifact, err := s.artifacts.Save(ctx, accountID, audio)
	if err != nil {
		log.Error().Err(err).Str("account_id", accountID).Msg("Failed to store artifact")
		return models.Artifact{}, err
	}

	log.Info().
		Str("account_id", accountID).
		Str("file", artifact.Filename).
		Int64("bytes", artifact.Size).
		Dur("elapsed", time.Since(start)).
		Msg("Synthesis completed")
	return artifact, nil
}

// Generate is the paid job lifecycle: credit pre-check, RunJob without any
// account lock held, then a single debit once the artifact exists.
// If the debit fails the artifact is discarded, so no audio is handed out unpaid.
func (s *SynthesisService) Generate(ctx context.Context, accountID, text, voice string) (models.Artifact, int, error) {
	balance, err := s.ledger.Balance(ctx, accountID)
	if err != nil {
		return models.Artifact{}, 0, err
	}
	if balance <= 0 {
		return models.Artifact{}, balance, ErrInsufficientCredit
	}

	artifact, err := s.RunJob(ctx, accountID, text, voice)
	if err != nil {
		return models.Artifact{}, balance, err
	}

	known := balance
	balance, err = s.ledger.TrySpend(ctx, accountID, 1)
	if err != nil {
		if rmErr := s.artifacts.Remove(artifact); rmErr != nil {
			log.Error().Err(rmErr).Str("file", artifact.Filename).Msg("Failed to discard unpaid artifact")
		}
		log.Warn().Err(err).Str("account_id", accountID).Str("file", artifact.Filename).Msg("Debit after synthesis failed, artifact discarded")
		if current, balErr := s.ledger.Balance(ctx, accountID); balErr == nil {
			known = current
		}
		return models.Artifact{}, known, err
	}

	if s.notifier != nil {
		s.notifier.NotifyArtifact(accountID, artifact)
	}
	return artifact, balance, nil
}
