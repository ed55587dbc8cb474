package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Gireeshbd/ai-sales-agent/internal/config"
	"github.com/Gireeshbd/ai-sales-agent/internal/logging"
	"github.com/Gireeshbd/ai-sales-agent/internal/sales"
	"github.com/Gireeshbd/ai-sales-agent/internal/voice"
)

// VoiceInfo describes the resolved speech and analysis backends.
type VoiceInfo struct {
	Pipeline string
	Analyzer string
	Detail   string
}

type voiceSetup struct {
	pipeline voice.Pipeline
	analyzer sales.Analyzer
	info     VoiceInfo
}

// resolveVoice picks the voice pipeline and the call analyzer. A missing
// Gemini key is not fatal: calls are then classified by keywords alone.
func resolveVoice(ctx context.Context, cfg config.Config, logger *zap.Logger) (voiceSetup, error) {
	logger = logging.OrNop(logger)
	pipeline, err := voice.NewPipeline(cfg.VoicePipeline, cfg.VoicePipelineURL, logger.Named("voice"))
	if err != nil {
		return voiceSetup{}, fmt.Errorf("voice pipeline init failed: %w", err)
	}

	setup := voiceSetup{pipeline: pipeline}
	switch pipeline.(type) {
	case *voice.BridgePipeline:
		setup.info.Pipeline = voice.ModeBridge
	default:
		setup.info.Pipeline = voice.ModeMock
	}

	keywords := sales.KeywordAnalyzer{}
	if strings.TrimSpace(cfg.GoogleAPIKey) == "" {
		setup.analyzer = keywords
		setup.info.Analyzer = "keywords"
		setup.info.Detail = fmt.Sprintf("%s pipeline, keyword analysis (no GOOGLE_API_KEY)", setup.info.Pipeline)
		return setup, nil
	}

	gemini, err := sales.NewGeminiAnalyzer(ctx, cfg.GoogleAPIKey, cfg.GeminiModel)
	if err != nil {
		logger.Warn("gemini analyzer unavailable, using keyword analysis", zap.Error(err))
		setup.analyzer = keywords
		setup.info.Analyzer = "keywords"
		setup.info.Detail = fmt.Sprintf("%s pipeline, keyword analysis (gemini unavailable)", setup.info.Pipeline)
		return setup, nil
	}
	setup.analyzer = sales.NewFallbackAnalyzer(gemini, keywords)
	setup.info.Analyzer = "gemini"
	setup.info.Detail = fmt.Sprintf("%s pipeline, %s analysis with keyword fallback", setup.info.Pipeline, cfg.GeminiModel)
	return setup, nil
}
