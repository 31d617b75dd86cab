package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"mail-pilot/internal/config"
	"mail-pilot/internal/domain"
	"mail-pilot/internal/integrations/openai"
	"mail-pilot/internal/integrations/paramstore"
	"mail-pilot/internal/integrations/webhook"
	"mail-pilot/internal/repository"
	"mail-pilot/internal/usecase"
)

const memoryTranscriptLimit = 200

// awsLoader is swapped in tests to keep them off the network.
var awsLoader = func(ctx context.Context) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx)
}

// BuildService wires the SendService from cfg. AWS clients are created only
// when a secret must come from SSM or a transcript table is configured.
func BuildService(ctx context.Context, cfg config.Config, logger *slog.Logger) (*usecase.SendService, error) {
	var (
		awsCfg    aws.Config
		awsLoaded bool
	)
	loadAWS := func() (aws.Config, error) {
		if awsLoaded {
			return awsCfg, nil
		}
		c, err := awsLoader(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
		}
		awsCfg, awsLoaded = c, true
		return awsCfg, nil
	}

	var params paramstore.Getter
	if cfg.NeedsParamStore() {
		if cfg.ParamPrefix == "" {
			return nil, errors.New("app: PARAM_PREFIX is required when WEBHOOK_URL or OPENAI_API_KEY is unset")
		}
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		ps, err := paramstore.New(awsssm.NewFromConfig(c))
		if err != nil {
			return nil, err
		}
		params = ps
	}

	webhookURL, err := resolveWebhookURL(ctx, cfg, params)
	if err != nil {
		return nil, err
	}
	dispatcher, err := webhook.New(webhookURL, webhook.WithTimeout(cfg.WebhookTimeout), webhook.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	var llm usecase.LLMClient
	if cfg.Mode == domain.ModeExtract {
		opts := []openai.Option{openai.WithAPIKey(cfg.OpenAIAPIKey)}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		client, err := openai.NewClient(params, cfg.ParamPrefix, opts...)
		if err != nil {
			return nil, err
		}
		llm = client
	}

	var transcripts usecase.TranscriptStore
	storeKind := "memory"
	if cfg.TranscriptTable != "" {
		storeKind = "dynamodb"
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		store, err := repository.New(awsdynamodb.NewFromConfig(c), cfg.TranscriptTable, cfg.TranscriptTTL)
		if err != nil {
			return nil, err
		}
		transcripts = store
	} else {
		logger.Warn("TRANSCRIPT_TABLE not set, keeping transcripts in memory")
		transcripts = repository.NewMemoryStore(memoryTranscriptLimit, cfg.TranscriptTTL)
	}

	logger.Info("mail pilot configured",
		"mode", cfg.Mode,
		"webhook_url", dispatcher.URL(),
		"transcripts", storeKind,
	)
	return usecase.NewSendService(llm, dispatcher, transcripts, usecase.SendConfig{
		Mode:            cfg.Mode,
		MinPromptLength: cfg.MinPromptLength,
		Model:           cfg.OpenAIModel,
	}, logger)
}

func resolveWebhookURL(ctx context.Context, cfg config.Config, params paramstore.Getter) (string, error) {
	if cfg.WebhookURL != "" {
		return cfg.WebhookURL, nil
	}
	if params == nil {
		return "", errors.New("app: WEBHOOK_URL is not set and no parameter store is available")
	}
	v, err := params.GetParameter(ctx, cfg.ParamPrefix+"/webhook_url")
	if err != nil {
		return "", fmt.Errorf("app: resolve webhook url: %w", err)
	}
	return strings.TrimSpace(v), nil
}
