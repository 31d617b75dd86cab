package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/require"

	"mail-pilot/internal/config"
	"mail-pilot/internal/domain"
)

type mapGetter map[string]string

func (m mapGetter) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", fmt.Errorf("parameter %q not found", name)
	}
	return v, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stubAWS(t *testing.T, err error) *int {
	t.Helper()
	calls := 0
	orig := awsLoader
	awsLoader = func(context.Context) (aws.Config, error) {
		calls++
		return aws.Config{Region: "us-east-1"}, err
	}
	t.Cleanup(func() { awsLoader = orig })
	return &calls
}

func TestBuildService_EnvOnlyPassthrough(t *testing.T) {
	calls := stubAWS(t, nil)
	var logs bytes.Buffer
	svc, err := BuildService(context.Background(), config.Config{
		Mode:            domain.ModePassthrough,
		MinPromptLength: 1,
		WebhookURL:      "https://hooks.example.com/webhook/firebase",
		TranscriptTTL:   time.Hour,
	}, slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)
	require.Equal(t, domain.ModePassthrough, svc.Mode())
	require.Zero(t, *calls)
	require.Contains(t, logs.String(), "webhook_url=https://hooks.example.com/webhook/firebase")
	require.Contains(t, logs.String(), "transcripts=memory")
}

func TestBuildService_EnvOnlyExtract(t *testing.T) {
	calls := stubAWS(t, nil)
	svc, err := BuildService(context.Background(), config.Config{
		Mode:            domain.ModeExtract,
		MinPromptLength: 10,
		WebhookURL:      "https://hooks.example.com/webhook/firebase",
		OpenAIAPIKey:    "sk-local",
		OpenAIModel:     "gpt-4o-mini",
	}, quietLogger())
	require.NoError(t, err)
	require.Equal(t, 10, svc.MinPromptLength())
	require.Zero(t, *calls)
}

func TestBuildService_NeedsPrefixForSSM(t *testing.T) {
	stubAWS(t, nil)
	_, err := BuildService(context.Background(), config.Config{Mode: domain.ModePassthrough}, quietLogger())
	require.ErrorContains(t, err, "PARAM_PREFIX")
}

func TestBuildService_AWSConfigError(t *testing.T) {
	stubAWS(t, errors.New("no credentials"))
	_, err := BuildService(context.Background(), config.Config{
		Mode:            domain.ModePassthrough,
		WebhookURL:      "https://hooks.example.com/webhook/firebase",
		TranscriptTable: "transcripts",
	}, quietLogger())
	require.ErrorContains(t, err, "no credentials")
}

func TestBuildService_DynamoTranscripts(t *testing.T) {
	calls := stubAWS(t, nil)
	_, err := BuildService(context.Background(), config.Config{
		Mode:            domain.ModePassthrough,
		WebhookURL:      "https://hooks.example.com/webhook/firebase",
		TranscriptTable: "transcripts",
	}, quietLogger())
	require.NoError(t, err)
	require.Equal(t, 1, *calls)
}

func TestResolveWebhookURL(t *testing.T) {
	url, err := resolveWebhookURL(context.Background(), config.Config{WebhookURL: "https://a.example.com/hook"}, nil)
	require.NoError(t, err)
	require.Equal(t, "https://a.example.com/hook", url)

	params := mapGetter{"/mail-pilot/webhook_url": " https://b.example.com/webhook/firebase\n"}
	url, err = resolveWebhookURL(context.Background(), config.Config{ParamPrefix: "/mail-pilot"}, params)
	require.NoError(t, err)
	require.Equal(t, "https://b.example.com/webhook/firebase", url)

	_, err = resolveWebhookURL(context.Background(), config.Config{ParamPrefix: "/other"}, params)
	require.ErrorContains(t, err, "resolve webhook url")

	_, err = resolveWebhookURL(context.Background(), config.Config{}, nil)
	require.Error(t, err)
}
