package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"

	"quiz-backend/handler"
	"quiz-backend/internal/config"
	"quiz-backend/internal/domain"
	"quiz-backend/internal/integrations/blobstore"
	"quiz-backend/internal/integrations/identity"
	"quiz-backend/internal/integrations/openai"
	"quiz-backend/internal/integrations/paramstore"
	"quiz-backend/internal/repository"
	"quiz-backend/internal/usecase"
)

// App holds the wired handler and whatever needs closing on shutdown.
type App struct {
	Handler *handler.Handler
	closers []func() error
}

func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Build wires every client from cfg using the default AWS credential chain.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load AWS config: %w", err)
	}
	return BuildWithAWS(ctx, cfg, awsCfg, blobstore.ClientOptionsFromEnv()...)
}

// BuildWithAWS wires every client from cfg. gcpOpts configure the Google
// clients (Cloud Storage and the Identity Toolkit).
func BuildWithAWS(ctx context.Context, cfg config.Config, awsCfg aws.Config, gcpOpts ...option.ClientOption) (*App, error) {
	a := &App{}

	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("app: create SSM client: %w", err)
	}

	repo, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.HistoryTable)
	if err != nil {
		return nil, fmt.Errorf("app: create history repository: %w", err)
	}

	s3Backend, err := blobstore.NewS3(awss3.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("app: create S3 backend: %w", err)
	}
	storeOpts := []blobstore.Option{
		blobstore.WithMaxBytes(cfg.MaxDocumentBytes),
		blobstore.WithBackend(domain.SchemeS3, s3Backend),
	}
	if cfg.GCSEnabled {
		gcs, err := blobstore.NewGCS(ctx, gcpOpts...)
		if err != nil {
			return nil, fmt.Errorf("app: create GCS backend: %w", err)
		}
		a.closers = append(a.closers, gcs.Close)
		storeOpts = append(storeOpts, blobstore.WithBackend(domain.SchemeGCS, gcs))
	} else {
		slog.Warn("gs:// documents are disabled", "env", "GCS_ENABLED")
	}
	docs := blobstore.New(storeOpts...)

	llm, err := openai.NewClient(params, cfg.ParamPrefix, docs, openai.WithBaseURL(cfg.OpenAIBaseURL))
	if err != nil {
		return nil, fmt.Errorf("app: create OpenAI client: %w", err)
	}

	toolkitHTTP, _, err := htransport.NewClient(ctx, append(gcpOpts, option.WithScopes(
		"https://www.googleapis.com/auth/cloud-platform",
		"https://www.googleapis.com/auth/identitytoolkit",
	))...)
	if err != nil {
		return nil, fmt.Errorf("app: create identity toolkit transport: %w", err)
	}
	accounts, err := identity.NewToolkit(toolkitHTTP, cfg.IdentityProjectID, cfg.IdentityToolkitURL)
	if err != nil {
		return nil, fmt.Errorf("app: create identity toolkit client: %w", err)
	}

	verifier, err := identity.NewVerifier(repo, accounts, identity.Config{
		Issuer:   cfg.IdentityIssuer,
		Audience: cfg.IdentityProjectID,
		JWKSURL:  cfg.IdentityJWKSURL,
	})
	if err != nil {
		return nil, fmt.Errorf("app: create identity verifier: %w", err)
	}

	svc, err := usecase.NewQuizService(params, verifier, docs, llm, repo, cfg.ParamPrefix)
	if err != nil {
		return nil, fmt.Errorf("app: create quiz service: %w", err)
	}

	a.Handler, err = handler.NewHandler(svc)
	if err != nil {
		return nil, fmt.Errorf("app: create handler: %w", err)
	}
	return a, nil
}
