package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"quiz-backend/internal/domain"
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
	DeleteIdentity(ctx context.Context, uid string) error
}

type DocumentStore interface {
	Exists(ctx context.Context, ref domain.DocumentRef) (bool, error)
	Delete(ctx context.Context, ref domain.DocumentRef) error
}

type InferenceClient interface {
	Infer(ctx context.Context, req domain.InferenceRequest) (string, error)
}

// httpStatusCoder is implemented by inference errors that carry the
// upstream HTTP status.
type httpStatusCoder interface {
	HTTPStatusCode() int
}

type HistoryRepository interface {
	CreateEntry(ctx context.Context, entry domain.HistoryEntry) (domain.HistoryEntry, error)
	ListEntries(ctx context.Context, owner string) ([]domain.HistoryEntry, error)
	DeleteEntry(ctx context.Context, owner, id string) error
	DeleteAllEntries(ctx context.Context, owner string) error
	DeleteProfile(ctx context.Context, owner string) error
}

// QuizService composes identity, inference, history and document storage
// into the user-facing quiz operations. It holds no per-request state.
type QuizService struct {
	params      ParamGetter
	identity    IdentityVerifier
	docs        DocumentStore
	llm         InferenceClient
	history     HistoryRepository
	paramPrefix string

	cacheMu     sync.RWMutex
	cacheLoaded bool
	openaiModel string
}

type GenerateInput struct {
	DocumentRef string
}

func NewQuizService(p ParamGetter, id IdentityVerifier, docs DocumentStore, llm InferenceClient, h HistoryRepository, paramPrefix string) (*QuizService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if id == nil {
		return nil, errors.New("usecase: identity verifier must not be nil")
	}
	if docs == nil {
		return nil, errors.New("usecase: document store must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: inference client must not be nil")
	}
	if h == nil {
		return nil, errors.New("usecase: history repository must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	return &QuizService{
		params:      p,
		identity:    id,
		docs:        docs,
		llm:         llm,
		history:     h,
		paramPrefix: paramPrefix,
	}, nil
}

// Authenticate resolves a bearer token to the caller's uid.
func (s *QuizService) Authenticate(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", newError(ErrorUnauthorized, "missing_token", nil)
	}
	uid, err := s.identity.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredential) {
			return "", newError(ErrorUnauthorized, "invalid_token", err)
		}
		return "", newError(ErrorInternal, "identity_error", err)
	}
	return uid, nil
}

// Generate asks the model for questions about the referenced document,
// stores them as a new history entry and returns them. Removing the source
// document afterwards is best effort.
func (s *QuizService) Generate(ctx context.Context, uid string, in GenerateInput) ([]domain.Question, error) {
	ref, err := domain.ParseDocumentRef(in.DocumentRef)
	if err != nil {
		return nil, newError(ErrorInvalidInput, "empty_document_ref", err)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return nil, newError(ErrorInternal, "model_config_error", err)
	}

	slog.InfoContext(ctx, "generating questions", "uid", uid, "document", ref.Raw)

	raw, err := s.llm.Infer(ctx, domain.InferenceRequest{
		Model:       s.model(),
		Document:    ref,
		Instruction: buildQuestionInstruction(),
		Output:      questionSchema(),
	})
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok {
			slog.WarnContext(ctx, "inference rejected upstream", "uid", uid, "upstream_status", status)
		}
		return nil, newError(ErrorInternal, "inference_error", err)
	}

	questions, err := parseQuestions(raw)
	if err != nil {
		return nil, newError(ErrorInternal, "malformed_questions", err)
	}

	if _, err := s.history.CreateEntry(ctx, domain.HistoryEntry{
		Owner:      uid,
		SourceName: ref.SourceName(),
		Questions:  questions,
	}); err != nil {
		return nil, newError(ErrorInternal, "history_write_error", err)
	}

	s.cleanupDocument(ctx, ref)
	return questions, nil
}

// cleanupDocument never fails the caller: the stored questions are the
// result, the uploaded input is disposable.
func (s *QuizService) cleanupDocument(ctx context.Context, ref domain.DocumentRef) {
	if !ref.Addressable() {
		return
	}
	exists, err := s.docs.Exists(ctx, ref)
	if err != nil {
		slog.ErrorContext(ctx, "document cleanup failed", "document", ref.Raw, "err", err)
		return
	}
	if !exists {
		return
	}
	if err := s.docs.Delete(ctx, ref); err != nil {
		slog.ErrorContext(ctx, "document cleanup failed", "document", ref.Raw, "err", err)
		return
	}
	slog.InfoContext(ctx, "document deleted", "location", ref.Location())
}

// ListHistory returns the caller's entries, newest first.
func (s *QuizService) ListHistory(ctx context.Context, uid string) ([]domain.HistoryEntry, error) {
	entries, err := s.history.ListEntries(ctx, uid)
	if err != nil {
		return nil, newError(ErrorInternal, "history_list_error", err)
	}
	return entries, nil
}

// DeleteHistoryEntry removes one entry. Unknown and empty ids succeed; an
// empty id never reaches the repository.
func (s *QuizService) DeleteHistoryEntry(ctx context.Context, uid, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	if err := s.history.DeleteEntry(ctx, uid, id); err != nil {
		return newError(ErrorInternal, "history_delete_error", err)
	}
	return nil
}

// DeleteAccount erases history, then the profile, then the identity. A
// failure part way leaves the earlier steps applied.
func (s *QuizService) DeleteAccount(ctx context.Context, uid string) error {
	if err := s.history.DeleteAllEntries(ctx, uid); err != nil {
		return newError(ErrorInternal, "account_history_error", err)
	}
	if err := s.history.DeleteProfile(ctx, uid); err != nil {
		return newError(ErrorInternal, "account_profile_error", err)
	}
	if err := s.identity.DeleteIdentity(ctx, uid); err != nil {
		return newError(ErrorInternal, "account_identity_error", err)
	}
	slog.InfoContext(ctx, "account deleted", "uid", uid)
	return nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

func (s *QuizService) model() string {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.openaiModel
}

func (s *QuizService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	openaiModel, err := s.params.GetParameter(ctx, s.paramPrefix+"/config/openai_model")
	if err != nil {
		return fmt.Errorf("usecase: load openai model: %w", err)
	}
	openaiModel = strings.TrimSpace(openaiModel)
	if openaiModel == "" {
		return errors.New("usecase: openai model parameter is empty")
	}

	s.openaiModel = openaiModel
	s.cacheLoaded = true
	return nil
}
