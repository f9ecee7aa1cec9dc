package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quiz-backend/internal/domain"
)

type mockParams struct {
	vals  map[string]string
	err   error
	calls int
}

func (m *mockParams) GetParameter(_ context.Context, name string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.vals[name]
	if !ok {
		return "", fmt.Errorf("param not found: %s", name)
	}
	return v, nil
}

type transientParams struct {
	*mockParams
	failOnce bool
}

func (p *transientParams) GetParameter(ctx context.Context, name string) (string, error) {
	if p.failOnce {
		p.failOnce = false
		return "", errors.New("temporary ssm failure")
	}
	return p.mockParams.GetParameter(ctx, name)
}

type mockIdentity struct {
	uids      map[string]string
	verifyErr error
	deleteErr error
	deleted   []string
	calls     *[]string
}

func (m *mockIdentity) Verify(_ context.Context, token string) (string, error) {
	if m.verifyErr != nil {
		return "", m.verifyErr
	}
	uid, ok := m.uids[token]
	if !ok {
		return "", fmt.Errorf("unknown token: %w", domain.ErrInvalidCredential)
	}
	return uid, nil
}

func (m *mockIdentity) DeleteIdentity(_ context.Context, uid string) error {
	m.deleted = append(m.deleted, uid)
	if m.calls != nil {
		*m.calls = append(*m.calls, "deleteIdentity:"+uid)
	}
	return m.deleteErr
}

type mockDocs struct {
	exists    bool
	existsErr error
	deleteErr error
	checked   []domain.DocumentRef
	deleted   []domain.DocumentRef
}

func (m *mockDocs) Exists(_ context.Context, ref domain.DocumentRef) (bool, error) {
	m.checked = append(m.checked, ref)
	return m.exists, m.existsErr
}

func (m *mockDocs) Delete(_ context.Context, ref domain.DocumentRef) error {
	m.deleted = append(m.deleted, ref)
	return m.deleteErr
}

type mockLLM struct {
	answer    string
	err       error
	callCount int
	last      domain.InferenceRequest
}

func (m *mockLLM) Infer(_ context.Context, req domain.InferenceRequest) (string, error) {
	m.callCount++
	m.last = req
	return m.answer, m.err
}

type mockHistory struct {
	entries      []domain.HistoryEntry
	created      []domain.HistoryEntry
	createErr    error
	listErr      error
	deleteErr    error
	deleteAllErr error
	profileErr   error
	calls        []string
}

func (m *mockHistory) CreateEntry(_ context.Context, entry domain.HistoryEntry) (domain.HistoryEntry, error) {
	m.calls = append(m.calls, "create")
	if m.createErr != nil {
		return domain.HistoryEntry{}, m.createErr
	}
	entry.ID = fmt.Sprintf("entry-%d", len(m.created)+1)
	entry.Timestamp = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	m.created = append(m.created, entry)
	return entry, nil
}

func (m *mockHistory) ListEntries(_ context.Context, _ string) ([]domain.HistoryEntry, error) {
	m.calls = append(m.calls, "list")
	return m.entries, m.listErr
}

func (m *mockHistory) DeleteEntry(_ context.Context, owner, id string) error {
	m.calls = append(m.calls, "delete:"+owner+"/"+id)
	return m.deleteErr
}

func (m *mockHistory) DeleteAllEntries(_ context.Context, owner string) error {
	m.calls = append(m.calls, "deleteAll:"+owner)
	return m.deleteAllErr
}

func (m *mockHistory) DeleteProfile(_ context.Context, owner string) error {
	m.calls = append(m.calls, "deleteProfile:"+owner)
	return m.profileErr
}

const sampleQuestions = `[{"Frage":"Q1?","A":"x","B":"y","Korrekt":"A"}]`

func defaultParams() *mockParams {
	return &mockParams{vals: map[string]string{"/prefix/config/openai_model": "gpt-4o-mini"}}
}

type fixture struct {
	params   *mockParams
	identity *mockIdentity
	docs     *mockDocs
	llm      *mockLLM
	history  *mockHistory
	svc      *QuizService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		params:   defaultParams(),
		identity: &mockIdentity{uids: map[string]string{"good-token": "uid-1"}},
		docs:     &mockDocs{exists: true},
		llm:      &mockLLM{answer: sampleQuestions},
		history:  &mockHistory{},
	}
	svc, err := NewQuizService(f.params, f.identity, f.docs, f.llm, f.history, "/prefix/")
	require.NoError(t, err)
	f.svc = svc
	return f
}

func expectError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func TestNewQuizService_ValidatesDependencies(t *testing.T) {
	f := newFixture(t)

	_, err := NewQuizService(nil, f.identity, f.docs, f.llm, f.history, "/prefix")
	require.Error(t, err)
	_, err = NewQuizService(f.params, nil, f.docs, f.llm, f.history, "/prefix")
	require.Error(t, err)
	_, err = NewQuizService(f.params, f.identity, nil, f.llm, f.history, "/prefix")
	require.Error(t, err)
	_, err = NewQuizService(f.params, f.identity, f.docs, nil, f.history, "/prefix")
	require.Error(t, err)
	_, err = NewQuizService(f.params, f.identity, f.docs, f.llm, nil, "/prefix")
	require.Error(t, err)
	_, err = NewQuizService(f.params, f.identity, f.docs, f.llm, f.history, " / ")
	require.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)

	uid, err := f.svc.Authenticate(context.Background(), "good-token")
	require.NoError(t, err)
	require.Equal(t, "uid-1", uid)

	_, err = f.svc.Authenticate(context.Background(), "  ")
	expectError(t, err, ErrorUnauthorized, "missing_token")

	_, err = f.svc.Authenticate(context.Background(), "forged")
	expectError(t, err, ErrorUnauthorized, "invalid_token")

	f.identity.verifyErr = errors.New("registry unavailable")
	_, err = f.svc.Authenticate(context.Background(), "good-token")
	expectError(t, err, ErrorInternal, "identity_error")
}

func TestGenerate_HappyPath(t *testing.T) {
	f := newFixture(t)

	questions, err := f.svc.Generate(context.Background(), "uid-1", GenerateInput{DocumentRef: "gs://bucket1/in.pdf"})
	require.NoError(t, err)
	require.Equal(t, []domain.Question{{Prompt: "Q1?", OptionA: "x", OptionB: "y", Correct: domain.LabelA}}, questions)

	require.Len(t, f.history.created, 1)
	entry := f.history.created[0]
	require.Equal(t, "uid-1", entry.Owner)
	require.Equal(t, "in.pdf", entry.SourceName)
	require.Equal(t, questions, entry.Questions)

	require.Equal(t, 1, f.llm.callCount)
	require.Equal(t, "gpt-4o-mini", f.llm.last.Model)
	require.Equal(t, "gs://bucket1/in.pdf", f.llm.last.Document.Raw)
	require.Equal(t, "quiz_questions", f.llm.last.Output.Name)
	require.Contains(t, f.llm.last.Instruction, "Korrekt")

	require.Len(t, f.docs.deleted, 1)
	require.Equal(t, "bucket1/in.pdf", f.docs.deleted[0].Location())
}

func TestGenerate_EmptyDocumentRef_TouchesNothing(t *testing.T) {
	f := newFixture(t)

	for _, ref := range []string{"", "   "} {
		_, err := f.svc.Generate(context.Background(), "uid-1", GenerateInput{DocumentRef: ref})
		expectError(t, err, ErrorInvalidInput, "empty_document_ref")
	}
	require.Zero(t, f.llm.callCount)
	require.Empty(t, f.history.calls)
	require.Empty(t, f.docs.checked)
	require.Empty(t, f.docs.deleted)
}

func TestGenerate_MalformedOutput_NoEntry(t *testing.T) {
	cases := map[string]string{
		"not json":        `here are your questions`,
		"object":          `{"Frage":"Q1?","A":"x","B":"y","Korrekt":"A"}`,
		"null":            `null`,
		"unknown field":   `[{"Frage":"Q1?","A":"x","B":"y","Korrekt":"A","C":"z"}]`,
		"bad option":      `[{"Frage":"Q1?","A":"x","B":"y","Korrekt":"C"}]`,
		"trailing values": sampleQuestions + `[]`,
	}
	for name, answer := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.llm.answer = answer

			_, err := f.svc.Generate(context.Background(), "uid-1", GenerateInput{DocumentRef: "gs://bucket1/in.pdf"})
			expectError(t, err, ErrorInternal, "malformed_questions")
			require.Empty(t, f.history.created)
			require.Empty(t, f.docs.deleted)
		})
	}
}

func TestGenerate_InferenceError(t *testing.T) {
	f := newFixture(t)
	f.llm.err = errors.New("model unavailable")

	_, err := f.svc.Generate(context.Background(), "uid-1", GenerateInput{DocumentRef: "gs://bucket1/in.pdf"})
	expectError(t, err, ErrorInternal, "inference_error")
	require.Empty(t, f.history.created)
}

type statusErr struct{ code int }

func (e statusErr) Error() string       { return fmt.Sprintf("upstream status %d", e.code) }
func (e statusErr) HTTPStatusCode() int { return e.code }

func TestUpstreamStatusCode(t *testing.T) {
	code, ok := upstreamStatusCode(fmt.Errorf("openai: request failed: %w", statusErr{code: 429}))
	require.True(t, ok)
	require.Equal(t, 429, code)

	_, ok = upstreamStatusCode(errors.New("dial tcp: timeout"))
	require.False(t, ok)
}

func TestGenerate_UpstreamStatusStillInternal(t *testing.T) {
	f := newFixture(t)
	f.llm.err = fmt.Errorf("openai: request failed: %w", statusErr{code: 429})

	_, err := f.svc.Generate(context.Background(), "uid-1", GenerateInput{DocumentRef: "gs://bucket1/in.pdf"})
	expectError(t, err, ErrorInternal, "inference_error")
	require.Empty(t, f.history.created)
}

func TestGenerate_HistoryWriteError(t *testing.T) {
	f := newFixture(t)
	f.history.createErr = errors.New("write failed")

	_, err := f.svc.Generate(context.Background(), "uid-1", GenerateInput{DocumentRef: "gs://bucket1/in.pdf"})
	expectError(t, err, ErrorInternal, "history_write_error")
	require.Empty(t, f.docs.deleted)
}

func TestGenerate_CleanupFailuresAreInvisible(t *testing.T) {
	f := newFixture(t)
	f.docs.deleteErr = errors.New("permission denied")

	questions, err := f.svc.Generate(context.Background(), "uid-1", GenerateInput{DocumentRef: "gs://bucket1/in.pdf"})
	require.NoError(t, err)
	require.Len(t, questions, 1)
	require.Len(t, f.history.created, 1)

	f = newFixture(t)
	f.docs.existsErr = errors.New("timeout")
	_, err = f.svc.Generate(context.Background(), "uid-1", GenerateInput{DocumentRef: "gs://bucket1/in.pdf"})
	require.NoError(t, err)
	require.Len(t, f.history.created, 1)
	require.Empty(t, f.docs.deleted)
}

func TestGenerate_MissingDocumentIsNotDeleted(t *testing.T) {
	f := newFixture(t)
	f.docs.exists = false

	_, err := f.svc.Generate(context.Background(), "uid-1", GenerateInput{DocumentRef: "s3://bucket1/in.pdf"})
	require.NoError(t, err)
	require.Len(t, f.docs.checked, 1)
	require.Empty(t, f.docs.deleted)
}

func TestGenerate_NonAddressableRefSkipsCleanup(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Generate(context.Background(), "uid-1", GenerateInput{DocumentRef: "https://example.com/in.pdf"})
	require.NoError(t, err)
	require.Equal(t, 1, f.llm.callCount)
	require.Len(t, f.history.created, 1)
	require.Empty(t, f.docs.checked)

	_, err = f.svc.Generate(context.Background(), "uid-1", GenerateInput{DocumentRef: "gs://bucket-only"})
	require.NoError(t, err)
	require.Empty(t, f.docs.checked)
}

func TestGenerate_ModelConfigErrors(t *testing.T) {
	f := newFixture(t)
	f.params.err = errors.New("ssm unavailable")
	_, err := f.svc.Generate(context.Background(), "uid-1", GenerateInput{DocumentRef: "gs://bucket1/in.pdf"})
	expectError(t, err, ErrorInternal, "model_config_error")
	require.Zero(t, f.llm.callCount)

	f = newFixture(t)
	f.params.vals["/prefix/config/openai_model"] = " "
	_, err = f.svc.Generate(context.Background(), "uid-1", GenerateInput{DocumentRef: "gs://bucket1/in.pdf"})
	expectError(t, err, ErrorInternal, "model_config_error")
}

func TestGenerate_ModelConfigIsCachedAndRetried(t *testing.T) {
	p := &transientParams{mockParams: defaultParams(), failOnce: true}
	f := newFixture(t)
	svc, err := NewQuizService(p, f.identity, f.docs, f.llm, f.history, "/prefix")
	require.NoError(t, err)

	_, err = svc.Generate(context.Background(), "uid-1", GenerateInput{DocumentRef: "gs://bucket1/in.pdf"})
	expectError(t, err, ErrorInternal, "model_config_error")

	_, err = svc.Generate(context.Background(), "uid-1", GenerateInput{DocumentRef: "gs://bucket1/in.pdf"})
	require.NoError(t, err)
	_, err = svc.Generate(context.Background(), "uid-1", GenerateInput{DocumentRef: "gs://bucket1/in.pdf"})
	require.NoError(t, err)
	require.Equal(t, 1, p.mockParams.calls)
}

func TestListHistory(t *testing.T) {
	f := newFixture(t)
	f.history.entries = []domain.HistoryEntry{{ID: "b"}, {ID: "a"}}

	entries, err := f.svc.ListHistory(context.Background(), "uid-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	f.history.listErr = errors.New("query failed")
	_, err = f.svc.ListHistory(context.Background(), "uid-1")
	expectError(t, err, ErrorInternal, "history_list_error")
}

func TestDeleteHistoryEntry(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.DeleteHistoryEntry(context.Background(), "uid-1", "entry-9"))
	require.Equal(t, []string{"delete:uid-1/entry-9"}, f.history.calls)

	require.NoError(t, f.svc.DeleteHistoryEntry(context.Background(), "uid-1", " "))
	require.Len(t, f.history.calls, 1, "empty id must not reach the repository")

	f.history.deleteErr = errors.New("delete failed")
	err := f.svc.DeleteHistoryEntry(context.Background(), "uid-1", "entry-9")
	expectError(t, err, ErrorInternal, "history_delete_error")
}

func TestDeleteAccount_Order(t *testing.T) {
	f := newFixture(t)
	f.identity.calls = &f.history.calls

	require.NoError(t, f.svc.DeleteAccount(context.Background(), "uid-1"))
	require.Equal(t, []string{"deleteAll:uid-1", "deleteProfile:uid-1", "deleteIdentity:uid-1"}, f.history.calls)
	require.Equal(t, []string{"uid-1"}, f.identity.deleted)
}

func TestDeleteAccount_Errors(t *testing.T) {
	f := newFixture(t)
	f.history.deleteAllErr = errors.New("boom")
	err := f.svc.DeleteAccount(context.Background(), "uid-1")
	expectError(t, err, ErrorInternal, "account_history_error")
	require.Empty(t, f.identity.deleted)

	f = newFixture(t)
	f.history.profileErr = errors.New("boom")
	err = f.svc.DeleteAccount(context.Background(), "uid-1")
	expectError(t, err, ErrorInternal, "account_profile_error")
	require.Empty(t, f.identity.deleted)

	f = newFixture(t)
	f.identity.deleteErr = errors.New("toolkit: status 403")
	err = f.svc.DeleteAccount(context.Background(), "uid-1")
	expectError(t, err, ErrorInternal, "account_identity_error")
	require.Equal(t, []string{"deleteAll:uid-1", "deleteProfile:uid-1"}, f.history.calls)
}

func TestBuildQuestionInstruction_IncludesContract(t *testing.T) {
	content := buildQuestionInstruction()
	require.Contains(t, content, "Task:")
	require.Contains(t, content, "Output Contract:")
	require.Contains(t, content, "JSON array")
	require.Contains(t, content, "Korrekt")
}

func TestParseQuestions(t *testing.T) {
	out, err := parseQuestions(" " + sampleQuestions + "\n")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, domain.LabelA, out[0].Correct)

	out, err = parseQuestions(`[]`)
	require.NoError(t, err)
	require.Empty(t, out)
	require.NotNil(t, out)

	_, err = parseQuestions(`[{"Frage":"Q?","A":"x","B":"y","Korrekt":"b"}]`)
	require.Error(t, err)
}

func TestParseQuestions_RejectsInexactShapes(t *testing.T) {
	cases := map[string]string{
		"lower-case keys": `[{"frage":"Q?","a":"x","b":"y","korrekt":"A"}]`,
		"missing key":     `[{"Frage":"Q?","A":"x","Korrekt":"A"}]`,
		"extra key":       `[{"Frage":"Q?","A":"x","B":"y","Korrekt":"A","C":"z"}]`,
		"null value":      `[{"Frage":null,"A":"x","B":"y","Korrekt":"A"}]`,
		"number value":    `[{"Frage":1,"A":"x","B":"y","Korrekt":"A"}]`,
		"object root":     `{"Frage":"Q?","A":"x","B":"y","Korrekt":"A"}`,
		"null root":       `null`,
		"trailing data":   `[] []`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseQuestions(raw)
			require.Error(t, err)
		})
	}
}
