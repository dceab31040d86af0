package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/examroom/internal/config"
	"github.com/stemsi/examroom/internal/grading"
	"github.com/stemsi/examroom/internal/metrics"
	"github.com/stemsi/examroom/internal/middleware"
	"github.com/stemsi/examroom/internal/model"
	"github.com/stemsi/examroom/internal/repository"
	"github.com/stemsi/examroom/internal/response"
	"github.com/stemsi/examroom/internal/service"
	"github.com/stemsi/examroom/internal/session"
	"github.com/stemsi/examroom/internal/unlock"
	"github.com/stemsi/examroom/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

// memStore is an in-memory stand-in for the exam, question and
// submission repositories.
type memStore struct {
	mu          sync.Mutex
	exams       map[uuid.UUID]*model.Exam
	questions   map[uuid.UUID][]model.Question
	submissions []*model.Submission
}

func newMemStore() *memStore {
	return &memStore{exams: map[uuid.UUID]*model.Exam{}, questions: map[uuid.UUID][]model.Question{}}
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exams[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) ListPaginated(context.Context, int, int) ([]model.Exam, int, error) {
	exams, _ := m.ListAvailable(context.Background())
	return exams, len(exams), nil
}

func (m *memStore) ListAvailable(context.Context) ([]model.Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Exam, 0, len(m.exams))
	for _, e := range m.exams {
		out = append(out, *e)
	}
	return out, nil
}

func (m *memStore) Create(_ context.Context, e *model.Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New()
	cp := *e
	m.exams[e.ID] = &cp
	return nil
}

func (m *memStore) UpdateToken(_ context.Context, id uuid.UUID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exams[id]
	if !ok {
		return model.ErrNotFound
	}
	e.Token = token
	return nil
}

func (m *memStore) Update(_ context.Context, e *model.Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.exams[e.ID]
	if !ok {
		return model.ErrNotFound
	}
	e.Token, e.CreatedBy, e.CreatedAt = cur.Token, cur.CreatedBy, cur.CreatedAt
	cp := *e
	m.exams[e.ID] = &cp
	return nil
}

func (m *memStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exams[id]; !ok {
		return model.ErrNotFound
	}
	delete(m.exams, id)
	delete(m.questions, id)
	return nil
}

type questionTable struct{ *memStore }

func (q questionTable) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.questions[examID], nil
}

func (q questionTable) Create(_ context.Context, question *model.Question) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	question.ID = uuid.New()
	q.questions[question.ExamID] = append(q.questions[question.ExamID], *question)
	return nil
}

func (q questionTable) Update(_ context.Context, question *model.Question) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, cur := range q.questions[question.ExamID] {
		if cur.ID == question.ID {
			q.questions[question.ExamID][i] = *question
			return nil
		}
	}
	return model.ErrNotFound
}

func (q questionTable) Delete(_ context.Context, examID, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.questions[examID]
	for i, cur := range list {
		if cur.ID == id {
			q.questions[examID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return model.ErrNotFound
}

type submissionTable struct{ *memStore }

func (s submissionTable) Create(_ context.Context, sub *model.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.ID = uuid.New()
	s.submissions = append(s.submissions, sub)
	return nil
}

func (s submissionTable) GetByID(_ context.Context, id uuid.UUID) (*model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.submissions {
		if sub.ID == id {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, model.ErrNotFound
}

func (s submissionTable) ExistsForStudent(_ context.Context, examID uuid.UUID, studentID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.submissions {
		if sub.ExamID == examID && sub.StudentID == studentID {
			return true, nil
		}
	}
	return false, nil
}

func (s submissionTable) ListByStudent(_ context.Context, studentID int) ([]model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Submission
	for _, sub := range s.submissions {
		if sub.StudentID == studentID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (s submissionTable) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submissions)
}

type nopFeed struct{}

func (nopFeed) Publish(context.Context, uuid.UUID, service.MonitorEvent) error { return nil }
func (nopFeed) QueueViolation(context.Context, model.Violation) error         { return nil }

type idleTicker struct{ ch chan time.Time }

func (t idleTicker) C() <-chan time.Time { return t.ch }
func (t idleTicker) Stop()               {}

type fixture struct {
	store    *memStore
	sessions *service.ExamSessionService
	router   *gin.Engine
}

// withStudent stands in for the JWT middleware.
func withStudent(c *gin.Context) {
	id := 7
	fmt.Sscan(c.Query("sid"), &id)
	c.Set(middleware.ContextKeyClaims, &service.Claims{UserID: id, TokenType: service.TokenTypeStudent})
	c.Next()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	sessions := service.NewExamSessionService(
		store, questionTable{store}, submissionTable{store},
		unlock.NewGate(unlock.NewMemoryStore()), nopFeed{}, metrics.New(false),
		service.SessionConfig{
			SubmitGrace: 20 * time.Millisecond,
			NewTicker:   func(time.Duration) session.Ticker { return idleTicker{ch: make(chan time.Time)} },
		},
		zerolog.Nop(),
	)
	exams := NewExamHandler(service.NewExamService(store, questionTable{store}))
	portal := NewStudentPortalHandler(sessions, service.NewResultService(submissionTable{store}, store, questionTable{store}))
	wsh := NewWSHandler(sessions, zerolog.Nop(), nil)

	r := gin.New()
	r.Use(response.RequestIDMiddleware(), withStudent)
	r.POST("/exams", exams.CreateExam)
	r.GET("/exams/:id", exams.GetExam)
	r.PUT("/exams/:id", exams.UpdateExam)
	r.DELETE("/exams/:id", exams.DeleteExam)
	r.POST("/exams/:id/questions", exams.AddQuestion)
	r.PUT("/exams/:id/questions/:question_id", exams.UpdateQuestion)
	r.DELETE("/exams/:id/questions/:question_id", exams.DeleteQuestion)
	r.GET("/lobby", portal.GetLobby)
	r.POST("/unlock", portal.RedeemToken)
	r.GET("/stream/:exam_id", wsh.ExamWebSocketStream)
	return &fixture{store: store, sessions: sessions, router: r}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var env response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func (f *fixture) seedExam(token string) *model.Exam {
	e := &model.Exam{Title: "Biology", DurationInMinutes: 30, Token: token}
	f.store.Create(context.Background(), e)
	questionTable{f.store}.Create(context.Background(), &model.Question{
		ExamID: e.ID, Type: model.QuestionTypeMultipleChoice, QuestionText: "Pick",
		Options: []string{"a", "b"}, CorrectAnswer: "B",
	})
	return e
}

func TestClassify(t *testing.T) {
	closed := time.Now()
	cases := []struct {
		err    error
		status int
		code   response.ErrCode
	}{
		{fmt.Errorf("get: %w", model.ErrNotFound), http.StatusNotFound, response.ErrNotFound},
		{&session.AccessError{Window: model.WindowUpcoming}, http.StatusForbidden, response.ErrExamNotOpen},
		{&session.AccessError{Window: model.WindowClosed, Closes: &closed}, http.StatusForbidden, response.ErrExamClosed},
		{unlock.ErrInvalidToken, http.StatusBadRequest, response.ErrInvalidEntryToken},
		{service.ErrExamLocked, http.StatusForbidden, response.ErrExamLocked},
		{service.ErrAlreadySubmitted, http.StatusConflict, response.ErrAlreadySubmitted},
		{service.ErrAttemptActive, http.StatusConflict, response.ErrAttemptActive},
		{fmt.Errorf("%w: bad", model.ErrInvalidQuestion), http.StatusBadRequest, response.ErrInvalidQuestion},
		{fmt.Errorf("finalize: %w", grading.ErrAlreadyGraded), http.StatusConflict, response.ErrAlreadyGraded},
		{grading.ErrInvalidScore, http.StatusBadRequest, response.ErrInvalidScore},
		{grading.ErrNotManual, http.StatusBadRequest, response.ErrNotManual},
		{service.ErrInvalidCredentials, http.StatusUnauthorized, response.ErrInvalidCredentials},
		{repository.ErrUserInUse, http.StatusConflict, response.ErrInUse},
		{service.ErrRegistrationClosed, http.StatusForbidden, response.ErrRegistrationOff},
		{fmt.Errorf("start: %w", session.ErrAbandoned), http.StatusServiceUnavailable, response.ErrServiceUnavailable},
		{errors.New("connection reset"), http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tc := range cases {
		status, code := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestCreateExamAndQuestion(t *testing.T) {
	f := newFixture(t)

	w, env := f.do(t, http.MethodPost, "/exams", `{"title":"ab"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.ErrValidation, env.Error.Code)

	w, env = f.do(t, http.MethodPost, "/exams", `{"title":"Chemistry","duration_in_minutes":45}`)
	require.Equal(t, http.StatusCreated, w.Code)
	exam := env.Data.(map[string]any)["exam"].(map[string]any)
	assert.Len(t, exam["token"], service.TokenLength)
	id := exam["id"].(string)

	w, env = f.do(t, http.MethodPost, "/exams/"+id+"/questions",
		`{"type":"multipleChoice","question_text":"Pick","options":["x"],"correct_answer":"A"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.ErrInvalidQuestion, env.Error.Code)

	w, _ = f.do(t, http.MethodPost, "/exams/"+id+"/questions",
		`{"type":"trueFalse","question_text":"Water is wet","correct_answer":"TRUE"}`)
	assert.Equal(t, http.StatusCreated, w.Code)

	w, env = f.do(t, http.MethodGet, "/exams/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	questions := env.Data.(map[string]any)["questions"].([]any)
	require.Len(t, questions, 1)
	assert.Equal(t, "true", questions[0].(map[string]any)["correct_answer"])

	w, env = f.do(t, http.MethodGet, "/exams/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.ErrNotFound, env.Error.Code)

	w, _ = f.do(t, http.MethodGet, "/exams/nope", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEditAndDeleteExam(t *testing.T) {
	f := newFixture(t)
	exam := f.seedExam("AB12CD34")
	id := exam.ID.String()
	qid := f.store.questions[exam.ID][0].ID.String()

	w, env := f.do(t, http.MethodPut, "/exams/"+id, `{"title":"Biology II","duration_in_minutes":50}`)
	require.Equal(t, http.StatusOK, w.Code)
	updated := env.Data.(map[string]any)["exam"].(map[string]any)
	assert.Equal(t, "Biology II", updated["title"])
	assert.Equal(t, "AB12CD34", updated["token"])

	w, env = f.do(t, http.MethodPut, "/exams/"+id, `{"title":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.ErrValidation, env.Error.Code)

	w, _ = f.do(t, http.MethodPut, "/exams/"+id+"/questions/"+qid,
		`{"type":"trueFalse","question_text":"Cells divide","correct_answer":"True"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", f.store.questions[exam.ID][0].CorrectAnswer)

	w, env = f.do(t, http.MethodPut, "/exams/"+id+"/questions/"+uuid.NewString(),
		`{"type":"essay","question_text":"Discuss"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.ErrNotFound, env.Error.Code)

	w, _ = f.do(t, http.MethodDelete, "/exams/"+id+"/questions/nope", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodDelete, "/exams/"+id+"/questions/"+qid, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, f.store.questions[exam.ID])

	w, _ = f.do(t, http.MethodDelete, "/exams/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	w, env = f.do(t, http.MethodGet, "/exams/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.ErrNotFound, env.Error.Code)

	w, _ = f.do(t, http.MethodDelete, "/exams/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLobbyAndRedeem(t *testing.T) {
	f := newFixture(t)
	exam := f.seedExam("AB12CD34")

	_, env := f.do(t, http.MethodGet, "/lobby", "")
	lobby := env.Data.(map[string]any)["exams"].([]any)
	require.Len(t, lobby, 1)
	assert.Equal(t, string(service.LobbyStatusLocked), lobby[0].(map[string]any)["lobby_status"])
	assert.NotContains(t, lobby[0], "token")

	w, env := f.do(t, http.MethodPost, "/unlock", `{"token":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.ErrInvalidEntryToken, env.Error.Code)

	w, env = f.do(t, http.MethodPost, "/unlock", `{"token":"  ab12cd34 "}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, exam.ID.String(), env.Data.(map[string]any)["exam"].(map[string]any)["id"])

	_, env = f.do(t, http.MethodGet, "/lobby", "")
	lobby = env.Data.(map[string]any)["exams"].([]any)
	assert.Equal(t, string(service.LobbyStatusAvailable), lobby[0].(map[string]any)["lobby_status"])
	assert.Contains(t, lobby[0], "unlocked_at")
}

func dial(t *testing.T, srv *httptest.Server, examID uuid.UUID, sid int) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + fmt.Sprintf("/stream/%s?sid=%d", examID, sid)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestExamStreamSubmits(t *testing.T) {
	f := newFixture(t)
	exam := f.seedExam("")
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	conn := dial(t, srv, exam.ID, 7)
	started := readEvent(t, conn)
	require.Equal(t, "started", started["event"])
	questions := started["questions"].([]any)
	require.Len(t, questions, 1)
	q := questions[0].(map[string]any)
	assert.NotContains(t, q, "correct_answer")

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "answer", "question_id": q["id"], "answer": "b"}))
	assert.Equal(t, "saved", readEvent(t, conn)["event"])

	// a second connection for the same attempt is refused
	other := dial(t, srv, exam.ID, 7)
	refused := readEvent(t, other)
	assert.Equal(t, "error", refused["event"])
	assert.Equal(t, string(response.ErrAttemptActive), refused["code"])

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "submit"}))
	var submitted map[string]any
	for submitted == nil {
		msg := readEvent(t, conn)
		if msg["event"] == "submitted" {
			submitted = msg
		}
	}
	assert.Equal(t, string(session.ReasonManual), submitted["reason"])
	assert.Equal(t, 1, submissionTable{f.store}.count())

	require.Eventually(t, func() bool { return f.sessions.Attempt(7, exam.ID) == nil }, 2*time.Second, 10*time.Millisecond)

	// the attempt cannot be started again
	again := dial(t, srv, exam.ID, 7)
	msg := readEvent(t, again)
	assert.Equal(t, string(response.ErrAlreadySubmitted), msg["code"])
}

func TestExamStreamDisconnectAbandons(t *testing.T) {
	f := newFixture(t)
	exam := f.seedExam("")
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	conn := dial(t, srv, exam.ID, 8)
	assert.Equal(t, "started", readEvent(t, conn)["event"])
	require.Eventually(t, func() bool { return f.sessions.Attempt(8, exam.ID) != nil }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return f.sessions.Attempt(8, exam.ID) == nil }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, submissionTable{f.store}.count())
}

func TestExamStreamLocked(t *testing.T) {
	f := newFixture(t)
	exam := f.seedExam("AB12CD34")
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	conn := dial(t, srv, exam.ID, 9)
	msg := readEvent(t, conn)
	assert.Equal(t, "error", msg["event"])
	assert.Equal(t, string(response.ErrExamLocked), msg["code"])
}

// userRows is an in-memory users table for the account handlers.
type userRows map[int]*model.User

func (u userRows) GetByID(_ context.Context, id int) (*model.User, error) {
	if user, ok := u[id]; ok {
		cp := *user
		return &cp, nil
	}
	return nil, model.ErrNotFound
}

func (u userRows) GetByEmail(context.Context, string) (*model.User, error) {
	return nil, model.ErrNotFound
}

func (u userRows) Create(context.Context, *model.User) error { return nil }

func (u userRows) UpdatePassword(_ context.Context, id int, hash string) error {
	u[id].PasswordHash = hash
	return nil
}

func (u userRows) UpdateProfile(_ context.Context, user *model.User) error {
	u[user.ID].DisplayName, u[user.ID].Email = user.DisplayName, user.Email
	return nil
}

func (u userRows) Delete(_ context.Context, id int) error {
	if _, ok := u[id]; !ok {
		return model.ErrNotFound
	}
	return repository.ErrUserInUse
}

func (u userRows) ListPaginated(context.Context, model.Role, int, int) ([]model.User, int, error) {
	return nil, 0, nil
}

func TestAccountHandlers(t *testing.T) {
	cfg := &config.Config{JWTSecret: "test", JWTExpiry: time.Hour, BcryptCost: bcrypt.MinCost}
	rows := userRows{}
	auth := service.NewAuthService(cfg, nil, rows)
	hash, err := auth.HashPassword("secret1")
	require.NoError(t, err)
	rows[7] = &model.User{ID: 7, Email: "self@example.com", DisplayName: "Self", PasswordHash: hash, Role: model.RoleAdmin}
	rows[8] = &model.User{ID: 8, Email: "author@example.com", DisplayName: "Author", Role: model.RoleAdmin}

	users := NewUserHandler(service.NewUserService(rows, auth, false))
	r := gin.New()
	r.Use(response.RequestIDMiddleware(), withStudent)
	r.DELETE("/users/:id", users.DeleteUser)
	r.POST("/register", users.Register)
	r.PUT("/me", users.UpdateProfile)
	f := &fixture{router: r}

	w, env := f.do(t, http.MethodDelete, "/users/7", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.ErrSelfDelete, env.Error.Code)

	w, env = f.do(t, http.MethodDelete, "/users/8", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, response.ErrInUse, env.Error.Code)

	w, env = f.do(t, http.MethodPost, "/register", `{"email":"new@example.com","display_name":"New","password":"secret1"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, response.ErrRegistrationOff, env.Error.Code)

	w, env = f.do(t, http.MethodPut, "/me", `{"display_name":"Self","password":"secret2"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Error.Fields, "current_password")

	w, env = f.do(t, http.MethodPut, "/me", `{"display_name":"Self","password":"secret2","current_password":"nope12"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Error.Fields, "current_password")

	w, _ = f.do(t, http.MethodPut, "/me", `{"display_name":"Renamed","password":"secret2","current_password":"secret1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Renamed", rows[7].DisplayName)
	assert.NoError(t, auth.CheckPassword(rows[7].PasswordHash, "secret2"))
}
