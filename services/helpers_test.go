package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"knoweasy/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var baseTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// openTestDB returns a private in-memory database with the schema applied.
// A single connection serializes transactions the way row locks would.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db))
	return db
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: baseTime}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordedEvent struct {
	attemptID uint
	eventType string
	payload   interface{}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *fakePublisher) Publish(attemptID uint, eventType string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{attemptID, eventType, payload})
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.eventType)
	}
	return out
}

func question(qno int, correct string, marks, negative int) QuestionRequest {
	return QuestionRequest{
		Qno:           qno,
		QuestionText:  fmt.Sprintf("Question %d", qno),
		OptionA:       "alpha",
		OptionB:       "beta",
		OptionC:       "gamma",
		OptionD:       "delta",
		CorrectOption: correct,
		Marks:         marks,
		NegativeMarks: negative,
	}
}

func intPtr(v int) *int { return &v }

func strPtr(s string) *string { return &s }

// testEnv wires the services over one database and clock.
type testEnv struct {
	db       *gorm.DB
	clock    *fakeClock
	tests    *TestService
	attempts *AttemptService
	events   *fakePublisher
}

func newTestEnv(t *testing.T, policy AttemptPolicy) *testEnv {
	t.Helper()
	db := openTestDB(t)
	clock := newFakeClock()
	events := &fakePublisher{}
	return &testEnv{
		db:       db,
		clock:    clock,
		tests:    NewTestService(db, nil, WithTestClock(clock.Now)),
		attempts: NewAttemptService(db, policy, WithClock(clock.Now), WithPublisher(events)),
		events:   events,
	}
}

func defaultPolicy() AttemptPolicy {
	return AttemptPolicy{IncludeLateQuestions: true}
}

// publishedTest creates and publishes a test with the given questions.
func (e *testEnv) publishedTest(t *testing.T, limitSec *int, questions ...QuestionRequest) *models.Test {
	t.Helper()
	test, err := e.tests.CreateTest(context.Background(), &CreateTestRequest{
		Title:        "Fractions",
		Cls:          intPtr(5),
		Board:        "CBSE",
		SubjectSlug:  "maths",
		ChapterSlug:  "fractions",
		TimeLimitSec: limitSec,
		Questions:    questions,
	})
	require.NoError(t, err)
	test, err = e.tests.PublishTest(context.Background(), test.ID)
	require.NoError(t, err)
	return test
}

func (e *testEnv) questionIDs(t *testing.T, testID uint) map[int]uint {
	t.Helper()
	var qs []models.Question
	require.NoError(t, e.db.Where("test_id = ?", testID).Find(&qs).Error)
	out := make(map[int]uint, len(qs))
	for _, q := range qs {
		out[q.Qno] = q.ID
	}
	return out
}
