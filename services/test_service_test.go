package services

import (
	"context"
	"errors"
	"testing"

	"knoweasy/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCache struct {
	stored      map[uint]*PublicTest
	hits, sets  int
	invalidated []uint
}

func newCountingCache() *countingCache {
	return &countingCache{stored: map[uint]*PublicTest{}}
}

func (c *countingCache) GetPublicTest(_ context.Context, id uint) (*PublicTest, bool) {
	t, ok := c.stored[id]
	if ok {
		c.hits++
	}
	return t, ok
}

func (c *countingCache) SetPublicTest(_ context.Context, t *PublicTest) {
	c.sets++
	c.stored[t.ID] = t
}

func (c *countingCache) Invalidate(_ context.Context, id uint) {
	c.invalidated = append(c.invalidated, id)
	delete(c.stored, id)
}

func TestTestService_CreateTestValidation(t *testing.T) {
	svc := NewTestService(openTestDB(t), nil)
	ctx := context.Background()

	cases := map[string]*CreateTestRequest{
		"missing title":        {Title: "  "},
		"negative time limit":  {Title: "T", TimeLimitSec: intPtr(-5)},
		"bad correct option":   {Title: "T", Questions: []QuestionRequest{question(1, "E", 1, 0)}},
		"negative marks":       {Title: "T", Questions: []QuestionRequest{question(1, "A", -1, 0)}},
		"negative penalty":     {Title: "T", Questions: []QuestionRequest{question(1, "A", 1, -1)}},
		"missing option text":  {Title: "T", Questions: []QuestionRequest{func() QuestionRequest { q := question(1, "A", 1, 0); q.OptionC = ""; return q }()}},
		"missing question no.": {Title: "T", Questions: []QuestionRequest{question(0, "A", 1, 0)}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateTest(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	t.Run("duplicate question numbers", func(t *testing.T) {
		_, err := svc.CreateTest(ctx, &CreateTestRequest{
			Title:     "T",
			Questions: []QuestionRequest{question(1, "A", 1, 0), question(1, "B", 1, 0)},
		})
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestTestService_CreateNormalizesInput(t *testing.T) {
	svc := NewTestService(openTestDB(t), nil)

	q := question(1, " b ", 0, 0)
	test, err := svc.CreateTest(context.Background(), &CreateTestRequest{
		Title:        "  Decimals ",
		TimeLimitSec: intPtr(0),
		Questions:    []QuestionRequest{q},
	})
	require.NoError(t, err)

	assert.Equal(t, "Decimals", test.Title)
	assert.Nil(t, test.TimeLimitSec, "zero limit means no limit")
	assert.False(t, test.IsPublished)
	require.Len(t, test.Questions, 1)
	assert.Equal(t, "B", test.Questions[0].CorrectOption)
	assert.Equal(t, 1, test.Questions[0].Marks, "marks default to one")
}

func TestTestService_PublishSetsTotalMarks(t *testing.T) {
	env := newTestEnv(t, defaultPolicy())
	ctx := context.Background()

	test, err := env.tests.CreateTest(ctx, &CreateTestRequest{
		Title:     "Algebra",
		Questions: []QuestionRequest{question(1, "A", 2, 0), question(2, "B", 3, 1)},
	})
	require.NoError(t, err)

	_, err = env.tests.AddQuestion(ctx, test.ID, ptr(question(3, "C", 4, 1)))
	require.NoError(t, err)

	_, err = env.tests.AddQuestion(ctx, test.ID, ptr(question(2, "D", 1, 0)))
	assert.ErrorIs(t, err, ErrConflict)

	published, err := env.tests.PublishTest(ctx, test.ID)
	require.NoError(t, err)
	assert.True(t, published.IsPublished)
	assert.Equal(t, 9, published.TotalMarks)
	assert.Len(t, published.Questions, 3)

	again, err := env.tests.PublishTest(ctx, test.ID)
	require.NoError(t, err)
	assert.Equal(t, published.TotalMarks, again.TotalMarks)

	_, err = env.tests.AddQuestion(ctx, test.ID, ptr(question(4, "A", 1, 0)))
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = env.tests.PublishTest(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTestService_CorrectQuestion(t *testing.T) {
	db := openTestDB(t)
	cache := newCountingCache()
	svc := NewTestService(db, cache)
	ctx := context.Background()

	test, err := svc.CreateTest(ctx, &CreateTestRequest{
		Title:     "Geometry",
		Questions: []QuestionRequest{question(1, "A", 2, 0)},
	})
	require.NoError(t, err)
	_, err = svc.PublishTest(ctx, test.ID)
	require.NoError(t, err)

	fixed := question(1, "c", 5, 2)
	fixed.Explanation = strPtr("Angles in a triangle add up to 180.")
	updated, err := svc.CorrectQuestion(ctx, test.ID, &fixed)
	require.NoError(t, err)
	assert.Equal(t, "C", updated.CorrectOption)
	assert.Equal(t, 5, updated.Marks)
	require.NotNil(t, updated.Explanation)

	_, err = svc.CorrectQuestion(ctx, test.ID, ptr(question(2, "B", 1, 0)))
	require.NoError(t, err)

	reloaded, err := svc.GetTest(ctx, test.ID)
	require.NoError(t, err)
	assert.Len(t, reloaded.Questions, 2)
	assert.Equal(t, 6, reloaded.TotalMarks)
	assert.Contains(t, cache.invalidated, test.ID)

	_, err = svc.CorrectQuestion(ctx, 4242, ptr(question(1, "A", 1, 0)))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTestService_GetPublishedTest(t *testing.T) {
	db := openTestDB(t)
	cache := newCountingCache()
	svc := NewTestService(db, cache)
	ctx := context.Background()

	draft, err := svc.CreateTest(ctx, &CreateTestRequest{
		Title:     "Draft",
		Questions: []QuestionRequest{question(1, "A", 1, 0)},
	})
	require.NoError(t, err)

	_, err = svc.GetPublishedTest(ctx, draft.ID)
	assert.ErrorIs(t, err, ErrNotFound, "drafts are invisible to students")

	_, err = svc.PublishTest(ctx, draft.ID)
	require.NoError(t, err)

	public, err := svc.GetPublishedTest(ctx, draft.ID)
	require.NoError(t, err)
	require.Len(t, public.Questions, 1)
	assert.Equal(t, "alpha", public.Questions[0].OptionA)
	assert.Equal(t, 1, cache.sets)

	_, err = svc.GetPublishedTest(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)
}

func TestTestService_ListCatalog(t *testing.T) {
	svc := NewTestService(openTestDB(t), nil)
	ctx := context.Background()

	create := func(title string, cls int, subject string, publish bool) {
		test, err := svc.CreateTest(ctx, &CreateTestRequest{Title: title, Cls: intPtr(cls), Board: "CBSE", SubjectSlug: subject})
		require.NoError(t, err)
		if publish {
			_, err = svc.PublishTest(ctx, test.ID)
			require.NoError(t, err)
		}
	}
	create("Maths 5", 5, "maths", true)
	create("Science 5", 5, "science", true)
	create("Maths 6", 6, "maths", true)
	create("Hidden", 5, "maths", false)

	all, err := svc.ListCatalog(ctx, CatalogFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	filtered, err := svc.ListCatalog(ctx, CatalogFilter{Cls: intPtr(5), Subject: "maths"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Maths 5", filtered[0].Title)

	none, err := svc.ListCatalog(ctx, CatalogFilter{Board: "ICSE"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTestService_DeleteCascades(t *testing.T) {
	env := newTestEnv(t, defaultPolicy())
	ctx := context.Background()

	test := env.publishedTest(t, nil, question(1, "A", 1, 0))
	attempt, err := env.attempts.StartAttempt(ctx, 7, test.ID)
	require.NoError(t, err)
	_, err = env.attempts.RecordAnswer(ctx, attempt.ID, env.questionIDs(t, test.ID)[1], strPtr("A"))
	require.NoError(t, err)

	require.NoError(t, env.tests.DeleteTest(ctx, test.ID))

	var count int64
	require.NoError(t, env.db.Model(&models.Question{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, env.db.Model(&models.Attempt{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, env.db.Model(&models.Answer{}).Count(&count).Error)
	assert.Zero(t, count)

	err = env.tests.DeleteTest(ctx, test.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func ptr[T any](v T) *T { return &v }
