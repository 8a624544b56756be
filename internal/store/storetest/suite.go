// Package storetest is a compliance suite every store.Store implementation
// must pass.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabwarden/tabwarden/internal/model"
	"github.com/tabwarden/tabwarden/internal/store"
)

// Run exercises the suite against a store. makeStore should return a clean,
// isolated store; subject ids are random so a shared database is fine.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()
	s := makeStore(t)

	t.Run("Subjects", func(t *testing.T) { testSubjects(t, s) })
	t.Run("UsageAccumulation", func(t *testing.T) { testUsage(t, s) })
	t.Run("SearchSet", func(t *testing.T) { testSearches(t, s) })
	t.Run("Activity", func(t *testing.T) { testActivity(t, s) })
	t.Run("Alerts", func(t *testing.T) { testAlerts(t, s) })
	t.Run("Blocks", func(t *testing.T) { testBlocks(t, s) })
	t.Run("UnknownSubject", func(t *testing.T) { testUnknownSubject(t, s) })
	t.Run("ConcurrentAccumulation", func(t *testing.T) { testConcurrent(t, s) })
}

func newSubject(t *testing.T, s store.Store) string {
	t.Helper()
	id := "kid-" + uuid.NewString()
	created, err := s.Subjects().Create(context.Background(), &model.Subject{
		SubjectID:    id,
		Connectivity: model.Offline,
		CreationTime: base(),
	})
	require.NoError(t, err)
	require.Equal(t, id, created.SubjectID)
	return id
}

func base() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

func testSubjects(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := newSubject(t, s)

	_, err := s.Subjects().Create(ctx, &model.Subject{SubjectID: id, Connectivity: model.Offline})
	assert.ErrorIs(t, err, model.ErrConflict)

	got, err := s.Subjects().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.Offline, got.Connectivity)
	assert.Nil(t, got.LastHeartbeat)
	assert.True(t, got.CreationTime.Equal(base()))

	hb := base().Add(time.Minute)
	require.NoError(t, s.Subjects().SetConnectivity(ctx, id, model.Online, hb, true))
	got, err = s.Subjects().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.Online, got.Connectivity)
	require.NotNil(t, got.LastHeartbeat)
	assert.True(t, got.LastHeartbeat.Equal(hb))

	off := hb.Add(time.Minute)
	require.NoError(t, s.Subjects().SetConnectivity(ctx, id, model.Offline, off, false))
	got, err = s.Subjects().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.Offline, got.Connectivity)
	require.NotNil(t, got.LastHeartbeat)
	assert.True(t, got.LastHeartbeat.Equal(hb), "disconnect must not touch LastHeartbeat")
	require.NotNil(t, got.LastSeen)
	assert.True(t, got.LastSeen.Equal(off))
}

func testUsage(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := newSubject(t, s)
	day1, day2 := "2025-06-01", "2025-06-02"

	for _, secs := range []int64{60, 15, 45} {
		require.NoError(t, s.Usage().AddSeconds(ctx, model.UsageIncrement{
			SubjectID: id, Domain: "example.com", Day: day1, Seconds: secs, At: base(),
		}))
	}
	require.NoError(t, s.Usage().AddSeconds(ctx, model.UsageIncrement{
		SubjectID: id, Domain: "example.com", Day: day2, Seconds: 7, At: base().Add(24 * time.Hour),
	}))
	require.NoError(t, s.Usage().AddSeconds(ctx, model.UsageIncrement{
		SubjectID: id, Domain: "alpha.example", Day: day1, Seconds: 1, At: base(),
	}))

	recs, err := s.Usage().List(ctx, id)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "alpha.example", recs[0].Domain)
	ex := recs[1]
	assert.Equal(t, "example.com", ex.Domain)
	assert.Equal(t, model.DefaultCategory, ex.Category)
	assert.Equal(t, int64(120), ex.Total(day1))
	assert.Equal(t, int64(7), ex.Total(day2))
	assert.True(t, ex.LastUpdated.Equal(base().Add(24*time.Hour)))

	require.NoError(t, s.Usage().SetCategory(ctx, id, "example.com", "education"))
	assert.ErrorIs(t, s.Usage().SetCategory(ctx, id, "missing.example", "games"), model.ErrNotFound)

	// Category survives further reports.
	require.NoError(t, s.Usage().AddSeconds(ctx, model.UsageIncrement{
		SubjectID: id, Domain: "example.com", Day: day2, Seconds: 3, At: base().Add(25 * time.Hour),
	}))
	recs, err = s.Usage().List(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "education", recs[1].Category)
	assert.Equal(t, int64(120), recs[1].Total(day1))
	assert.Equal(t, int64(10), recs[1].Total(day2))
}

func testSearches(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := newSubject(t, s)

	add := func(q string) bool {
		ok, err := s.Usage().AddSearch(ctx, model.SearchInsert{SubjectID: id, Domain: "google.com", Query: q, At: base()})
		require.NoError(t, err)
		return ok
	}
	assert.True(t, add("chess"))
	assert.False(t, add("chess"))
	assert.True(t, add("Chess"))
	assert.True(t, add("rooks"))
	assert.False(t, add("rooks"))

	recs, err := s.Usage().List(ctx, id)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"chess", "Chess", "rooks"}, recs[0].Searches)
	assert.Equal(t, model.DefaultCategory, recs[0].Category)
	assert.Empty(t, recs[0].Daily)
}

func testActivity(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := newSubject(t, s)
	t0 := base()

	must := func(err error) { require.NoError(t, err) }
	must(s.Usage().AddSeconds(ctx, model.UsageIncrement{SubjectID: id, Domain: "a.example", Day: "2025-06-01", Seconds: 10, At: t0}))
	must(s.Usage().AddSeconds(ctx, model.UsageIncrement{SubjectID: id, Domain: "b.example", Day: "2025-06-01", Seconds: 20, At: t0.Add(2 * time.Minute)}))
	_, err := s.Usage().AddSearch(ctx, model.SearchInsert{SubjectID: id, Domain: "google.com", Query: "x", At: t0.Add(time.Minute)})
	must(err)
	// Same timestamp as the previous search: insertion order breaks the tie.
	must(s.Usage().AddSeconds(ctx, model.UsageIncrement{SubjectID: id, Domain: "c.example", Day: "2025-06-01", Seconds: 30, At: t0.Add(time.Minute)}))
	// Duplicate search adds no activity.
	_, err = s.Usage().AddSearch(ctx, model.SearchInsert{SubjectID: id, Domain: "google.com", Query: "x", At: t0.Add(3 * time.Minute)})
	must(err)

	items, err := s.Usage().Activity(ctx, id, model.Timeframe{})
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, "b.example", items[0].Domain)
	assert.Equal(t, model.ActivitySearch, items[1].Kind)
	assert.Equal(t, "x", items[1].Query)
	assert.Equal(t, "c.example", items[2].Domain)
	assert.Equal(t, int64(30), items[2].Seconds)
	assert.Equal(t, "a.example", items[3].Domain)
	for i := 1; i < len(items); i++ {
		assert.False(t, items[i].Timestamp.After(items[i-1].Timestamp))
	}

	items, err = s.Usage().Activity(ctx, id, model.Timeframe{Since: t0.Add(time.Minute), Until: t0.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, model.ActivitySearch, items[0].Kind)
	assert.Equal(t, "c.example", items[1].Domain)
}

func testAlerts(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := newSubject(t, s)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.Alerts().Append(ctx, &model.IncognitoAlert{
			AlertID: uuid.NewString(), SubjectID: id, URL: "http://x", Timestamp: base().Add(time.Duration(i) * time.Second),
		}))
	}
	list, err := s.Alerts().List(ctx, id)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].Timestamp.Before(list[1].Timestamp))
	assert.Equal(t, "http://x", list[1].URL)

	n, err := s.Alerts().Clear(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = s.Alerts().Clear(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	list, err = s.Alerts().List(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testBlocks(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := newSubject(t, s)

	require.NoError(t, s.Blocks().Add(ctx, id, "bad.example"))
	require.NoError(t, s.Blocks().Add(ctx, id, "bad.example"))
	require.NoError(t, s.Blocks().Add(ctx, id, "awful.example"))
	ok, err := s.Blocks().Contains(ctx, id, "bad.example")
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := s.Blocks().List(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"awful.example", "bad.example"}, list)

	require.NoError(t, s.Blocks().Remove(ctx, id, "bad.example"))
	require.NoError(t, s.Blocks().Remove(ctx, id, "bad.example"))
	ok, err = s.Blocks().Contains(ctx, id, "bad.example")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testUnknownSubject(t *testing.T, s store.Store) {
	ctx := context.Background()
	ghost := "ghost-" + uuid.NewString()

	_, err := s.Subjects().Get(ctx, ghost)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, s.Subjects().SetConnectivity(ctx, ghost, model.Online, base(), true), model.ErrNotFound)
	assert.ErrorIs(t, s.Usage().AddSeconds(ctx, model.UsageIncrement{SubjectID: ghost, Domain: "a", Day: "2025-06-01", Seconds: 1, At: base()}), model.ErrNotFound)
	_, err = s.Usage().AddSearch(ctx, model.SearchInsert{SubjectID: ghost, Domain: "a", Query: "q", At: base()})
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, s.Alerts().Append(ctx, &model.IncognitoAlert{AlertID: uuid.NewString(), SubjectID: ghost, URL: "u", Timestamp: base()}), model.ErrNotFound)
	assert.ErrorIs(t, s.Blocks().Add(ctx, ghost, "a"), model.ErrNotFound)
}

func testConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := newSubject(t, s)
	const workers, perWorker = 8, 25

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				errs <- s.Usage().AddSeconds(ctx, model.UsageIncrement{
					SubjectID: id, Domain: "example.com", Day: "2025-06-01", Seconds: 2, At: base(),
				})
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	recs, err := s.Usage().List(ctx, id)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(workers*perWorker*2), recs[0].Total("2025-06-01"))
}
