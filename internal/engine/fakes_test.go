package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/KennXion/follow-swarm/internal/models"
)

// In-memory store fakes. The engine is constructed against the store
// interfaces, so tests run entirely without a database.

type fakeUsers struct {
	mu    sync.Mutex
	users map[int64]*models.User
}

func newFakeUsers(users ...*models.User) *fakeUsers {
	f := &fakeUsers{users: make(map[int64]*models.User)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) IncrementFollowsGiven(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.TotalFollowsGiven++
	}
	return nil
}

type fakeRecords struct {
	mu      sync.Mutex
	records map[string]*models.FollowRecord
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: make(map[string]*models.FollowRecord)}
}

func (f *fakeRecords) add(rec models.FollowRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := rec
	f.records[rec.ID] = &cp
}

func (f *fakeRecords) Create(_ context.Context, record *models.FollowRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *record
	f.records[record.ID] = &cp
	return nil
}

func (f *fakeRecords) Update(_ context.Context, record *models.FollowRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *record
	f.records[record.ID] = &cp
	return nil
}

func (f *fakeRecords) FindActive(_ context.Context, userID, artistID int64) (*models.FollowRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.UserID == userID && r.ArtistID == artistID && r.CountsTowardQuota() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRecords) CountInWindow(_ context.Context, userID int64, from, to time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.records {
		if r.UserID == userID && r.CountsTowardQuota() &&
			!r.CreatedAt.Before(from) && r.CreatedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (f *fakeRecords) History(_ context.Context, userID int64, since time.Time, limit int) ([]models.FollowRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.FollowRecord
	for _, r := range f.records {
		if r.UserID == userID && (since.IsZero() || !r.CreatedAt.Before(since)) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRecords) StatusCounts(_ context.Context, userID int64, since time.Time) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int64)
	for _, r := range f.records {
		if r.UserID == userID && (since.IsZero() || !r.CreatedAt.Before(since)) {
			counts[r.Status]++
		}
	}
	return counts, nil
}

func (f *fakeRecords) byStatus(status string) []models.FollowRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.FollowRecord
	for _, r := range f.records {
		if r.Status == status {
			out = append(out, *r)
		}
	}
	return out
}

type fakeArtists struct {
	mu      sync.Mutex
	artists []models.Artist
	records *fakeRecords
}

func newFakeArtists(records *fakeRecords, artists ...models.Artist) *fakeArtists {
	return &fakeArtists{artists: artists, records: records}
}

func (f *fakeArtists) GetByID(_ context.Context, id int64) (*models.Artist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.artists {
		if a.ID == id {
			cp := a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeArtists) GetByIDs(_ context.Context, ids []int64) ([]models.Artist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Artist
	for _, id := range ids {
		for _, a := range f.artists {
			if a.ID == id {
				out = append(out, a)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeArtists) Candidates(ctx context.Context, userID int64, limit int) ([]models.Artist, error) {
	f.mu.Lock()
	artists := make([]models.Artist, len(f.artists))
	copy(artists, f.artists)
	f.mu.Unlock()

	sort.Slice(artists, func(i, j int) bool {
		if artists[i].Popularity != artists[j].Popularity {
			return artists[i].Popularity > artists[j].Popularity
		}
		return artists[i].ID < artists[j].ID
	})

	var out []models.Artist
	for _, a := range artists {
		if len(out) >= limit {
			break
		}
		existing, _ := f.records.FindActive(ctx, userID, a.ID)
		if existing != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

type fakeJobs struct {
	mu        sync.Mutex
	jobs      map[string]*models.QueueJob
	failBatch error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[string]*models.QueueJob)}
}

func (f *fakeJobs) GetByID(_ context.Context, id string) (*models.QueueJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobs) Create(_ context.Context, job *models.QueueJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeJobs) CreateBatch(_ context.Context, jobs []models.QueueJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failBatch != nil {
		return f.failBatch
	}
	for i := range jobs {
		cp := jobs[i]
		f.jobs[cp.ID] = &cp
	}
	return nil
}

func (f *fakeJobs) Update(_ context.Context, job *models.QueueJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeJobs) PromoteDue(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, j := range f.jobs {
		if j.Status == models.JobStatusScheduled && !j.ScheduledAt.After(now) {
			j.Status = models.JobStatusQueued
			n++
		}
	}
	return n, nil
}

func (f *fakeJobs) ClaimNext(_ context.Context, now time.Time) (*models.QueueJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var next *models.QueueJob
	for _, j := range f.jobs {
		if j.Status != models.JobStatusQueued || j.ScheduledAt.After(now) {
			continue
		}
		if next == nil ||
			j.Priority > next.Priority ||
			(j.Priority == next.Priority && j.ScheduledAt.Before(next.ScheduledAt)) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}
	next.Status = models.JobStatusActive
	next.Attempts++
	next.StartedAt.Time = now
	next.StartedAt.Valid = true
	cp := *next
	return &cp, nil
}

func (f *fakeJobs) CancelIfPending(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || !j.Cancellable() {
		return false, nil
	}
	j.Status = models.JobStatusCancelled
	return true, nil
}

func (f *fakeJobs) CancelUser(_ context.Context, userID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, j := range f.jobs {
		if j.UserID == userID && j.Cancellable() {
			j.Status = models.JobStatusCancelled
			n++
		}
	}
	return n, nil
}

func (f *fakeJobs) ListByUser(_ context.Context, userID int64, statuses []string, limit int) ([]models.QueueJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	match := func(status string) bool {
		if len(statuses) == 0 {
			return true
		}
		for _, s := range statuses {
			if s == status {
				return true
			}
		}
		return false
	}
	var out []models.QueueJob
	for _, j := range f.jobs {
		if j.UserID == userID && match(j.Status) {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeStats struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newFakeStats() *fakeStats {
	return &fakeStats{counts: make(map[string]int64)}
}

func statKey(userID int64, date time.Time) string {
	return fmt.Sprintf("%d|%s", userID, date.Format("2006-01-02"))
}

func (f *fakeStats) Increment(_ context.Context, userID int64, date time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[statKey(userID, date)]++
	return nil
}

func (f *fakeStats) Range(_ context.Context, userID int64, since time.Time) ([]models.DailyStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DailyStat
	for key, n := range f.counts {
		var uid int64
		var day string
		if _, err := fmt.Sscanf(key, "%d|%s", &uid, &day); err != nil {
			continue
		}
		if uid != userID {
			continue
		}
		date, err := time.Parse("2006-01-02", day)
		if err != nil {
			continue
		}
		if !since.IsZero() && date.Before(since) {
			continue
		}
		out = append(out, models.DailyStat{UserID: uid, Date: date, FollowsCount: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

type fakeTokens struct {
	token string
	err   error
}

func (f *fakeTokens) AccessToken(context.Context, int64) (string, error) {
	return f.token, f.err
}

type fakeFollowClient struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *fakeFollowClient) Follow(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if f.calls < len(f.errs) {
		err = f.errs[f.calls]
	}
	f.calls++
	return err
}

func (f *fakeFollowClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
