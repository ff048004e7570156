package outgoing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/edihub/edi-backend/pkg/db"
	"github.com/edihub/edi-backend/pkg/db/models"
	"github.com/edihub/edi-backend/pkg/enums"
	"github.com/edihub/edi-backend/pkg/logger"
	"github.com/edihub/edi-backend/pkg/outbox"
	"github.com/edihub/edi-backend/pkg/storage"
	"github.com/edihub/edi-backend/pkg/storage/memory"
)

const outgoingSchema = `
CREATE TABLE actor_message_queues (
  id TEXT PRIMARY KEY,
  actor_number TEXT NOT NULL,
  actor_role TEXT NOT NULL,
  created_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX ux_actor_message_queues_actor ON actor_message_queues (actor_number, actor_role);

CREATE TABLE bundles (
  id TEXT PRIMARY KEY,
  actor_message_queue_id TEXT NOT NULL REFERENCES actor_message_queues(id),
  document_type TEXT NOT NULL,
  business_reason TEXT NOT NULL,
  message_category TEXT NOT NULL,
  related_to_message_id TEXT,
  message_id TEXT NOT NULL UNIQUE,
  message_count INTEGER NOT NULL DEFAULT 0,
  max_message_count INTEGER NOT NULL,
  document_reference TEXT,
  created_at DATETIME NOT NULL,
  closed_at DATETIME,
  peeked_at DATETIME,
  dequeued_at DATETIME,
  CHECK (message_count <= max_message_count)
);
CREATE UNIQUE INDEX ux_bundles_open_key ON bundles (
  actor_message_queue_id,
  document_type,
  business_reason,
  COALESCE(related_to_message_id, '00000000-0000-0000-0000-000000000000')
) WHERE closed_at IS NULL;

CREATE TABLE outgoing_messages (
  id TEXT PRIMARY KEY,
  document_type TEXT NOT NULL,
  receiver_number TEXT NOT NULL,
  receiver_role TEXT NOT NULL,
  sender_number TEXT NOT NULL,
  sender_role TEXT NOT NULL,
  business_reason TEXT NOT NULL,
  process_id TEXT NOT NULL,
  related_to_message_id TEXT,
  file_storage_reference TEXT NOT NULL,
  assigned_bundle_id TEXT REFERENCES bundles(id),
  created_at DATETIME NOT NULL
);

CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME NOT NULL,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);
`

var (
	gridOperator  = Actor{Number: "5790000000001", Role: enums.ActorRoleGridAccessProvider}
	supplier      = Actor{Number: "5790001330552", Role: enums.ActorRoleEnergySupplier}
	otherSupplier = Actor{Number: "5790001330569", Role: enums.ActorRoleEnergySupplier}
	dataHub       = Actor{Number: "5790001330583", Role: enums.ActorRoleDataHubAdministrator}
)

// fixture wires the outgoing services over an in-memory sqlite database.
type fixture struct {
	conn     *gorm.DB
	repo     Repository
	pipeline *Pipeline
	store    *memory.Store
	logg     *logger.Logger
	policy   Policy
	clock    *testClock
	enqueuer *Enqueuer
	bundler  *Bundler
	delivery *Delivery
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.Exec(outgoingSchema).Error)
	return conn
}

type fixtureOptions struct {
	wrap  func(Repository) Repository
	store storage.Store
}

func newFixture(t *testing.T, policy Policy) *fixture {
	return newFixtureWith(t, policy, fixtureOptions{})
}

func newFixtureWith(t *testing.T, policy Policy, opts fixtureOptions) *fixture {
	t.Helper()
	conn := openTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "outgoing-test", Output: io.Discard})
	repo := NewRepository(conn)
	txRepo := repo
	if opts.wrap != nil {
		txRepo = opts.wrap(repo)
	}
	events := outbox.NewService(outbox.NewRepository(conn), logg)
	pipeline := NewPipeline(db.NewFromConn(conn), txRepo, events, LoggingMiddleware(logg))

	f := &fixture{
		conn:     conn,
		repo:     repo,
		pipeline: pipeline,
		store:    memory.New(),
		logg:     logg,
		policy:   policy,
		clock:    &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	var store storage.Store = f.store
	if opts.store != nil {
		store = opts.store
	}

	enqueuer, err := NewEnqueuer(EnqueuerParams{
		Pipeline:       pipeline,
		Storage:        store,
		Policy:         policy,
		Logger:         logg,
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  2 * time.Millisecond,
	})
	require.NoError(t, err)
	enqueuer.now = f.clock.Now
	f.enqueuer = enqueuer

	bundler, err := NewBundler(BundlerParams{Pipeline: pipeline, Policy: policy, Logger: logg, BatchSize: 10})
	require.NoError(t, err)
	f.bundler = bundler

	codes, err := enums.NewCodeTables()
	require.NoError(t, err)
	delivery, err := NewDelivery(DeliveryParams{
		Pipeline:            pipeline,
		Repository:          repo,
		Storage:             store,
		Writer:              NewJSONDocumentWriter(codes),
		Logger:              logg,
		DownloadConcurrency: 2,
	})
	require.NoError(t, err)
	delivery.now = f.clock.Now
	f.delivery = delivery
	return f
}

func defaultPolicy() Policy {
	return Policy{
		Window:          5 * time.Minute,
		MaxMessageCount: 2,
		AssignOnEnqueue: true,
	}
}

func aggregationRequest(content string) EnqueueRequest {
	return EnqueueRequest{
		DocumentType:   enums.DocumentNotifyAggregatedMeasureData,
		Receiver:       supplier,
		Sender:         dataHub,
		BusinessReason: enums.BusinessReasonBalanceFixing,
		ProcessID:      uuid.New(),
		Content:        []byte(content),
	}
}

// enqueue records a message and advances the clock so creation times are distinct.
func (f *fixture) enqueue(t *testing.T, req EnqueueRequest) uuid.UUID {
	t.Helper()
	id, err := f.enqueuer.Enqueue(context.Background(), req)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return id
}

func (f *fixture) countRows(t *testing.T, table, where string, args ...any) int64 {
	t.Helper()
	var count int64
	query := f.conn.Table(table)
	if where != "" {
		query = query.Where(where, args...)
	}
	require.NoError(t, query.Count(&count).Error)
	return count
}

func (f *fixture) countEvents(t *testing.T, eventType enums.OutboxEventType) int64 {
	return f.countRows(t, "outbox_events", "event_type = ?", eventType)
}

// flakyRepo fails CreateBundle with a conflict a fixed number of times.
type flakyRepo struct {
	Repository
	state *flakyState
}

type flakyState struct {
	mu        sync.Mutex
	conflicts int
	calls     int
}

func flaky(conflicts int) (fixtureOptions, *flakyState) {
	state := &flakyState{conflicts: conflicts}
	wrap := func(inner Repository) Repository {
		return &flakyRepo{Repository: inner, state: state}
	}
	return fixtureOptions{wrap: wrap}, state
}

func (r *flakyRepo) WithTx(tx *gorm.DB) Repository {
	return &flakyRepo{Repository: r.Repository.WithTx(tx), state: r.state}
}

func (r *flakyRepo) CreateBundle(ctx context.Context, bundle *models.Bundle) error {
	r.state.mu.Lock()
	r.state.calls++
	fail := r.state.calls <= r.state.conflicts
	r.state.mu.Unlock()
	if fail {
		return fmt.Errorf("%w: simulated", ErrOpenBundleConflict)
	}
	return r.Repository.CreateBundle(ctx, bundle)
}

var errStorageDown = errors.New("storage unavailable")

// failingStore wraps the memory store and fails uploads on demand.
type failingStore struct {
	*memory.Store
	failUpload bool
}

func (s *failingStore) Upload(ctx context.Context, category enums.FileStorageCategory, reference string, content []byte) error {
	if s.failUpload {
		return errStorageDown
	}
	return s.Store.Upload(ctx, category, reference, content)
}

// stampHook runs inside the mark-peeked transaction, before the stamp, with
// the transaction's repository.
type stampHook func(ctx context.Context, repo Repository, bundleID uuid.UUID, reference string) error

type hookRepo struct {
	Repository
	beforeStamp stampHook
}

func withStampHook(hook stampHook) fixtureOptions {
	wrap := func(inner Repository) Repository {
		return &hookRepo{Repository: inner, beforeStamp: hook}
	}
	return fixtureOptions{wrap: wrap}
}

func (r *hookRepo) WithTx(tx *gorm.DB) Repository {
	return &hookRepo{Repository: r.Repository.WithTx(tx), beforeStamp: r.beforeStamp}
}

func (r *hookRepo) MarkPeeked(ctx context.Context, bundleID uuid.UUID, reference string, now time.Time) (bool, error) {
	if err := r.beforeStamp(ctx, r.Repository, bundleID, reference); err != nil {
		return false, err
	}
	return r.Repository.MarkPeeked(ctx, bundleID, reference, now)
}

// cancelingStore cancels the peek's context when the rendered document is
// uploaded, as if the caller went away mid-peek.
type cancelingStore struct {
	*memory.Store
	mu     sync.Mutex
	cancel context.CancelFunc
}

func (s *cancelingStore) Upload(ctx context.Context, category enums.FileStorageCategory, reference string, content []byte) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil && category == enums.FileStorageBundleDocument {
		cancel()
		return ctx.Err()
	}
	return s.Store.Upload(ctx, category, reference, content)
}

func (s *cancelingStore) cancelOnDocumentUpload(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
}
