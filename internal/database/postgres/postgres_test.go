//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/presenceapp/presence/internal/config"
	"github.com/presenceapp/presence/internal/database"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

func testEmbedding(seed float32) []float32 {
	emb := make([]float32, 512)
	for i := range emb {
		emb[i] = seed * float32(i) / 512.0
	}
	return emb
}

func TestTrainingRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewTrainingRepository(pool)

	t.Run("EmptyProject", func(t *testing.T) {
		gallery, err := repo.LoadGallery(ctx, "u1", "p1")
		if err != nil {
			t.Fatalf("LoadGallery failed: %v", err)
		}
		if len(gallery) != 0 {
			t.Errorf("expected empty gallery, got %d entries", len(gallery))
		}

		quality, err := repo.LoadQuality(ctx, "u1", "p1")
		if err != nil {
			t.Fatalf("LoadQuality failed: %v", err)
		}
		if quality != nil {
			t.Errorf("expected nil quality report, got %+v", quality)
		}
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		samples := []database.TrainingSample{
			{Name: "Alice", Embedding: testEmbedding(1), Dim: 512},
			{Name: "Alice", Embedding: testEmbedding(0.9), Dim: 512},
			{Name: "Bob", Embedding: testEmbedding(-1), Dim: 512},
		}
		gallery := []database.IdentityEmbedding{
			{Name: "Alice", Embedding: testEmbedding(0.95), Dim: 512},
			{Name: "Bob", Embedding: testEmbedding(-1), Dim: 512},
		}
		quality := database.StoredQuality{
			Identities:       2,
			Samples:          3,
			IntraClass:       0.9,
			InterClass:       0.2,
			Separation:       0.7,
			Accuracy:         99.9,
			Precision:        100,
			OptimalThreshold: 0.5,
			CreatedAt:        time.Now().UTC(),
		}

		if err := repo.SaveTrainingRun(ctx, "u1", "p1", samples, gallery, quality); err != nil {
			t.Fatalf("SaveTrainingRun failed: %v", err)
		}

		loaded, err := repo.LoadGallery(ctx, "u1", "p1")
		if err != nil {
			t.Fatalf("LoadGallery failed: %v", err)
		}
		if len(loaded) != 2 {
			t.Fatalf("expected 2 gallery entries, got %d", len(loaded))
		}
		if len(loaded["Alice"]) != 512 {
			t.Errorf("expected 512-dim embedding, got %d", len(loaded["Alice"]))
		}

		q, err := repo.LoadQuality(ctx, "u1", "p1")
		if err != nil {
			t.Fatalf("LoadQuality failed: %v", err)
		}
		if q == nil {
			t.Fatal("expected quality report, got nil")
		}
		if q.OptimalThreshold != 0.5 {
			t.Errorf("threshold = %v, want 0.5", q.OptimalThreshold)
		}

		loadedSamples, err := repo.LoadSamples(ctx, "u1", "p1")
		if err != nil {
			t.Fatalf("LoadSamples failed: %v", err)
		}
		if len(loadedSamples) != 3 {
			t.Errorf("expected 3 samples, got %d", len(loadedSamples))
		}
	})

	t.Run("RetrainReplaces", func(t *testing.T) {
		gallery := []database.IdentityEmbedding{
			{Name: "Carol", Embedding: testEmbedding(0.5), Dim: 512},
		}
		quality := database.StoredQuality{Identities: 1, Samples: 1, OptimalThreshold: 0.38, CreatedAt: time.Now().UTC()}
		samples := []database.TrainingSample{
			{Name: "Carol", Embedding: testEmbedding(0.5), Dim: 512},
		}

		if err := repo.SaveTrainingRun(ctx, "u1", "p1", samples, gallery, quality); err != nil {
			t.Fatalf("SaveTrainingRun failed: %v", err)
		}

		loaded, err := repo.LoadGallery(ctx, "u1", "p1")
		if err != nil {
			t.Fatalf("LoadGallery failed: %v", err)
		}
		if len(loaded) != 1 {
			t.Errorf("retrain should replace the gallery, got %d entries", len(loaded))
		}
		if _, ok := loaded["Carol"]; !ok {
			t.Error("expected Carol in retrained gallery")
		}
	})
}

func TestAttendanceRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewAttendanceRepository(pool)

	t.Run("Roster", func(t *testing.T) {
		if err := repo.SaveRoster(ctx, "u1", "p1", []string{"Jan Novák", "Alice"}); err != nil {
			t.Fatalf("SaveRoster failed: %v", err)
		}

		entries, err := repo.LoadRoster(ctx, "u1", "p1")
		if err != nil {
			t.Fatalf("LoadRoster failed: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("expected 2 roster entries, got %d", len(entries))
		}
		// Ordered by name.
		if entries[0].Name != "Alice" {
			t.Errorf("first entry = %q, want Alice", entries[0].Name)
		}
		if entries[1].NormalizedName != "jan novak" {
			t.Errorf("normalized name = %q, want 'jan novak'", entries[1].NormalizedName)
		}
	})

	t.Run("MarkOncePerPeriod", func(t *testing.T) {
		mark := database.Mark{
			ID:       uuid.NewString(),
			Name:     "Alice",
			Period:   "2025-03-10",
			MarkedAt: time.Now().UTC(),
		}

		marked, err := repo.IsMarked(ctx, "u1", "p1", "Alice", "2025-03-10")
		if err != nil {
			t.Fatalf("IsMarked failed: %v", err)
		}
		if marked {
			t.Error("expected not marked before RecordMark")
		}

		if err := repo.RecordMark(ctx, "u1", "p1", mark); err != nil {
			t.Fatalf("RecordMark failed: %v", err)
		}

		// A second write for the same (name, period) is a no-op.
		dup := mark
		dup.ID = uuid.NewString()
		if err := repo.RecordMark(ctx, "u1", "p1", dup); err != nil {
			t.Fatalf("duplicate RecordMark failed: %v", err)
		}

		marked, err = repo.IsMarked(ctx, "u1", "p1", "Alice", "2025-03-10")
		if err != nil {
			t.Fatalf("IsMarked failed: %v", err)
		}
		if !marked {
			t.Error("expected marked after RecordMark")
		}

		var count int
		err = pool.QueryRow(ctx, "SELECT COUNT(*) FROM attendance_marks WHERE name = 'Alice'").Scan(&count)
		if err != nil {
			t.Fatalf("count query failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected exactly 1 persisted mark, got %d", count)
		}
	})
}
