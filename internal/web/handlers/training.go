package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/presenceapp/presence/internal/database"
	"github.com/presenceapp/presence/internal/recognition"
)

// Defaults for the confusable-identities diagnostic.
const (
	defaultConfusionNeighbors   = 5
	defaultConfusionMaxDistance = 0.4
)

// TrainingHandler persists training runs and serves training diagnostics.
type TrainingHandler struct {
	store      database.TrainingWriter
	attendance database.AttendanceStore
	dim        int
}

// NewTrainingHandler creates a training handler. dim is the expected
// embedding dimensionality.
func NewTrainingHandler(store database.TrainingWriter, attendance database.AttendanceStore, dim int) *TrainingHandler {
	return &TrainingHandler{store: store, attendance: attendance, dim: dim}
}

// trainingIdentity is one person's per-image embeddings in a training upload.
type trainingIdentity struct {
	Name       string      `json:"name"`
	Embeddings [][]float32 `json:"embeddings"`
}

type saveEmbeddingsRequest struct {
	Identities []trainingIdentity `json:"identities"`
}

type saveEmbeddingsResponse struct {
	Identities int                `json:"identities"`
	Samples    int                `json:"samples"`
	Dropped    int                `json:"dropped"`
	Quality    recognition.Report `json:"quality"`
}

// SaveEmbeddings stores a complete training run: the per-image samples, the
// per-identity mean gallery, the quality report, and the project roster
// derived from the trained identity names. Embeddings with the wrong
// dimension are dropped and logged, never fatal.
func (h *TrainingHandler) SaveEmbeddings(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	project := chi.URLParam(r, "project")

	var req saveEmbeddingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(req.Identities) == 0 {
		respondError(w, http.StatusBadRequest, "no identities provided")
		return
	}

	now := time.Now().UTC()
	grouped := make(map[string][][]float32, len(req.Identities))
	var samples []database.TrainingSample
	var names []string
	dropped := 0

	for _, identity := range req.Identities {
		if identity.Name == "" {
			respondError(w, http.StatusBadRequest, "identity with empty name")
			return
		}
		for _, emb := range identity.Embeddings {
			if len(emb) != h.dim {
				log.Printf("Training %s/%s: dropping %q sample with dimension %d, expected %d",
					sanitizeForLog(user), sanitizeForLog(project), sanitizeForLog(identity.Name), len(emb), h.dim)
				dropped++
				continue
			}
			grouped[identity.Name] = append(grouped[identity.Name], emb)
			samples = append(samples, database.TrainingSample{
				Name:      identity.Name,
				Embedding: emb,
				Dim:       h.dim,
				CreatedAt: now,
			})
		}
		names = append(names, identity.Name)
	}

	if len(samples) == 0 {
		respondError(w, http.StatusBadRequest, "no valid embeddings provided")
		return
	}

	gallery := make([]database.IdentityEmbedding, 0, len(grouped))
	for name, embs := range grouped {
		mean := recognition.MeanEmbedding(embs)
		if mean == nil {
			continue
		}
		gallery = append(gallery, database.IdentityEmbedding{
			Name:      name,
			Embedding: mean,
			Dim:       h.dim,
			CreatedAt: now,
		})
	}

	report := recognition.EstimateQuality(grouped)
	stored := database.StoredQuality{
		Identities:       report.Identities,
		Samples:          report.Samples,
		IntraClass:       report.IntraClass,
		InterClass:       report.InterClass,
		Separation:       report.Separation,
		Accuracy:         report.Accuracy,
		Precision:        report.Precision,
		OptimalThreshold: report.OptimalThreshold,
		CreatedAt:        report.CreatedAt,
	}

	if err := h.store.SaveTrainingRun(r.Context(), user, project, samples, gallery, stored); err != nil {
		log.Printf("Training %s/%s: save failed: %v", sanitizeForLog(user), sanitizeForLog(project), err)
		respondError(w, http.StatusInternalServerError, "failed to save training run")
		return
	}

	// Trained identities become the markable roster for the project.
	if err := h.attendance.SaveRoster(r.Context(), user, project, names); err != nil {
		log.Printf("Training %s/%s: roster save failed: %v", sanitizeForLog(user), sanitizeForLog(project), err)
		respondError(w, http.StatusInternalServerError, "failed to save roster")
		return
	}

	respondJSON(w, http.StatusOK, saveEmbeddingsResponse{
		Identities: len(grouped),
		Samples:    len(samples),
		Dropped:    dropped,
		Quality:    report,
	})
}

// GetQuality returns the latest stored quality report for the project.
func (h *TrainingHandler) GetQuality(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	project := chi.URLParam(r, "project")

	stored, err := h.store.LoadQuality(r.Context(), user, project)
	if err != nil {
		log.Printf("Quality %s/%s: load failed: %v", sanitizeForLog(user), sanitizeForLog(project), err)
		respondError(w, http.StatusInternalServerError, "failed to load quality report")
		return
	}
	if stored == nil {
		respondError(w, http.StatusNotFound, "no quality report for project")
		return
	}

	respondJSON(w, http.StatusOK, recognition.Report{
		Identities:       stored.Identities,
		Samples:          stored.Samples,
		IntraClass:       stored.IntraClass,
		InterClass:       stored.InterClass,
		Separation:       stored.Separation,
		Accuracy:         stored.Accuracy,
		Precision:        stored.Precision,
		OptimalThreshold: stored.OptimalThreshold,
		CreatedAt:        stored.CreatedAt,
	})
}

type confusionsResponse struct {
	Samples    int                  `json:"samples"`
	Confusions []database.Confusion `json:"confusions"`
}

// GetConfusions builds an in-memory nearest-neighbor index over the project's
// training samples and reports cross-identity sample pairs that sit closer
// than the distance cutoff. These pairs predict runtime misidentification.
func (h *TrainingHandler) GetConfusions(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	project := chi.URLParam(r, "project")

	k := defaultConfusionNeighbors
	if v := r.URL.Query().Get("neighbors"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			k = n
		}
	}
	maxDistance := defaultConfusionMaxDistance
	if v := r.URL.Query().Get("max_distance"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			maxDistance = f
		}
	}

	samples, err := h.store.LoadSamples(r.Context(), user, project)
	if err != nil {
		log.Printf("Confusions %s/%s: load failed: %v", sanitizeForLog(user), sanitizeForLog(project), err)
		respondError(w, http.StatusInternalServerError, "failed to load training samples")
		return
	}
	if len(samples) == 0 {
		respondError(w, http.StatusNotFound, "no training samples for project")
		return
	}

	index := database.NewSampleIndex()
	if err := index.Build(samples); err != nil {
		log.Printf("Confusions %s/%s: index build failed: %v", sanitizeForLog(user), sanitizeForLog(project), err)
		respondError(w, http.StatusInternalServerError, "failed to build sample index")
		return
	}

	confusions, err := index.Confusions(k, maxDistance)
	if err != nil {
		log.Printf("Confusions %s/%s: scan failed: %v", sanitizeForLog(user), sanitizeForLog(project), err)
		respondError(w, http.StatusInternalServerError, "failed to scan for confusions")
		return
	}
	if confusions == nil {
		confusions = []database.Confusion{}
	}

	respondJSON(w, http.StatusOK, confusionsResponse{
		Samples:    index.Count(),
		Confusions: confusions,
	})
}
