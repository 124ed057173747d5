package handlers

import (
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/photo-dedup/internal/cluster"
	"github.com/kozaktomas/photo-dedup/internal/constants"
	"github.com/kozaktomas/photo-dedup/internal/database"
)

// BucketResponse is one group of near-duplicate images.
type BucketResponse struct {
	Representative int64           `json:"representative"`
	Members        []ImageResponse `json:"members"`
}

// BucketsResponse lists all buckets for a threshold.
type BucketsResponse struct {
	Threshold int              `json:"threshold"`
	Images    int              `json:"images"`
	Count     int              `json:"count"`
	Buckets   []BucketResponse `json:"buckets"`
}

// BucketsHandler clusters stored fingerprints on demand.
type BucketsHandler struct {
	reader           database.ImageReader
	defaultThreshold int
	log              logrus.FieldLogger
}

// NewBucketsHandler creates a new buckets handler
func NewBucketsHandler(reader database.ImageReader, defaultThreshold int, log logrus.FieldLogger) *BucketsHandler {
	return &BucketsHandler{reader: reader, defaultThreshold: defaultThreshold, log: log}
}

// List clusters all records with the ?threshold= distance (or the default).
func (h *BucketsHandler) List(w http.ResponseWriter, r *http.Request) {
	threshold := h.defaultThreshold
	if s := r.URL.Query().Get("threshold"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 || v > constants.MaxThreshold {
			respondError(w, http.StatusBadRequest, "threshold must be an integer between 0 and 64")
			return
		}
		threshold = v
	}

	records, err := database.CollectRecords(r.Context(), h.reader)
	if err != nil {
		h.log.WithError(err).Error("failed to load records")
		respondError(w, http.StatusInternalServerError, "failed to load records")
		return
	}

	byID := make(map[int64]database.ImageRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	buckets := cluster.Cluster(cluster.FromRecords(records), threshold)
	resp := BucketsResponse{
		Threshold: threshold,
		Images:    len(records),
		Count:     len(buckets),
		Buckets:   make([]BucketResponse, 0, len(buckets)),
	}
	for _, b := range buckets {
		br := BucketResponse{Representative: b.Representative, Members: make([]ImageResponse, 0, len(b.Members))}
		for _, id := range b.Members {
			br.Members = append(br.Members, toImageResponse(byID[id]))
		}
		resp.Buckets = append(resp.Buckets, br)
	}
	respondJSON(w, http.StatusOK, resp)
}
