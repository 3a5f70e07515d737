package operation

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/profile-sync-engine/internal/apierr"
	"github.com/example/profile-sync-engine/internal/types"
	"github.com/example/profile-sync-engine/internal/version"
)

// maxBodyBytes bounds operation bodies; they carry ids and small payloads,
// never bulk data.
const maxBodyBytes = 64 << 10

// HTTPHandler exposes the operation service on
// POST /api/game/profile/{accountId}/client/{operation}?profileId=X&rvn=N.
// Secondary sub-document baselines ride in rvn.{profileId} query parameters.
type HTTPHandler struct {
	svc    *Service
	logger zerolog.Logger
}

// NewHTTPHandler builds the handler.
func NewHTTPHandler(svc *Service, logger zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 6 || parts[0] != "api" || parts[1] != "game" || parts[2] != "profile" || parts[4] != "client" {
		http.NotFound(w, r)
		return
	}
	accountID := types.AccountID(parts[3])
	operation := parts[5]

	query := r.URL.Query()
	profileID := types.ProfileID(query.Get("profileId"))
	if profileID == "" {
		h.writeError(w, apierr.ValidationFailed("profileId query parameter is required"))
		return
	}

	// Absent rvn means the client has no baseline and wants a snapshot.
	clientRevision := int64(-1)
	if raw := query.Get("rvn"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, apierr.ValidationFailed("rvn must be an integer"))
			return
		}
		clientRevision = parsed
	}

	var profileRevisions map[types.ProfileID]int64
	for key, values := range query {
		if !strings.HasPrefix(key, "rvn.") || len(values) == 0 {
			continue
		}
		parsed, err := strconv.ParseInt(values[0], 10, 64)
		if err != nil {
			h.writeError(w, apierr.ValidationFailed("%s must be an integer", key))
			return
		}
		if profileRevisions == nil {
			profileRevisions = make(map[types.ProfileID]int64)
		}
		profileRevisions[types.ProfileID(strings.TrimPrefix(key, "rvn."))] = parsed
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, apierr.ValidationFailed("failed to read request body"))
		return
	}

	resp, err := h.svc.Execute(r.Context(), Request{
		AccountID:        accountID,
		ProfileID:        profileID,
		Operation:        operation,
		ClientRevision:   clientRevision,
		ProfileRevisions: profileRevisions,
		Body:             body,
		Version:          version.Resolve(r.Header.Get("User-Agent")),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error().Err(err).Str("operation", operation).Msg("failed to encode operation response")
	}
}

// errorBody is the wire shape of every error response.
type errorBody struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	apiErr := apierr.From(err)
	if !apierr.IsBusiness(apiErr) {
		h.logger.Error().Err(err).Msg("operation failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	_ = json.NewEncoder(w).Encode(errorBody{ErrorCode: apiErr.Code, ErrorMessage: apiErr.Message})
}
