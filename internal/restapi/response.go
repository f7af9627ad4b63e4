package restapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Klingon-tech/klingindex/internal/errkind"
	"github.com/Klingon-tech/klingindex/internal/log"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.RestAPI.Error().Err(err).Msg("encode response")
	}
}

// errorStatus maps the errkind taxonomy to an HTTP status, per spec.md
// §7's error kinds: NotFound is a plain 404, TooPopular a 413 (the
// request would force too large a response), everything else a 500 —
// a client-facing caller never needs to distinguish Connection from
// Internal.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, errkind.NotFound):
		return http.StatusNotFound
	case errors.Is(err, errkind.TooPopular):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), map[string]string{"error": err.Error()})
}

func parseHash(w http.ResponseWriter, s string) (types.Hash, bool) {
	h, err := types.HexToHash(s)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid hash: " + err.Error()})
		return types.Hash{}, false
	}
	return h, true
}
