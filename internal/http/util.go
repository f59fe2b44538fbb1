package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

// clampHours 将 hours 限制在 [1, max]
func clampHours(s string, def, max int) int {
	h := parseInt(s, def)
	if h < 1 {
		return 1
	}
	if h > max {
		return max
	}
	return h
}

func methodAllowed(w http.ResponseWriter, req *http.Request, method string) bool {
	if req.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}
