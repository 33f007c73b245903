package response

import (
	"encoding/json"
	"net/http"
)

// JSON renders v as a JSON body
func JSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// Raw writes an already encoded JSON document
func Raw(w http.ResponseWriter, statusCode int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	w.Write(body)
}

// RawList writes encoded documents as a JSON array
func RawList(w http.ResponseWriter, statusCode int, docs [][]byte) {
	items := make([]json.RawMessage, len(docs))
	for i, d := range docs {
		items[i] = d
	}
	JSON(w, statusCode, items)
}
