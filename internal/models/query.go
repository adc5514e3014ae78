package models

import "fmt"

// DefaultTopK is the number of chunks retrieved when a request does not specify one.
const DefaultTopK = 5

// maxTopK bounds the number of chunks a single request may retrieve.
const maxTopK = 100

// QueryRequest is the input for retrieve and ask operations.
type QueryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
	// Template overrides the configured prompt template (ask only).
	Template string `json:"template,omitempty"`
}

// Validate ensures the request has a question and normalizes TopK.
func (q *QueryRequest) Validate() error {
	if q.Question == "" {
		return fmt.Errorf("question cannot be empty")
	}
	if q.TopK <= 0 {
		q.TopK = DefaultTopK
	}
	if q.TopK > maxTopK {
		q.TopK = maxTopK
	}
	return nil
}
