// Package change holds the structured change model shared by the producer
// and the consumer: operations, transactions and the paged batch artifact
// that travels through the broker.
package change

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type Kind string

const (
	Insert Kind = "insert"
	Update Kind = "update"
	Delete Kind = "delete"
)

func (k Kind) IsValid() bool {
	return k == Insert || k == Update || k == Delete
}

func ParseKind(s string) (Kind, error) {
	switch s {
	case "INSERT", "insert":
		return Insert, nil
	case "UPDATE", "update":
		return Update, nil
	case "DELETE", "delete":
		return Delete, nil
	}
	return "", fmt.Errorf("unknown operation kind %q", s)
}

type Value struct {
	Value any    `json:"value"`
	Name  string `json:"name"`
	Type  string `json:"type"`
}

type Operation struct {
	Schema   string  `json:"schema_name"`
	Table    string  `json:"table_name"`
	Kind     Kind    `json:"operation"`
	Columns  []Value `json:"columns"`
	Sequence int64   `json:"sequence"`
}

func (o *Operation) Identity() string {
	return o.Schema + "." + o.Table
}

type Transaction struct {
	XID        string
	CommitLSN  string
	Operations []Operation
}

type Page struct {
	Operations []Operation `json:"operations"`
	Index      int         `json:"page_index"`
	Size       int         `json:"page_size"`
}

type Batch struct {
	SourceDatabaseType string `json:"source_database_type"`
	TransactionID      string `json:"transaction_id"`
	Pages              []Page `json:"pages"`
	TotalChangeCount   int    `json:"total_change_count"`
	CreatedAt          int64  `json:"created_at"`
}

// NewBatch slices ops into pages of at most pageSize operations.
func NewBatch(databaseType, transactionID string, ops []Operation, pageSize int, now time.Time) *Batch {
	return &Batch{
		SourceDatabaseType: databaseType,
		TransactionID:      transactionID,
		TotalChangeCount:   len(ops),
		CreatedAt:          now.Unix(),
		Pages:              Paginate(ops, pageSize),
	}
}

func Paginate(ops []Operation, pageSize int) []Page {
	chunks := chunkWithSize(ops, pageSize)
	pages := make([]Page, 0, len(chunks))
	for i, chunk := range chunks {
		pages = append(pages, Page{Index: i, Size: len(chunk), Operations: chunk})
	}
	return pages
}

func chunkWithSize[T any](slice []T, chunkSize int) [][]T {
	if chunkSize <= 0 {
		chunkSize = len(slice)
	}
	if len(slice) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(slice)+chunkSize-1)/chunkSize)
	for i := 0; i < len(slice); i += chunkSize {
		end := min(i+chunkSize, len(slice))
		chunks = append(chunks, slice[i:end:end])
	}
	return chunks
}

// Split returns one envelope per page. Every envelope keeps the batch
// metadata so a consumer can process pages independently.
func (b *Batch) Split() []*Batch {
	out := make([]*Batch, 0, len(b.Pages))
	for _, p := range b.Pages {
		out = append(out, &Batch{
			SourceDatabaseType: b.SourceDatabaseType,
			TransactionID:      b.TransactionID,
			TotalChangeCount:   b.TotalChangeCount,
			CreatedAt:          b.CreatedAt,
			Pages:              []Page{p},
		})
	}
	return out
}

func (b *Batch) Operations() []Operation {
	var n int
	for i := range b.Pages {
		n += len(b.Pages[i].Operations)
	}
	ops := make([]Operation, 0, n)
	for i := range b.Pages {
		ops = append(ops, b.Pages[i].Operations...)
	}
	return ops
}

func Encode(b *Batch) ([]byte, error) {
	return json.Marshal(b)
}

// Decode keeps numbers as json.Number so bigint values survive the trip.
func Decode(data []byte) (*Batch, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var b Batch
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("decode change batch: %w", err)
	}
	for i := range b.Pages {
		for j := range b.Pages[i].Operations {
			if !b.Pages[i].Operations[j].Kind.IsValid() {
				return nil, fmt.Errorf("decode change batch: page %d: unknown operation %q",
					b.Pages[i].Index, b.Pages[i].Operations[j].Kind)
			}
		}
	}
	return &b, nil
}
