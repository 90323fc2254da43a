// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package storage

import (
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/clearance/core"
)

// Encoding versions written as the first byte of every value.
const (
	documentFormatV1 = 1
	recordFormatV1   = 1
)

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, varint.Uint64.Size(uint64(id)))
	varint.Uint64.Marshal(uint64(id), buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	v, _, err := varint.Uint64.Unmarshal(data)
	return core.ID(v), err
}

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) []byte {
	w := &writer{}
	w.fields = func(w *writer) { writeDocument(w, doc) }
	return w.encode()
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	r := &reader{bs: data}
	if v := r.byte(); r.err == nil && v != documentFormatV1 {
		return nil, fmt.Errorf("%w: unknown document format %d", ErrSerializationFailed, v)
	}
	doc := &core.Document{}
	doc.Id = core.ID(r.uint64())
	doc.Title = r.string()
	n := r.length()
	if n > 0 {
		doc.Keywords = make([]string, 0, n)
	}
	for i := 0; i < n && r.err == nil; i++ {
		doc.Keywords = append(doc.Keywords, r.string())
	}
	doc.Summary = r.string()
	doc.Text = r.string()
	doc.Access = r.access()
	doc.EmbeddingState = core.EmbeddingState(r.int())
	doc.PassageCount = r.int()
	doc.EmbeddingAttempts = r.int()
	doc.LastEmbeddingError = r.string()
	doc.EmbeddingStartedAt = r.time()
	doc.EmbeddingEndedAt = r.time()
	doc.InsertedAt = r.time()
	doc.UpdatedAt = r.time()
	if r.err != nil {
		return nil, fmt.Errorf("%w: document: %w", ErrSerializationFailed, r.err)
	}
	return doc, nil
}

// MarshalEmbeddingRecord serializes an EmbeddingRecord to bytes.
func MarshalEmbeddingRecord(rec *core.EmbeddingRecord) []byte {
	w := &writer{}
	w.fields = func(w *writer) { writeRecord(w, rec) }
	return w.encode()
}

// UnmarshalEmbeddingRecord deserializes an EmbeddingRecord from bytes.
func UnmarshalEmbeddingRecord(data []byte) (*core.EmbeddingRecord, error) {
	r := &reader{bs: data}
	if v := r.byte(); r.err == nil && v != recordFormatV1 {
		return nil, fmt.Errorf("%w: unknown record format %d", ErrSerializationFailed, v)
	}
	rec := &core.EmbeddingRecord{}
	rec.PassageId = core.ID(r.uint64())
	rec.DocumentId = core.ID(r.uint64())
	rec.Ordinal = r.int()
	rec.Text = r.string()
	rec.Vector = r.vector()
	rec.Access = r.access()
	rec.SyncedAt = r.time()
	if r.err != nil {
		return nil, fmt.Errorf("%w: embedding record: %w", ErrSerializationFailed, r.err)
	}
	return rec, nil
}

// UnmarshalRecordAccess decodes only the leading fields of an embedding record
// up to its access attributes, skipping the vector bytes. Search uses it to
// evaluate the access predicate before paying for a full decode.
func UnmarshalRecordAccess(data []byte) (core.ID, int, core.AccessAttributes, error) {
	r := &reader{bs: data}
	if v := r.byte(); r.err == nil && v != recordFormatV1 {
		return 0, 0, core.AccessAttributes{}, fmt.Errorf("%w: unknown record format %d", ErrSerializationFailed, v)
	}
	r.uint64() // passage id
	docID := core.ID(r.uint64())
	ordinal := r.int()
	r.string() // text
	r.skipVector()
	attrs := r.access()
	if r.err != nil {
		return 0, 0, core.AccessAttributes{}, fmt.Errorf("%w: embedding record: %w", ErrSerializationFailed, r.err)
	}
	return docID, ordinal, attrs, nil
}

func writeDocument(w *writer, doc *core.Document) {
	w.byte(documentFormatV1)
	w.uint64(uint64(doc.Id))
	w.string(doc.Title)
	w.int(len(doc.Keywords))
	for _, kw := range doc.Keywords {
		w.string(kw)
	}
	w.string(doc.Summary)
	w.string(doc.Text)
	w.access(doc.Access)
	w.int(int(doc.EmbeddingState))
	w.int(doc.PassageCount)
	w.int(doc.EmbeddingAttempts)
	w.string(doc.LastEmbeddingError)
	w.time(doc.EmbeddingStartedAt)
	w.time(doc.EmbeddingEndedAt)
	w.time(doc.InsertedAt)
	w.time(doc.UpdatedAt)
}

func writeRecord(w *writer, rec *core.EmbeddingRecord) {
	w.byte(recordFormatV1)
	w.uint64(uint64(rec.PassageId))
	w.uint64(uint64(rec.DocumentId))
	w.int(rec.Ordinal)
	w.string(rec.Text)
	w.vector(rec.Vector)
	w.access(rec.Access)
	w.time(rec.SyncedAt)
}

// writer runs the same field sequence twice: once to size the buffer and
// once to fill it.
type writer struct {
	fields func(w *writer)
	bs     []byte
	n      int
	dry    bool
}

func (w *writer) encode() []byte {
	w.dry = true
	w.fields(w)
	w.bs = make([]byte, w.n)
	w.n = 0
	w.dry = false
	w.fields(w)
	return w.bs
}

func (w *writer) byte(v byte) {
	if !w.dry {
		w.bs[w.n] = v
	}
	w.n++
}

func (w *writer) uint64(v uint64) {
	if w.dry {
		w.n += varint.Uint64.Size(v)
		return
	}
	w.n += varint.Uint64.Marshal(v, w.bs[w.n:])
}

func (w *writer) int(v int) {
	if w.dry {
		w.n += varint.Int.Size(v)
		return
	}
	w.n += varint.Int.Marshal(v, w.bs[w.n:])
}

func (w *writer) int64(v int64) {
	if w.dry {
		w.n += varint.Int64.Size(v)
		return
	}
	w.n += varint.Int64.Marshal(v, w.bs[w.n:])
}

func (w *writer) string(v string) {
	if w.dry {
		w.n += ord.String.Size(v)
		return
	}
	w.n += ord.String.Marshal(v, w.bs[w.n:])
}

func (w *writer) vector(v []float32) {
	w.int(len(v))
	for _, f := range v {
		if w.dry {
			w.n += raw.Float32.Size(f)
			continue
		}
		w.n += raw.Float32.Marshal(f, w.bs[w.n:])
	}
}

func (w *writer) access(a core.AccessAttributes) {
	w.int(int(a.Visibility))
	w.string(a.OwningUnit)
	w.int(int(a.Publication))
	w.string(a.UploaderID)
}

// time writes zero times as 0 so they decode back to the zero value.
func (w *writer) time(t time.Time) {
	if t.IsZero() {
		w.int64(0)
		return
	}
	w.int64(t.UnixMicro())
}

// reader keeps the first error and turns every later read into a no-op.
type reader struct {
	bs  []byte
	n   int
	err error
}

func (r *reader) remaining() []byte {
	return r.bs[r.n:]
}

func (r *reader) byte() byte {
	if r.err != nil {
		return 0
	}
	if r.n >= len(r.bs) {
		r.err = ErrTruncatedData
		return 0
	}
	v := r.bs[r.n]
	r.n++
	return v
}

func (r *reader) uint64() uint64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Uint64.Unmarshal(r.remaining())
	r.n += n
	r.err = err
	return v
}

func (r *reader) int() int {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int.Unmarshal(r.remaining())
	r.n += n
	r.err = err
	return v
}

func (r *reader) int64() int64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(r.remaining())
	r.n += n
	r.err = err
	return v
}

// length reads a collection length and rejects values the buffer cannot hold.
func (r *reader) length() int {
	n := r.int()
	if r.err == nil && (n < 0 || n > len(r.bs)-r.n) {
		r.err = ErrTruncatedData
		return 0
	}
	return n
}

func (r *reader) string() string {
	if r.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(r.remaining())
	r.n += n
	r.err = err
	return v
}

func (r *reader) vector() []float32 {
	count := r.length()
	if r.err != nil || count == 0 {
		return nil
	}
	out := make([]float32, count)
	for i := range out {
		v, n, err := raw.Float32.Unmarshal(r.remaining())
		r.n += n
		if err != nil {
			r.err = err
			return nil
		}
		out[i] = v
	}
	return out
}

func (r *reader) skipVector() {
	count := r.length()
	if r.err != nil {
		return
	}
	if r.n+count*4 > len(r.bs) {
		r.err = ErrTruncatedData
		return
	}
	r.n += count * 4
}

func (r *reader) access() core.AccessAttributes {
	var a core.AccessAttributes
	a.Visibility = core.Visibility(r.int())
	a.OwningUnit = r.string()
	a.Publication = core.PublicationState(r.int())
	a.UploaderID = r.string()
	return a
}

func (r *reader) time() time.Time {
	v := r.int64()
	if v == 0 || r.err != nil {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}
