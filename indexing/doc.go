// Package indexing holds the single-document embedding job shared by lazy
// embedding at query time and forced re-embedding.
//
// A job moves a claimed document from "embedding" to "embedded" or "failed".
// Records are written with the document's current access attributes and
// re-checked once written, so an access change that races the job is never
// lost and a document deleted mid-job leaves no records behind.
package indexing
