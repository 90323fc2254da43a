// Package lexical implements the BM25 ranker over document metadata and the
// tokenizer shared by keyword matching.
//
// The ranker picks which unembedded documents a query should embed, and it
// supplies the lexical leg of the hybrid score for documents that are
// already embedded. Documents without metadata simply score zero.
package lexical
