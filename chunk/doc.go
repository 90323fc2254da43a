// Package chunk splits extracted document text into passages for embedding.
//
// Passage boundaries follow paragraph and sentence breaks and never fall
// inside a word, except for words longer than the maximum passage size.
// Every passage records its byte span in the source text, and the spans of a
// document cover all of its non-whitespace text.
package chunk
