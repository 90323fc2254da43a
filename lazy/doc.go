// Package lazy defers embedding until a query makes a document worth it.
//
// For each query, the Trigger takes the documents the requester may see,
// keeps the ones without usable embeddings, ranks them by how well their
// metadata matches the query and embeds the best few on a bounded worker
// pool before the search runs. A candidate that fails or hangs is skipped;
// the query proceeds with whatever was embedded in time.
package lazy
