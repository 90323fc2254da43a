// Package reembed rebuilds the embedding records of stored documents in
// bulk, for example after switching embedding models.
package reembed
