// Package lifecycle owns the document mutations that affect retrieval and
// keeps the vector store in step with them.
//
// Every embedding record carries a copy of its document's access
// attributes. The Manager changes documents and publishes an Event on a Bus
// for each change; a VectorStoreHandler subscribed to the bus rewrites or
// removes the affected records. Propagation is synchronous unless the bus
// is created with WithAsyncPropagation.
package lifecycle
