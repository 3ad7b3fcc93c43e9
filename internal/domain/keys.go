package domain

// KeyPrefix namespaces every key this service writes into the KV store.
// Overridden once at startup from storage.key_prefix.
var KeyPrefix = "cceval:"
