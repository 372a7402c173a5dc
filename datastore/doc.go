// Package datastore describes the native side of dynorm: the schemaless
// document store the relational layer is translated onto.
//
// A store holds [Entity] records grouped by kind and addressed by a [Key]
// whose identity is either a numeric id or a string name. Property values
// are restricted to a small set of native types:
//
//	nil, bool, int64, float64, string, Text, Blob, time.Time, Key, []any
//
// string values are short and indexed; [Text] and [Blob] values are stored
// but never indexed, so no filter can match them. Equality filters against
// a list property match when any element matches, which is what lets the
// mapper store discriminator lists and special index columns as lists.
//
// Three implementations of [Datastore] exist: the DynamoDB store in package
// store, the bbolt store in package boltstore, and [Memory], used by tests.
package datastore
