// Package ogm is the change-tracking and backend-dispatch core of the object/grid mapper.
//
// Application code reads a record or an association through a Dialect, mutates the returned
// Tuple or Association (Put, Remove, Clear), and hands it back to the same Dialect, which
// translates the accumulated operations into backend-native statements. Tuples and
// Associations overlay their pending operations on a read-only snapshot; they never
// touch the backend and never copy the backend's data.
//
// Concrete dialects live in subpackages: cassandra (wide-column, the reference adapter),
// redis (distributed key-value grid), bolt (embedded key-value) and dynamodb (document store).
// The cache subpackage holds the bounded, single-flight statement cache they share. The config
// subpackage opens one dialect from a YAML file and scan composes filters and rate limits
// over ForEachTuple.
package ogm

// Consistency model
//
// A Dialect upsert may issue more than one native statement (for example clearing columns
// then setting others). Such sequences are not atomic across statements; a crash in between
// leaves partial state which the layer above recovers by retrying the unit of work
// (see Retry). Not-found is a result, not an error: GetTuple and GetAssociation return nil.
