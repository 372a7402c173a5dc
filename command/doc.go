// Package command runs relational intents against a document store.
//
// The framework's query compiler hands over a [Query]: a predicate tree,
// an alias map describing joins, the requested columns, ordering and
// paging. [NewSelect] translates it into a single-kind datastore query,
// rewriting what the store cannot express natively:
//
//   - lookups with a registered special index filter the derived column
//   - constraints on a joined primary key move onto the foreign key column
//   - queries on a subclass filter on the discriminator list
//   - string primary keys are clamped exactly as they are on write
//
// Query shapes that cannot be expressed fail with fault.ErrNotSupported,
// or fault.ErrCouldBeSupported when the gap is one that could be closed.
//
// [Insert], [Update], [Delete] and [Flush] are built the same way. Every
// command is single use: it moves from Constructed to Translated when it is
// built and to Executed on its one call to Execute.
package command
