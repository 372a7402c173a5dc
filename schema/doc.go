// Package schema resolves model declarations into an immutable registry.
//
// Declarations name their field types the way the framework does
// (CharField, DecimalField, ForeignKey, ...). [Builder.Build] maps each name
// onto a closed set of [LogicalType] values and rejects unknown names, so
// nothing downstream inspects field types dynamically.
//
// # Inheritance
//
// A model may name a parent. Abstract parents only contribute fields.
// Concrete parents form a chain whose records share the root's store kind
// and carry the chain's tables in the [DiscriminatorColumn] list, so a query
// against the root also sees child records. Chains are precomputed per
// model; at most two concrete levels are supported and deeper hierarchies
// fail to build.
//
// Schemas can be declared in Go or loaded from YAML with [LoadYAML]:
//
//	app: shop
//	models:
//	  - name: Customer
//	    fields:
//	      - {name: email, type: EmailField, unique: true, indexes: [iexact]}
//	  - name: VIPCustomer
//	    parent: Customer
//	    fields:
//	      - {name: tier, type: IntegerField}
package schema
