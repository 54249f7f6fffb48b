// Package core provides the business logic for bulk import and export operations.
//
// This package holds the domain logic of the back-office bulk pipeline,
// independent of any transport or storage. It can be used by web handlers,
// the export scheduler, or tests without modification.
//
// # Architecture
//
// The package is organized around several key concepts:
//
//   - Entity Definitions: Registered via the registry, each entity has
//     validation rules, a unique key, rename aliases and decode hints.
//   - Field Validator / Validation Stage: typed rules evaluated row-major,
//     rule-minor, partitioning rows into valid and invalid.
//   - Batch Processor: sequential fixed-size chunks driven through a
//     [BulkWriter], tolerating failed chunks.
//   - Service: owns operation lifecycles and progress for imports and exports.
//
// # Entity Registry
//
// Entities are registered at init time using [Register]:
//
//	core.Register(EntityDefinition{
//	    Type:      "products",
//	    Label:     "Products",
//	    UniqueKey: []string{"sku"},
//	    Rules: []ValidationRule{
//	        {Field: "sku", Kind: RuleRequired},
//	        {Field: "price", Kind: RuleNumeric, Min: Float(0)},
//	    },
//	})
//
// # Import Flow
//
//  1. Client calls [Service.StartImport] with the raw file bytes
//  2. The tabular codec decodes rows into [Record] values
//  3. Rows are validated against the entity's rules (plus request rules)
//  4. Valid rows are written in chunks of [ImportRequest.ChunkSize]
//  5. Progress is broadcast to subscribers via [Service.Subscribe]
//
// # Error Handling
//
// Row and chunk failures are data: they are counted and listed in the
// progress and summary. Only operation failures (parse errors, or no valid
// rows at all) are returned as errors. Technical errors are mapped to
// user-facing messages using [MapError].
package core
